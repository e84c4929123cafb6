package wakeup_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/wakeup"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWakeup(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "wakeup Suite")
}

func pollReadable(fd int, timeoutMs int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	Expect(err).ToNot(HaveOccurred())
	return n == 1 && fds[0].Revents&unix.POLLIN != 0
}

var _ = Describe("Wakeup", func() {
	It("is not readable until Request is called", func() {
		w, err := wakeup.New()
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		Expect(pollReadable(w.FD(), 50)).To(BeFalse())
	})

	It("becomes readable after Request and is safe from another goroutine", func() {
		w, err := wakeup.New()
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		go w.Request()

		Eventually(func() bool { return pollReadable(w.FD(), 100) }, time.Second).Should(BeTrue())
	})

	It("Consume drains the counter back to not-readable", func() {
		w, err := wakeup.New()
		Expect(err).ToNot(HaveOccurred())
		defer w.Close()

		w.Request()
		w.Request()
		Expect(pollReadable(w.FD(), 50)).To(BeTrue())

		w.Consume()
		Expect(pollReadable(w.FD(), 50)).To(BeFalse())
	})
})
