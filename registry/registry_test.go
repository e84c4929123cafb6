package registry_test

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/logging"
	"github.com/nabbar/chatd/protocol"
	"github.com/nabbar/chatd/registry"
	"github.com/nabbar/chatd/tlsconn"
	"github.com/nabbar/chatd/wakeup"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "registry Suite")
}

func newRegistry() *registry.Registry {
	w, err := wakeup.New()
	Expect(err).ToNot(HaveOccurred())
	r, err := registry.New(&tlsconn.Context{}, w, logging.New(nil))
	Expect(err).ToNot(HaveOccurred())
	return r
}

func socketpairFDs() (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	Expect(err).ToNot(HaveOccurred())
	return fds[0], fds[1]
}

var _ = Describe("Registry", func() {
	It("register then unregister leaves the connection map empty", func() {
		r := newRegistry()
		fd, peerFD := socketpairFDs()
		defer unix.Close(peerFD)

		r.RequestRegister(fd)
		r.Work()
		Expect(r.Len()).To(Equal(1))

		_, ok := r.Find(fd)
		Expect(ok).To(BeTrue())

		r.RequestUnregister(fd)
		r.Work()
		Expect(r.Len()).To(Equal(0))
	})

	It("maintains the room index per the joined-room set", func() {
		r := newRegistry()
		fd, peerFD := socketpairFDs()
		defer unix.Close(peerFD)

		r.RequestRegister(fd)
		r.Work()

		r.RequestSetJoinedRooms(fd, []string{"1", "2"})
		r.Work()

		conn, _ := r.Find(fd)
		Expect(conn.Rooms).To(HaveKey("1"))
		Expect(conn.Rooms).To(HaveKey("2"))
	})

	It("removes a disconnecting member from the room index", func() {
		r := newRegistry()
		aFD, aPeer := socketpairFDs()
		bFD, bPeer := socketpairFDs()
		defer unix.Close(aPeer)
		defer unix.Close(bPeer)

		r.RequestRegister(aFD)
		r.RequestRegister(bFD)
		r.Work()

		r.RequestSetJoinedRooms(aFD, []string{"1"})
		r.RequestSetJoinedRooms(bFD, []string{"1"})
		r.Work()

		r.RequestUnregister(aFD)
		r.Work()

		r.RequestBroadcast(bFD, protocol.Command{Response: &protocol.Response{Text: "still here"}})
		r.RequestRoomBroadcast(bFD, "1", protocol.Command{Response: &protocol.Response{Text: "hi"}})
		r.Work()

		conn, ok := r.Find(bFD)
		Expect(ok).To(BeTrue())
		Expect(conn.Send.HasPending()).To(BeTrue())
	})

	It("prefixes broadcast response text with the sender's nickname", func() {
		r := newRegistry()
		aFD, aPeer := socketpairFDs()
		bFD, bPeer := socketpairFDs()
		defer unix.Close(aPeer)
		defer unix.Close(bPeer)

		r.RequestRegister(aFD)
		r.RequestRegister(bFD)
		r.Work()

		r.RequestChangeNickname(aFD, "alice")
		r.Work()

		r.RequestBroadcast(aFD, protocol.Command{Response: &protocol.Response{Text: "hello"}})
		r.Work()

		conn, _ := r.Find(bFD)
		Expect(string(conn.Send.CurrentData())).To(ContainSubstring("alice: hello"))
	})

	It("reports friend online status from the user index", func() {
		r := newRegistry()
		fd, peerFD := socketpairFDs()
		defer unix.Close(peerFD)

		r.RequestRegister(fd)
		r.Work()
		r.RequestSetUserID(fd, "alice")
		r.Work()

		Expect(r.IsUserOnline("alice")).To(BeTrue())
		Expect(r.IsUserOnline("bob")).To(BeFalse())

		r.RequestSendFriendList(fd, []registry.FriendStatus{{Name: "bob", Online: false}})
		r.Work()

		conn, _ := r.Find(fd)
		Expect(conn.Send.HasPending()).To(BeTrue())
	})
})
