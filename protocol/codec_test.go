package protocol_test

import (
	"strings"
	"testing"

	"github.com/nabbar/chatd/protocol"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestProtocol(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "protocol Suite")
}

var _ = Describe("Decode", func() {
	It("decodes an all-\\n line to EmptyLine", func() {
		Expect(protocol.Decode([]byte("\n")).EmptyLine).To(BeTrue())
	})

	It("decodes an unknown tag to InvalidTag regardless of argument count", func() {
		cmd := protocol.Decode([]byte("bogus\ra\rb\n"))
		Expect(cmd.InvalidTag).To(Equal(protocol.Tag("bogus")))
	})

	It("decodes say with zero or >=3 args to UnexpectedArgsTag, with exactly two it succeeds", func() {
		Expect(protocol.Decode([]byte("say\n")).UnexpectedArgsTag).To(Equal(protocol.TagSay))
		Expect(protocol.Decode([]byte("say\r1\rhello\rextra\n")).UnexpectedArgsTag).To(Equal(protocol.TagSay))

		cmd := protocol.Decode([]byte("say\r1\rhello\n"))
		Expect(cmd.Say).ToNot(BeNil())
		Expect(cmd.Say.RoomID).To(Equal("1"))
		Expect(cmd.Say.Text).To(Equal("hello"))
	})

	It("treats an embedded \\r in a say body as an extra argument, not an escape", func() {
		cmd := protocol.Decode([]byte("say\r1\rline_with_\r_in_body\n"))
		Expect(cmd.UnexpectedArgsTag).To(Equal(protocol.TagSay))
	})
})

var _ = Describe("Encode/Decode round trip", func() {
	It("round-trips every concrete command variant", func() {
		cases := []protocol.Command{
			{Say: &protocol.Say{RoomID: "1", Text: "hi"}},
			{Nick: &protocol.Nick{Nick: "bob"}},
			{Response: &protocol.Response{Text: "ok"}},
			{Login: &protocol.Login{ID: "a", Password: "p"}},
			{Register: &protocol.Register{ID: "a", Password: "p"}},
			{FriendRequest: &protocol.FriendRequest{To: "bob"}},
			{FriendAccept: &protocol.FriendAccept{From: "bob"}},
			{FriendReject: &protocol.FriendReject{From: "bob"}},
			{FriendRemove: &protocol.FriendRemove{Friend: "bob"}},
			{ListFriend: &protocol.ListFriend{}},
			{ListFriendRequest: &protocol.ListFriendRequest{}},
			{CreateRoom: &protocol.CreateRoom{Name: "lobby"}},
			{DeleteRoom: &protocol.DeleteRoom{RoomID: "1"}},
			{InviteRoom: &protocol.InviteRoom{RoomID: "1", Friend: "bob"}},
			{LeaveRoom: &protocol.LeaveRoom{RoomID: "1"}},
			{ListRoom: &protocol.ListRoom{}},
			{History: &protocol.History{RoomID: "1", Limit: "10"}},
		}

		for _, c := range cases {
			encoded, err := protocol.Encode(c)
			Expect(err).ToNot(HaveOccurred())
			Expect(strings.Count(string(encoded), "\n")).To(Equal(1))
			Expect(encoded[len(encoded)-1]).To(Equal(byte('\n')))

			decoded := protocol.Decode(encoded)
			Expect(decoded.IsDecodeFailure()).To(BeFalse())
			Expect(decoded.Tag()).To(Equal(c.Tag()))

			reencoded, err := protocol.Encode(decoded)
			Expect(err).ToNot(HaveOccurred())
			Expect(reencoded).To(Equal(encoded))
		}
	})

	It("rejects encoding a field containing the record separator", func() {
		_, err := protocol.Encode(protocol.Command{Say: &protocol.Say{RoomID: "1", Text: "a\rb"}})
		Expect(err).To(HaveOccurred())
	})

	It("rejects encoding a field containing the line terminator", func() {
		_, err := protocol.Encode(protocol.Command{Response: &protocol.Response{Text: "a\nb"}})
		Expect(err).To(HaveOccurred())
	})
})
