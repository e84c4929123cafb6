/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package store_test

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"

	"github.com/nabbar/chatd/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "store Suite")
}

func newStore() store.Store {
	s, err := store.OpenDialector(sqlite.Open(":memory:"))
	if err != nil {
		Skip("CGO is required for SQLite integration tests: " + err.Error())
	}
	return s
}

var _ = Describe("GormStore", func() {
	var (
		ctx context.Context
		s   store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = newStore()
	})

	It("pings successfully", func() {
		Expect(s.Ping(ctx)).To(Succeed())
	})

	Describe("accounts", func() {
		It("signs up and logs in with the stored password", func() {
			Expect(s.Signup(ctx, "alice", "hunter2")).To(Succeed())

			nick, ok, err := s.Login(ctx, "alice", "hunter2")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(nick).To(Equal("guest"))
		})

		It("rejects a wrong password without an error", func() {
			Expect(s.Signup(ctx, "bob", "correct")).To(Succeed())

			_, ok, err := s.Login(ctx, "bob", "wrong")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("reports no match for an unknown id", func() {
			_, ok, err := s.Login(ctx, "nobody", "x")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("rejects signing up the same id twice", func() {
			Expect(s.Signup(ctx, "carol", "p1")).To(Succeed())
			Expect(s.Signup(ctx, "carol", "p2")).To(HaveOccurred())
		})

		It("changes nickname", func() {
			Expect(s.Signup(ctx, "dave", "pw")).To(Succeed())
			Expect(s.ChangeNickname(ctx, "dave", "davey")).To(Succeed())

			nick, ok, err := s.Login(ctx, "dave", "pw")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(nick).To(Equal("davey"))
		})
	})

	Describe("friendships", func() {
		BeforeEach(func() {
			Expect(s.Signup(ctx, "alice", "pw")).To(Succeed())
			Expect(s.Signup(ctx, "bob", "pw")).To(Succeed())
		})

		It("tracks a pending request until accepted", func() {
			Expect(s.RequestFriend(ctx, "alice", "bob")).To(Succeed())

			reqs, err := s.ListFriendRequests(ctx, "bob")
			Expect(err).ToNot(HaveOccurred())
			Expect(reqs).To(ConsistOf("alice"))

			friends, err := s.ListFriends(ctx, "alice")
			Expect(err).ToNot(HaveOccurred())
			Expect(friends).To(BeEmpty())

			Expect(s.AcceptFriendRequest(ctx, "bob", "alice")).To(Succeed())

			friends, err = s.ListFriends(ctx, "alice")
			Expect(err).ToNot(HaveOccurred())
			Expect(friends).To(ConsistOf("bob"))

			friends, err = s.ListFriends(ctx, "bob")
			Expect(err).ToNot(HaveOccurred())
			Expect(friends).To(ConsistOf("alice"))
		})

		It("removes a request on reject", func() {
			Expect(s.RequestFriend(ctx, "alice", "bob")).To(Succeed())
			Expect(s.RejectFriendRequest(ctx, "bob", "alice")).To(Succeed())

			reqs, err := s.ListFriendRequests(ctx, "bob")
			Expect(err).ToNot(HaveOccurred())
			Expect(reqs).To(BeEmpty())
		})

		It("removes an accepted friendship from both sides", func() {
			Expect(s.RequestFriend(ctx, "alice", "bob")).To(Succeed())
			Expect(s.AcceptFriendRequest(ctx, "bob", "alice")).To(Succeed())
			Expect(s.RemoveFriend(ctx, "alice", "bob")).To(Succeed())

			friends, err := s.ListFriends(ctx, "alice")
			Expect(err).ToNot(HaveOccurred())
			Expect(friends).To(BeEmpty())
		})
	})

	Describe("rooms", func() {
		BeforeEach(func() {
			Expect(s.Signup(ctx, "owner", "pw")).To(Succeed())
			Expect(s.Signup(ctx, "friend", "pw")).To(Succeed())
		})

		It("creates a room owned by its creator and auto-joins them", func() {
			roomID, err := s.CreateRoom(ctx, "owner", "lobby")
			Expect(err).ToNot(HaveOccurred())
			Expect(roomID).ToNot(BeEmpty())

			rooms, err := s.ListRooms(ctx, "owner")
			Expect(err).ToNot(HaveOccurred())
			Expect(rooms).To(HaveLen(1))
			Expect(rooms[0].Owner).To(Equal("owner"))
			Expect(rooms[0].Members).To(Equal(1))
		})

		It("invites a friend and lets them leave", func() {
			roomID, err := s.CreateRoom(ctx, "owner", "lobby")
			Expect(err).ToNot(HaveOccurred())

			res, err := s.InviteRoom(ctx, "owner", roomID, "friend")
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal(store.InviteOK))

			joined, err := s.JoinedRooms(ctx, "friend")
			Expect(err).ToNot(HaveOccurred())
			Expect(joined).To(ConsistOf(roomID))

			lr, err := s.LeaveRoom(ctx, "friend", roomID)
			Expect(err).ToNot(HaveOccurred())
			Expect(lr).To(Equal(store.LeaveOK))

			joined, err = s.JoinedRooms(ctx, "friend")
			Expect(err).ToNot(HaveOccurred())
			Expect(joined).To(BeEmpty())
		})

		It("rejects an invite from a non-owner", func() {
			roomID, err := s.CreateRoom(ctx, "owner", "lobby")
			Expect(err).ToNot(HaveOccurred())

			res, err := s.InviteRoom(ctx, "friend", roomID, "friend")
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal(store.InviteNotOwner))
		})

		It("reports room not found for an unknown invite target", func() {
			res, err := s.InviteRoom(ctx, "owner", "does-not-exist", "friend")
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal(store.InviteRoomNotFound))
		})

		It("only the owner can delete a room", func() {
			roomID, err := s.CreateRoom(ctx, "owner", "lobby")
			Expect(err).ToNot(HaveOccurred())

			Expect(s.DeleteRoom(ctx, "friend", roomID)).To(HaveOccurred())
			Expect(s.DeleteRoom(ctx, "owner", roomID)).To(Succeed())

			rooms, err := s.ListRooms(ctx, "owner")
			Expect(err).ToNot(HaveOccurred())
			Expect(rooms).To(BeEmpty())
		})
	})

	Describe("messages", func() {
		var roomID string

		BeforeEach(func() {
			Expect(s.Signup(ctx, "owner", "pw")).To(Succeed())
			Expect(s.Signup(ctx, "outsider", "pw")).To(Succeed())
			var err error
			roomID, err = s.CreateRoom(ctx, "owner", "lobby")
			Expect(err).ToNot(HaveOccurred())
		})

		It("persists messages only for members and returns them oldest-first", func() {
			_, member, err := s.CreateRoomMessage(ctx, "outsider", roomID, "hi")
			Expect(err).ToNot(HaveOccurred())
			Expect(member).To(BeFalse())

			_, member, err = s.CreateRoomMessage(ctx, "owner", roomID, "first")
			Expect(err).ToNot(HaveOccurred())
			Expect(member).To(BeTrue())

			_, member, err = s.CreateRoomMessage(ctx, "owner", roomID, "second")
			Expect(err).ToNot(HaveOccurred())
			Expect(member).To(BeTrue())

			entries, member, err := s.ListRoomMessages(ctx, "owner", roomID, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(member).To(BeTrue())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Body).To(Equal("first"))
			Expect(entries[1].Body).To(Equal("second"))
		})

		It("refuses history to a non-member", func() {
			_, member, err := s.ListRoomMessages(ctx, "outsider", roomID, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(member).To(BeFalse())
		})

		It("honors the limit, keeping the most recent entries", func() {
			for _, body := range []string{"a", "b", "c"} {
				_, _, err := s.CreateRoomMessage(ctx, "owner", roomID, body)
				Expect(err).ToNot(HaveOccurred())
			}

			entries, _, err := s.ListRoomMessages(ctx, "owner", roomID, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Body).To(Equal("b"))
			Expect(entries[1].Body).To(Equal("c"))
		})
	})
})
