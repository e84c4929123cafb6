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

package worker_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/logging"
	"github.com/nabbar/chatd/protocol"
	"github.com/nabbar/chatd/registry"
	"github.com/nabbar/chatd/store"
	"github.com/nabbar/chatd/tlsconn"
	"github.com/nabbar/chatd/wakeup"
	"github.com/nabbar/chatd/worker"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeStore implements store.Store with override functions for the
// methods the tests below care about. A method with no override, or a nil
// one, returns no error: CreateRoomMessage and ListRoomMessages report
// membership, InviteRoom and LeaveRoom report their OK result, and the
// rest return zero values.
type fakeStore struct {
	loginFn           func(ctx context.Context, id, password string) (string, bool, error)
	signupFn          func(ctx context.Context, id, password string) error
	changeNicknameFn  func(ctx context.Context, id, nickname string) error
	requestFriendFn   func(ctx context.Context, from, to string) error
	listFriendsFn     func(ctx context.Context, id string) ([]string, error)
	createRoomFn      func(ctx context.Context, ownerID, name string) (string, error)
	deleteRoomFn      func(ctx context.Context, ownerID, roomID string) error
	inviteRoomFn      func(ctx context.Context, inviterID, roomID, friendID string) (store.InviteResult, error)
	leaveRoomFn       func(ctx context.Context, userID, roomID string) (store.LeaveResult, error)
	listRoomsFn       func(ctx context.Context, userID string) ([]store.RoomInfo, error)
	joinedRoomsFn     func(ctx context.Context, userID string) ([]string, error)
	createMessageFn   func(ctx context.Context, senderID, roomID, body string) (string, bool, error)
	listMessagesFn    func(ctx context.Context, callerID, roomID string, limit int) ([]store.HistoryEntry, bool, error)
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) Login(ctx context.Context, id, password string) (string, bool, error) {
	if f.loginFn != nil {
		return f.loginFn(ctx, id, password)
	}
	return "", false, nil
}

func (f *fakeStore) Signup(ctx context.Context, id, password string) error {
	if f.signupFn != nil {
		return f.signupFn(ctx, id, password)
	}
	return nil
}

func (f *fakeStore) ChangeNickname(ctx context.Context, id, nickname string) error {
	if f.changeNicknameFn != nil {
		return f.changeNicknameFn(ctx, id, nickname)
	}
	return nil
}

func (f *fakeStore) RequestFriend(ctx context.Context, from, to string) error {
	if f.requestFriendFn != nil {
		return f.requestFriendFn(ctx, from, to)
	}
	return nil
}

func (f *fakeStore) AcceptFriendRequest(ctx context.Context, id, from string) error { return nil }
func (f *fakeStore) RejectFriendRequest(ctx context.Context, id, from string) error { return nil }
func (f *fakeStore) RemoveFriend(ctx context.Context, id, friend string) error      { return nil }

func (f *fakeStore) ListFriends(ctx context.Context, id string) ([]string, error) {
	if f.listFriendsFn != nil {
		return f.listFriendsFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) ListFriendRequests(ctx context.Context, id string) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) CreateRoom(ctx context.Context, ownerID, name string) (string, error) {
	if f.createRoomFn != nil {
		return f.createRoomFn(ctx, ownerID, name)
	}
	return "", nil
}

func (f *fakeStore) DeleteRoom(ctx context.Context, ownerID, roomID string) error {
	if f.deleteRoomFn != nil {
		return f.deleteRoomFn(ctx, ownerID, roomID)
	}
	return nil
}

func (f *fakeStore) InviteRoom(ctx context.Context, inviterID, roomID, friendID string) (store.InviteResult, error) {
	if f.inviteRoomFn != nil {
		return f.inviteRoomFn(ctx, inviterID, roomID, friendID)
	}
	return store.InviteOK, nil
}

func (f *fakeStore) LeaveRoom(ctx context.Context, userID, roomID string) (store.LeaveResult, error) {
	if f.leaveRoomFn != nil {
		return f.leaveRoomFn(ctx, userID, roomID)
	}
	return store.LeaveOK, nil
}

func (f *fakeStore) ListRooms(ctx context.Context, userID string) ([]store.RoomInfo, error) {
	if f.listRoomsFn != nil {
		return f.listRoomsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) JoinedRooms(ctx context.Context, userID string) ([]string, error) {
	if f.joinedRoomsFn != nil {
		return f.joinedRoomsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) CreateRoomMessage(ctx context.Context, senderID, roomID, body string) (string, bool, error) {
	if f.createMessageFn != nil {
		return f.createMessageFn(ctx, senderID, roomID, body)
	}
	return "", true, nil
}

func (f *fakeStore) ListRoomMessages(ctx context.Context, callerID, roomID string, limit int) ([]store.HistoryEntry, bool, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, callerID, roomID, limit)
	}
	return nil, true, nil
}

// testRig wires a real Registry (backed by a socketpair fd) to a DBPool
// backed by a fakeStore, giving the tests a live FD whose Connection
// state (Nickname, UserID, Send buffer) DBPool's handlers actually
// mutate, the same way registry_test.go exercises Registry directly.
type testRig struct {
	reg  *registry.Registry
	db   *worker.DBPool
	fd   int
	peer int
}

func newRig(st store.Store) *testRig {
	w, err := wakeup.New()
	Expect(err).ToNot(HaveOccurred())
	reg, err := registry.New(&tlsconn.Context{}, w, logging.New(nil))
	Expect(err).ToNot(HaveOccurred())

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	Expect(err).ToNot(HaveOccurred())

	reg.RequestRegister(fds[0])
	reg.Work()

	return &testRig{
		reg:  reg,
		db:   worker.NewDBPool(2, st, logging.New(nil)),
		fd:   fds[0],
		peer: fds[1],
	}
}

func (r *testRig) close() {
	r.db.Stop()
	unix.Close(r.peer)
	r.reg.Close()
}

func (r *testRig) conn() *registry.Connection {
	c, ok := r.reg.Find(r.fd)
	Expect(ok).To(BeTrue())
	return c
}

// responses drains every pending reply line queued to this FD so far,
// decoding each into its text.
func (r *testRig) responses() []string {
	r.reg.Work()
	data := r.conn().Send.CurrentData()
	var texts []string
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		cmd := protocol.Decode([]byte(line))
		if cmd.Response != nil {
			texts = append(texts, cmd.Response.Text)
		}
	}
	return texts
}

func (r *testRig) submitAndWait(cmd protocol.Command) []string {
	Expect(r.db.Submit(worker.Task{Command: cmd, FD: r.fd, UserID: r.conn().UserID, Reg: r.reg})).To(BeTrue())

	var texts []string
	Eventually(func() []string {
		texts = r.responses()
		return texts
	}, 2*time.Second).ShouldNot(BeEmpty())
	return texts
}

var _ = Describe("DBPool", func() {
	It("logs in on a matching id and password, loading nickname and rooms", func() {
		st := &fakeStore{
			loginFn: func(ctx context.Context, id, password string) (string, bool, error) {
				Expect(id).To(Equal("alice"))
				Expect(password).To(Equal("hunter2"))
				return "ally", true, nil
			},
			joinedRoomsFn: func(ctx context.Context, userID string) ([]string, error) {
				return []string{"lobby"}, nil
			},
		}
		rig := newRig(st)
		defer rig.close()

		texts := rig.submitAndWait(protocol.Command{Login: &protocol.Login{ID: "alice", Password: "hunter2"}})
		Expect(texts).To(ContainElement("login success"))

		Eventually(func() string { return rig.conn().Nickname }, 2*time.Second).Should(Equal("ally"))
		Expect(rig.conn().UserID).To(Equal("alice"))
		Expect(rig.conn().Rooms).To(HaveKey("lobby"))
	})

	It("reports failure and resets identity on a non-matching login", func() {
		st := &fakeStore{
			loginFn: func(ctx context.Context, id, password string) (string, bool, error) {
				return "", false, nil
			},
		}
		rig := newRig(st)
		defer rig.close()

		texts := rig.submitAndWait(protocol.Command{Login: &protocol.Login{ID: "ghost", Password: "x"}})
		Expect(texts).To(ContainElement("login failed"))
		Expect(rig.conn().UserID).To(BeEmpty())
		Expect(rig.conn().Nickname).To(Equal(registry.DefaultNickname))
	})

	It("reports an existing id on register failure", func() {
		st := &fakeStore{
			signupFn: func(ctx context.Context, id, password string) error {
				return errors.New("duplicate")
			},
		}
		rig := newRig(st)
		defer rig.close()

		texts := rig.submitAndWait(protocol.Command{Register: &protocol.Register{ID: "bob", Password: "pw"}})
		Expect(texts).To(ContainElement("id already exists"))
	})

	It("refuses nick before login", func() {
		rig := newRig(&fakeStore{})
		defer rig.close()

		texts := rig.submitAndWait(protocol.Command{Nick: &protocol.Nick{Nick: "x"}})
		Expect(texts).To(ContainElement("login required"))
	})

	It("broadcasts a room message to the room once persisted", func() {
		st := &fakeStore{
			createMessageFn: func(ctx context.Context, senderID, roomID, body string) (string, bool, error) {
				Expect(senderID).To(Equal("alice"))
				Expect(roomID).To(Equal("lobby"))
				Expect(body).To(Equal("hi all"))
				return "m1", true, nil
			},
		}
		rig := newRig(st)
		defer rig.close()
		rig.reg.RequestSetUserID(rig.fd, "alice")
		rig.reg.RequestSetJoinedRooms(rig.fd, []string{"lobby"})
		rig.reg.Work()

		texts := rig.submitAndWait(protocol.Command{Say: &protocol.Say{RoomID: "lobby", Text: "hi all"}})
		Expect(texts).To(ContainElement(ContainSubstring("hi all")))
	})

	It("rejects history limits outside 1..100 without touching the store", func() {
		called := false
		st := &fakeStore{
			listMessagesFn: func(ctx context.Context, callerID, roomID string, limit int) ([]store.HistoryEntry, bool, error) {
				called = true
				return nil, true, nil
			},
		}
		rig := newRig(st)
		defer rig.close()
		rig.reg.RequestSetUserID(rig.fd, "alice")
		rig.reg.Work()

		texts := rig.submitAndWait(protocol.Command{History: &protocol.History{RoomID: "lobby", Limit: "0"}})
		Expect(texts).To(ContainElement("invalid history request"))
		Expect(called).To(BeFalse())
	})

	It("reports the four invite_room outcomes distinctly", func() {
		for _, tc := range []struct {
			result store.InviteResult
			want   string
		}{
			{store.InviteOK, "invite success"},
			{store.InviteRoomNotFound, "room not found"},
			{store.InviteNotOwner, "not room owner"},
			{store.InviteFriendNotFound, "friend not found"},
		} {
			st := &fakeStore{
				inviteRoomFn: func(ctx context.Context, inviterID, roomID, friendID string) (store.InviteResult, error) {
					return tc.result, nil
				},
			}
			rig := newRig(st)
			rig.reg.RequestSetUserID(rig.fd, "owner")
			rig.reg.Work()

			texts := rig.submitAndWait(protocol.Command{InviteRoom: &protocol.InviteRoom{RoomID: "r1", Friend: "bob"}})
			Expect(texts).To(ContainElement(tc.want))
			rig.close()
		}
	})
})
