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

package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/nabbar/chatd/logging"
	"github.com/nabbar/chatd/protocol"
	"github.com/nabbar/chatd/registry"
	"github.com/nabbar/chatd/store"
)

const (
	historyMinLimit = 1
	historyMaxLimit = 100
)

// DBPool is structurally identical to Pool but additionally serializes
// every call into st behind an internal mutex, matching the source's
// constraint that the underlying database library is single-connection:
// spawning more workers widens the number of goroutines that may be
// blocked waiting on that mutex, not the number of concurrent queries.
type DBPool struct {
	pool *Pool
	st   store.Store
	log  *logging.Logger
	dbmu sync.Mutex
}

// NewDBPool starts n workers over st.
func NewDBPool(n int, st store.Store, log *logging.Logger) *DBPool {
	d := &DBPool{st: st, log: log}
	d.pool = NewPool(n, d.handle)
	return d
}

// Submit enqueues a database task; see Pool.Submit.
func (d *DBPool) Submit(t Task) bool { return d.pool.Submit(t) }

// Stop drains and stops the underlying pool; see Pool.Stop.
func (d *DBPool) Stop() { d.pool.Stop() }

func (d *DBPool) handle(t Task) {
	d.dbmu.Lock()
	defer d.dbmu.Unlock()

	ctx := context.Background()
	switch {
	case t.Command.Login != nil:
		d.login(ctx, t)
	case t.Command.Register != nil:
		d.register(ctx, t)
	case t.Command.Nick != nil:
		d.nick(ctx, t)
	case t.Command.FriendRequest != nil:
		d.friendRequest(ctx, t)
	case t.Command.FriendAccept != nil:
		d.friendAccept(ctx, t)
	case t.Command.FriendReject != nil:
		d.friendReject(ctx, t)
	case t.Command.FriendRemove != nil:
		d.friendRemove(ctx, t)
	case t.Command.ListFriend != nil:
		d.listFriend(ctx, t)
	case t.Command.ListFriendRequest != nil:
		d.listFriendRequest(ctx, t)
	case t.Command.CreateRoom != nil:
		d.createRoom(ctx, t)
	case t.Command.DeleteRoom != nil:
		d.deleteRoom(ctx, t)
	case t.Command.InviteRoom != nil:
		d.inviteRoom(ctx, t)
	case t.Command.LeaveRoom != nil:
		d.leaveRoom(ctx, t)
	case t.Command.ListRoom != nil:
		d.listRoom(ctx, t)
	case t.Command.Say != nil:
		d.say(ctx, t)
	case t.Command.History != nil:
		d.history(ctx, t)
	}
}

func (d *DBPool) reply(t Task, text string) {
	t.Reg.RequestSend(t.FD, protocol.Command{Response: &protocol.Response{Text: text}})
}

func (d *DBPool) requireLogin(t Task) bool {
	if t.UserID == "" {
		d.reply(t, "login required")
		return false
	}
	return true
}

func (d *DBPool) refreshJoinedRooms(ctx context.Context, t Task, userID string) {
	ids, err := d.st.JoinedRooms(ctx, userID)
	if err != nil {
		d.log.Entry().WithError(err).WithField(logging.FieldUser, userID).Error("joined rooms reload failed")
		return
	}
	t.Reg.RequestSetJoinedRoomsForUser(userID, ids)
}

func (d *DBPool) login(ctx context.Context, t Task) {
	nick, ok, err := d.st.Login(ctx, t.Command.Login.ID, t.Command.Login.Password)
	if err != nil {
		d.log.Entry().WithError(err).Error("login query failed")
	}
	if err == nil && ok {
		rooms, rerr := d.st.JoinedRooms(ctx, t.Command.Login.ID)
		if rerr != nil {
			d.log.Entry().WithError(rerr).Error("joined rooms load failed")
		}
		t.Reg.RequestSetUserID(t.FD, t.Command.Login.ID)
		t.Reg.RequestSetJoinedRooms(t.FD, rooms)
		t.Reg.RequestChangeNickname(t.FD, nick)
		d.reply(t, "login success")
		return
	}

	t.Reg.RequestSetUserID(t.FD, "")
	t.Reg.RequestSetJoinedRooms(t.FD, nil)
	t.Reg.RequestChangeNickname(t.FD, registry.DefaultNickname)
	d.reply(t, "login failed")
}

func (d *DBPool) register(ctx context.Context, t Task) {
	if err := d.st.Signup(ctx, t.Command.Register.ID, t.Command.Register.Password); err != nil {
		d.log.Entry().WithError(err).Error("register query failed")
		d.reply(t, "id already exists")
		return
	}
	d.reply(t, "register success")
}

func (d *DBPool) nick(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	if err := d.st.ChangeNickname(ctx, t.UserID, t.Command.Nick.Nick); err != nil {
		d.log.Entry().WithError(err).Error("nick query failed")
		d.reply(t, "nick change failed")
		return
	}
	t.Reg.RequestChangeNickname(t.FD, t.Command.Nick.Nick)
	d.reply(t, "nick change success")
}

func (d *DBPool) friendRequest(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	if err := d.st.RequestFriend(ctx, t.UserID, t.Command.FriendRequest.To); err != nil {
		d.log.Entry().WithError(err).Error("friend request query failed")
		d.reply(t, "friend request failed")
		return
	}
	d.reply(t, "friend request sent")
}

func (d *DBPool) friendAccept(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	if err := d.st.AcceptFriendRequest(ctx, t.UserID, t.Command.FriendAccept.From); err != nil {
		d.log.Entry().WithError(err).Error("friend accept query failed")
		d.reply(t, "friend accept failed")
		return
	}
	d.reply(t, "friend accepted")
}

func (d *DBPool) friendReject(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	if err := d.st.RejectFriendRequest(ctx, t.UserID, t.Command.FriendReject.From); err != nil {
		d.log.Entry().WithError(err).Error("friend reject query failed")
		d.reply(t, "friend reject failed")
		return
	}
	d.reply(t, "friend rejected")
}

func (d *DBPool) friendRemove(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	if err := d.st.RemoveFriend(ctx, t.UserID, t.Command.FriendRemove.Friend); err != nil {
		d.log.Entry().WithError(err).Error("friend remove query failed")
		d.reply(t, "friend remove failed")
		return
	}
	d.reply(t, "friend removed")
}

func (d *DBPool) listFriend(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	ids, err := d.st.ListFriends(ctx, t.UserID)
	if err != nil {
		d.log.Entry().WithError(err).Error("list friends query failed")
		d.reply(t, "list friend failed")
		return
	}
	friends := make([]registry.FriendStatus, 0, len(ids))
	for _, id := range ids {
		friends = append(friends, registry.FriendStatus{Name: id})
	}
	t.Reg.RequestSendFriendList(t.FD, friends)
}

func (d *DBPool) listFriendRequest(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	ids, err := d.st.ListFriendRequests(ctx, t.UserID)
	if err != nil {
		d.log.Entry().WithError(err).Error("list friend requests query failed")
		d.reply(t, "list friend request failed")
		return
	}
	d.reply(t, fmt.Sprintf("friend_requests: %d", len(ids)))
	for _, id := range ids {
		d.reply(t, id)
	}
}

func (d *DBPool) createRoom(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	name := t.Command.CreateRoom.Name
	if name == "" {
		d.reply(t, "room name required")
		return
	}
	id, err := d.st.CreateRoom(ctx, t.UserID, name)
	if err != nil {
		d.log.Entry().WithError(err).Error("create room query failed")
		d.reply(t, "room creation failed")
		return
	}
	d.refreshJoinedRooms(ctx, t, t.UserID)
	d.reply(t, fmt.Sprintf("room created: %s (%s)", id, name))
}

func (d *DBPool) deleteRoom(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	roomID := t.Command.DeleteRoom.RoomID
	if err := d.st.DeleteRoom(ctx, t.UserID, roomID); err != nil {
		d.log.Entry().WithError(err).Error("delete room query failed")
		d.reply(t, "room deletion failed")
		return
	}
	d.refreshJoinedRooms(ctx, t, t.UserID)
	d.reply(t, fmt.Sprintf("room deleted: %s", roomID))
}

func (d *DBPool) inviteRoom(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	roomID := t.Command.InviteRoom.RoomID
	friend := t.Command.InviteRoom.Friend
	result, err := d.st.InviteRoom(ctx, t.UserID, roomID, friend)
	if err != nil {
		d.log.Entry().WithError(err).Error("invite room query failed")
	}

	switch result {
	case store.InviteOK:
		d.refreshJoinedRooms(ctx, t, t.UserID)
		d.refreshJoinedRooms(ctx, t, friend)
		d.reply(t, "invite success")
	case store.InviteRoomNotFound:
		d.reply(t, "room not found")
	case store.InviteNotOwner:
		d.reply(t, "not room owner")
	case store.InviteFriendNotFound:
		d.reply(t, "friend not found")
	}
}

func (d *DBPool) leaveRoom(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	roomID := t.Command.LeaveRoom.RoomID
	result, err := d.st.LeaveRoom(ctx, t.UserID, roomID)
	if err != nil {
		d.log.Entry().WithError(err).Error("leave room query failed")
	}

	switch result {
	case store.LeaveOK:
		d.refreshJoinedRooms(ctx, t, t.UserID)
		d.reply(t, fmt.Sprintf("room left: %s", roomID))
	case store.LeaveRoomNotFound:
		d.reply(t, "room not found")
	case store.LeaveNotMember:
		d.reply(t, "not a member")
	}
}

func (d *DBPool) listRoom(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	rooms, err := d.st.ListRooms(ctx, t.UserID)
	if err != nil {
		d.log.Entry().WithError(err).Error("list room query failed")
		d.reply(t, "list room failed")
		return
	}
	d.reply(t, fmt.Sprintf("rooms: %d", len(rooms)))
	for _, r := range rooms {
		d.reply(t, fmt.Sprintf("id=%s name=%s owner=%s members=%d", r.ID, r.Name, r.Owner, r.Members))
	}
}

func (d *DBPool) say(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	roomID := t.Command.Say.RoomID
	text := t.Command.Say.Text

	_, member, err := d.st.CreateRoomMessage(ctx, t.UserID, roomID, text)
	if err != nil {
		d.log.Entry().WithError(err).WithField(logging.FieldRoom, roomID).Error("say query failed")
		d.reply(t, "say failed")
		return
	}
	if !member {
		d.reply(t, "not a member of room")
		return
	}
	t.Reg.RequestRoomBroadcast(t.FD, roomID, protocol.Command{Response: &protocol.Response{Text: text}})
}

func (d *DBPool) history(ctx context.Context, t Task) {
	if !d.requireLogin(t) {
		return
	}
	roomID := t.Command.History.RoomID
	limit, err := strconv.Atoi(t.Command.History.Limit)
	if err != nil || limit < historyMinLimit || limit > historyMaxLimit {
		d.reply(t, "invalid history request")
		return
	}

	entries, member, err := d.st.ListRoomMessages(ctx, t.UserID, roomID, limit)
	if err != nil {
		d.log.Entry().WithError(err).WithField(logging.FieldRoom, roomID).Error("history query failed")
		d.reply(t, "history failed")
		return
	}
	if !member {
		d.reply(t, "not a member of room")
		return
	}

	d.reply(t, fmt.Sprintf("history: %d", len(entries)))
	for _, e := range entries {
		d.reply(t, fmt.Sprintf("history: %s: %s", e.Sender, e.Body))
	}
}
