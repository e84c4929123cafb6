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

package registry

import "github.com/nabbar/chatd/protocol"

// cmdKind tags one command envelope variant. Every request_* method below
// builds exactly one of these; Work() is the only place that switches on
// it.
type cmdKind int

const (
	cmdRegister cmdKind = iota
	cmdUnregister
	cmdSendToOne
	cmdBroadcastAll
	cmdRoomBroadcast
	cmdChangeNickname
	cmdSetUserID
	cmdSetJoinedRooms
	cmdSetJoinedRoomsForUser
	cmdSendFriendList
)

// command is the tagged-union envelope enqueued under the registry's
// mutex and drained, in FIFO order, by Work(). It carries only owned
// values: integer descriptors and copied strings, never a Connection
// pointer or other borrowed reference.
type command struct {
	kind     cmdKind
	fd       int
	senderFD int
	roomID   string
	userID   string
	nickname string
	rooms    []string
	payload  protocol.Command
	friends  []FriendStatus
}

// RequestRegister enqueues a freshly accepted descriptor for adoption
// into the registry.
func (r *Registry) RequestRegister(fd int) {
	r.enqueue(command{kind: cmdRegister, fd: fd})
}

// RequestUnregister enqueues removal of fd from every index and the poll
// set; dropping the Connection closes its descriptor.
func (r *Registry) RequestUnregister(fd int) {
	r.enqueue(command{kind: cmdUnregister, fd: fd})
}

// RequestSend enqueues payload for delivery to exactly one connection.
func (r *Registry) RequestSend(fd int, payload protocol.Command) {
	r.enqueue(command{kind: cmdSendToOne, fd: fd, payload: payload})
}

// RequestBroadcast enqueues payload for delivery to every connection,
// senderFD included. If payload is a response, its text is prefixed with
// the sender's nickname.
func (r *Registry) RequestBroadcast(senderFD int, payload protocol.Command) {
	r.enqueue(command{kind: cmdBroadcastAll, senderFD: senderFD, payload: payload})
}

// RequestRoomBroadcast is RequestBroadcast restricted to room-index
// members of roomID.
func (r *Registry) RequestRoomBroadcast(senderFD int, roomID string, payload protocol.Command) {
	r.enqueue(command{kind: cmdRoomBroadcast, senderFD: senderFD, roomID: roomID, payload: payload})
}

// RequestChangeNickname enqueues a nickname replacement on fd.
func (r *Registry) RequestChangeNickname(fd int, nickname string) {
	r.enqueue(command{kind: cmdChangeNickname, fd: fd, nickname: nickname})
}

// RequestSetUserID enqueues replacing fd's user id, clearing its joined
// rooms as a side effect (a session's room membership is always reloaded
// right after a user id change).
func (r *Registry) RequestSetUserID(fd int, userID string) {
	r.enqueue(command{kind: cmdSetUserID, fd: fd, userID: userID})
}

// RequestSetJoinedRooms enqueues replacing fd's joined-room set.
func (r *Registry) RequestSetJoinedRooms(fd int, rooms []string) {
	r.enqueue(command{kind: cmdSetJoinedRooms, fd: fd, rooms: rooms})
}

// RequestSetJoinedRoomsForUser applies RequestSetJoinedRooms to every
// connection currently online under userID.
func (r *Registry) RequestSetJoinedRoomsForUser(userID string, rooms []string) {
	r.enqueue(command{kind: cmdSetJoinedRoomsForUser, userID: userID, rooms: rooms})
}

// RequestSendFriendList enqueues a rendered friend list for delivery to
// fd; online/offline annotation is resolved against the user index at
// apply time, not at enqueue time.
func (r *Registry) RequestSendFriendList(fd int, friends []FriendStatus) {
	r.enqueue(command{kind: cmdSendFriendList, fd: fd, friends: friends})
}

func (r *Registry) enqueue(c command) {
	r.mu.Lock()
	r.queue = append(r.queue, c)
	r.mu.Unlock()
	r.wake.Request()
}
