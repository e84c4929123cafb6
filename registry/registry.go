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

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/chaterr"
	"github.com/nabbar/chatd/descriptor"
	"github.com/nabbar/chatd/logging"
	"github.com/nabbar/chatd/netaddr"
	"github.com/nabbar/chatd/protocol"
	"github.com/nabbar/chatd/tlsconn"
)

// Registry owns the poll-set descriptor, the wakeup descriptor, every
// live Connection, the room/user secondary indices, and a mutex-guarded
// command FIFO. Everything except the FIFO and the wakeup is touched
// only by the reactor thread.
type Registry struct {
	epfd *descriptor.Owned
	wake wakeupSource
	tls  *tlsconn.Context
	log  *logging.Logger

	mu    sync.Mutex
	queue []command

	conns     map[int]*Connection
	roomIndex map[string]map[int]struct{}
	userIndex map[string]map[int]struct{}
}

// wakeupSource is the minimal surface Registry needs from wakeup.Wakeup,
// named here so tests can substitute a fake without importing the
// concrete package twice.
type wakeupSource interface {
	FD() int
	Request()
	Consume()
	Close() error
}

// New creates the registry's epoll set, registers its wakeup for read
// interest, and returns a ready-to-use Registry. tlsCtx is captured by
// reference and used to create a server-role TLS session for every
// newly registered connection.
func New(tlsCtx *tlsconn.Context, wake wakeupSource, log *logging.Logger) (*Registry, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_create1", err)
	}
	r := &Registry{
		epfd:      descriptor.New(epfd),
		wake:      wake,
		tls:       tlsCtx,
		log:       log,
		conns:     make(map[int]*Connection),
		roomIndex: make(map[string]map[int]struct{}),
		userIndex: make(map[string]map[int]struct{}),
	}
	if err := r.epollAdd(wake.FD(), uint32(InterestRead)); err != nil {
		epfd2 := r.epfd
		epfd2.Close()
		return nil, err
	}
	return r, nil
}

// EpollFD is the descriptor the reactor calls epoll_wait on.
func (r *Registry) EpollFD() int { return r.epfd.FD() }

// Wake fires the registry's wakeup without enqueueing any command. The
// server facade uses this on shutdown to unblock a epoll_wait blocked
// with no pending commands, so the reactor loop's stop-token check runs.
func (r *Registry) Wake() { r.wake.Request() }

// WakeupFD is the descriptor the reactor recognizes as "commands are
// pending, drain them with Work()".
func (r *Registry) WakeupFD() int { return r.wake.FD() }

// Find returns the live Connection for fd. Reactor-thread only.
func (r *Registry) Find(fd int) (*Connection, bool) {
	c, ok := r.conns[fd]
	return c, ok
}

// Len reports the number of currently registered connections.
func (r *Registry) Len() int { return len(r.conns) }

func (r *Registry) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd.FD(), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_ctl add", err)
	}
	return nil
}

func (r *Registry) epollMod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd.FD(), unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_ctl mod", err)
	}
	return nil
}

func (r *Registry) epollDel(fd int) {
	_ = unix.EpollCtl(r.epfd.FD(), unix.EPOLL_CTL_DEL, fd, nil)
}

// SetInterest updates c's epoll interest mask if it differs from what is
// currently asserted, implementing the interest-synchronization rule
// every I/O handler relies on.
func (r *Registry) SetInterest(c *Connection, mask uint32) error {
	if mask == c.interest {
		return nil
	}
	if err := r.epollMod(c.FD(), mask); err != nil {
		return err
	}
	c.interest = mask
	return nil
}

// Work drains the wakeup and applies every command enqueued since the
// last call, in FIFO order. Reactor-thread only.
func (r *Registry) Work() {
	r.wake.Consume()

	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, c := range pending {
		r.apply(c)
	}
}

func (r *Registry) apply(c command) {
	switch c.kind {
	case cmdRegister:
		r.applyRegister(c.fd)
	case cmdUnregister:
		r.applyUnregister(c.fd)
	case cmdSendToOne:
		r.applySendToOne(c.fd, c.payload)
	case cmdBroadcastAll:
		r.applyBroadcast(c.senderFD, c.payload, nil)
	case cmdRoomBroadcast:
		r.applyBroadcast(c.senderFD, c.payload, r.roomMembers(c.roomID))
	case cmdChangeNickname:
		r.applyChangeNickname(c.fd, c.nickname)
	case cmdSetUserID:
		r.applySetUserID(c.fd, c.userID)
	case cmdSetJoinedRooms:
		r.applySetJoinedRooms(c.fd, c.rooms)
	case cmdSetJoinedRoomsForUser:
		r.applySetJoinedRoomsForUser(c.userID, c.rooms)
	case cmdSendFriendList:
		r.applySendFriendList(c.fd, c.friends)
	}
}

func (r *Registry) applyRegister(fd int) {
	if err := netaddr.SetNonblocking(fd); err != nil {
		r.log.Entry().WithError(err).WithField(logging.FieldFD, fd).Error("register: set nonblocking failed")
		unix.Close(fd)
		return
	}
	peer, err := netaddr.PeerEndpoint(fd)
	if err != nil {
		peer = fmt.Sprintf("fd:%d", fd)
	}
	if err := r.epollAdd(fd, registerDefault); err != nil {
		r.log.WithPeer(peer).WithError(err).Error("register: epoll_ctl add failed")
		unix.Close(fd)
		return
	}

	conn := &Connection{
		fd:       descriptor.New(fd),
		tls:      tlsconn.NewServerSession(r.tls, fd),
		interest: registerDefault,
		peer:     peer,
		Nickname: DefaultNickname,
		Rooms:    make(map[string]struct{}),
	}
	r.conns[fd] = conn
	r.log.WithPeer(peer).WithField(logging.FieldClients, len(r.conns)).Info("client connected")
}

func (r *Registry) applyUnregister(fd int) {
	conn, ok := r.conns[fd]
	if !ok {
		return
	}
	r.epollDel(fd)
	for roomID := range conn.Rooms {
		r.removeFromRoomIndex(roomID, fd)
	}
	if conn.UserID != "" {
		r.removeFromUserIndex(conn.UserID, fd)
	}
	conn.closed = true
	delete(r.conns, fd)
	conn.fd.Close()
	r.log.WithPeer(conn.peer).WithField(logging.FieldClients, len(r.conns)).Info("client disconnected")
}

func (r *Registry) applySendToOne(fd int, payload protocol.Command) {
	conn, ok := r.conns[fd]
	if !ok {
		return
	}
	r.appendToSendBuffer(conn, payload)
}

func (r *Registry) applyBroadcast(senderFD int, payload protocol.Command, restrictTo map[int]struct{}) {
	sender, hasSender := r.conns[senderFD]
	text := payload
	if payload.Response != nil && hasSender {
		nick := sender.Nickname
		text = protocol.Command{Response: &protocol.Response{Text: nick + ": " + payload.Response.Text}}
	}

	if restrictTo != nil {
		for fd := range restrictTo {
			if conn, ok := r.conns[fd]; ok {
				r.appendToSendBuffer(conn, text)
			}
		}
		return
	}
	for _, conn := range r.conns {
		r.appendToSendBuffer(conn, text)
	}
}

func (r *Registry) appendToSendBuffer(conn *Connection, payload protocol.Command) {
	encoded, err := protocol.Encode(payload)
	if err != nil {
		r.log.WithPeer(conn.peer).WithError(err).Error("encode failed, dropping message")
		return
	}
	if conn.Send.Append(encoded) {
		_ = r.SetInterest(conn, conn.interest|uint32(InterestWrite))
	}
}

func (r *Registry) applyChangeNickname(fd int, nickname string) {
	if conn, ok := r.conns[fd]; ok {
		conn.Nickname = nickname
	}
}

func (r *Registry) applySetUserID(fd int, userID string) {
	conn, ok := r.conns[fd]
	if !ok {
		return
	}
	if conn.UserID != "" {
		r.removeFromUserIndex(conn.UserID, fd)
	}
	for roomID := range conn.Rooms {
		r.removeFromRoomIndex(roomID, fd)
	}
	conn.Rooms = make(map[string]struct{})
	conn.UserID = userID
	if userID != "" {
		r.addToUserIndex(userID, fd)
	}
}

func (r *Registry) applySetJoinedRooms(fd int, rooms []string) {
	conn, ok := r.conns[fd]
	if !ok {
		return
	}
	for roomID := range conn.Rooms {
		r.removeFromRoomIndex(roomID, fd)
	}
	next := make(map[string]struct{}, len(rooms))
	for _, roomID := range rooms {
		next[roomID] = struct{}{}
		r.addToRoomIndex(roomID, fd)
	}
	conn.Rooms = next
}

func (r *Registry) applySetJoinedRoomsForUser(userID string, rooms []string) {
	for fd := range r.userIndex[userID] {
		r.applySetJoinedRooms(fd, rooms)
	}
}

func (r *Registry) applySendFriendList(fd int, friends []FriendStatus) {
	conn, ok := r.conns[fd]
	if !ok {
		return
	}
	header := fmt.Sprintf("friends: %d", len(friends))
	r.appendToSendBuffer(conn, protocol.Command{Response: &protocol.Response{Text: header}})
	for _, f := range friends {
		f.Online = r.IsUserOnline(f.Name)
		status := "(offline)"
		if f.Online {
			status = "(online)"
		}
		r.appendToSendBuffer(conn, protocol.Command{Response: &protocol.Response{Text: f.Name + " " + status}})
	}
}

func (r *Registry) roomMembers(roomID string) map[int]struct{} {
	return r.roomIndex[roomID]
}

func (r *Registry) addToRoomIndex(roomID string, fd int) {
	set, ok := r.roomIndex[roomID]
	if !ok {
		set = make(map[int]struct{})
		r.roomIndex[roomID] = set
	}
	set[fd] = struct{}{}
}

func (r *Registry) removeFromRoomIndex(roomID string, fd int) {
	if set, ok := r.roomIndex[roomID]; ok {
		delete(set, fd)
		if len(set) == 0 {
			delete(r.roomIndex, roomID)
		}
	}
}

func (r *Registry) addToUserIndex(userID string, fd int) {
	set, ok := r.userIndex[userID]
	if !ok {
		set = make(map[int]struct{})
		r.userIndex[userID] = set
	}
	set[fd] = struct{}{}
}

func (r *Registry) removeFromUserIndex(userID string, fd int) {
	if set, ok := r.userIndex[userID]; ok {
		delete(set, fd)
		if len(set) == 0 {
			delete(r.userIndex, userID)
		}
	}
}

// IsUserOnline reports whether userID has at least one live session,
// the predicate send-friend-list uses to annotate each friend.
func (r *Registry) IsUserOnline(userID string) bool {
	set, ok := r.userIndex[userID]
	return ok && len(set) > 0
}

// Close releases the epoll descriptor and the wakeup. Used during
// server shutdown after both loops have joined.
func (r *Registry) Close() error {
	werr := r.wake.Close()
	eerr := r.epfd.Close()
	if eerr != nil {
		return eerr
	}
	return werr
}
