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

// Package registry owns every connected client's socket, TLS session and
// buffers. It is the sole mutator of per-connection state; every other
// goroutine talks to it by enqueueing a command and firing the wakeup.
package registry

import (
	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/descriptor"
	"github.com/nabbar/chatd/iobuf"
	"github.com/nabbar/chatd/tlsconn"
)

// DefaultNickname is assigned to a Connection until login succeeds.
const DefaultNickname = "guest"

// Connection is reactor-thread-owned state for one client: its
// descriptor, TLS session, buffers, current poll interest, and session
// metadata. Only the reactor thread ever reads or mutates a Connection.
type Connection struct {
	fd       *descriptor.Owned
	tls      *tlsconn.Session
	Recv     iobuf.RecvBuffer
	Send     iobuf.SendBuffer
	interest uint32
	peer     string
	Nickname string
	UserID   string
	Rooms    map[string]struct{}
	closed   bool
}

// FD returns the raw descriptor this Connection wraps.
func (c *Connection) FD() int { return c.fd.FD() }

// TLS returns the connection's TLS session.
func (c *Connection) TLS() *tlsconn.Session { return c.tls }

// Peer returns the cached peer endpoint string (IP:PORT).
func (c *Connection) Peer() string { return c.peer }

// Interest returns the epoll event mask currently asserted for this fd.
func (c *Connection) Interest() uint32 { return c.interest }

// Closed reports whether this Connection has been latched for removal.
func (c *Connection) Closed() bool { return c.closed }

// FriendStatus names one friend and whether that friend currently has at
// least one online session, for send-friend-list rendering.
type FriendStatus struct {
	Name   string
	Online bool
}

const (
	// InterestRead/InterestWrite/InterestHangup reuse the epoll event bit
	// values directly: the registry is the only place these masks are
	// constructed, and the reactor consumes the exact same bits back out
	// of epoll_wait, so there is no separate enum to keep in sync.
	InterestRead    = unix.EPOLLIN
	InterestWrite   = unix.EPOLLOUT
	InterestHangup  = unix.EPOLLRDHUP
	registerDefault = uint32(InterestRead | InterestHangup)
)
