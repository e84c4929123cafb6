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

// Package client implements the symmetric counterpart of the reactor's
// per-connection I/O path (C15): it multiplexes stdin and one TLS-secured
// socket over its own epoll set, translating typed stdin lines into
// protocol.Command values and printing decoded response lines read back
// from the socket. It is used both as the interactive client and as the
// contract-level harness that drives the server in tests.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/chaterr"
	"github.com/nabbar/chatd/descriptor"
	"github.com/nabbar/chatd/iobuf"
	"github.com/nabbar/chatd/netaddr"
	"github.com/nabbar/chatd/protocol"
	"github.com/nabbar/chatd/tlsconn"
	"github.com/nabbar/chatd/wakeup"
)

const (
	stdinFD        = unix.Stdin
	recvScratchLen = 32 * 1024
	stdinChunkLen  = 4096
)

// Client owns one connected, non-blocking socket wrapped in a client-role
// TLS session, plus its own epoll set multiplexing that socket with
// stdin. Output lines are written to Out (os.Stdout by default).
type Client struct {
	fd       *descriptor.Owned
	tls      *tlsconn.Session
	epfd     *descriptor.Owned
	wake     *wakeup.Wakeup
	recv     iobuf.RecvBuffer
	send     iobuf.SendBuffer
	interest uint32
	stdinBuf []byte
	stdinEOF bool

	Out io.Writer
}

// Dial resolves host:port, connects, sets the socket non-blocking, and
// wraps it in a client-role TLS session under tlsCtx. The handshake
// itself is driven by Run, not by Dial.
func Dial(ctx context.Context, tlsCtx *tlsconn.Context, host string, port int) (*Client, error) {
	cands, err := netaddr.ResolveClient(ctx, host, port)
	if err != nil {
		return nil, err
	}
	conn, _, err := netaddr.Connect(cands)
	if err != nil {
		return nil, err
	}
	if err := netaddr.SetNonblocking(conn.FD()); err != nil {
		conn.Close()
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		conn.Close()
		return nil, chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_create1", err)
	}
	wake, err := wakeup.New()
	if err != nil {
		conn.Close()
		unix.Close(epfd)
		return nil, err
	}

	c := &Client{
		fd:       conn,
		tls:      tlsconn.NewClientSession(tlsCtx, conn.FD()),
		epfd:     descriptor.New(epfd),
		wake:     wake,
		interest: uint32(unix.EPOLLIN | unix.EPOLLRDHUP),
	}
	if err := c.epollAdd(conn.FD(), c.interest); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.epollAdd(stdinFD, uint32(unix.EPOLLIN)); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.epollAdd(wake.FD(), uint32(unix.EPOLLIN)); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(c.epfd.FD(), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_ctl add", err)
	}
	return nil
}

func (c *Client) epollMod(events uint32) error {
	if events == c.interest {
		return nil
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(c.fd.FD())}
	if err := unix.EpollCtl(c.epfd.FD(), unix.EPOLL_CTL_MOD, c.fd.FD(), &ev); err != nil {
		return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_ctl mod", err)
	}
	c.interest = events
	return nil
}

func (c *Client) reassertInterest() error {
	next := c.interest
	if c.send.HasPending() || c.tls.NeedsWrite() {
		next |= uint32(unix.EPOLLOUT)
	} else {
		next &^= uint32(unix.EPOLLOUT)
	}
	return c.epollMod(next)
}

// Run drives the handshake to completion, verifies the peer certificate,
// then blocks multiplexing stdin and the socket until stdin reaches EOF
// and drains, or the peer closes, or a fatal error occurs.
func (c *Client) Run(ctx context.Context) error {
	if err := c.handshake(); err != nil {
		return err
	}
	if err := c.tls.VerifyPeer(); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.wake.Request()
		case <-stop:
		}
	}()

	events := make([]unix.EpollEvent, 4)
	stdinDone := false
	for {
		n, err := unix.EpollWait(c.epfd.FD(), events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_wait", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ev := events[i].Events

			switch fd {
			case c.wake.FD():
				c.wake.Consume()
				return nil
			case stdinFD:
				closed, err := c.drainStdin()
				if err != nil {
					return err
				}
				if closed {
					_ = unix.EpollCtl(c.epfd.FD(), unix.EPOLL_CTL_DEL, stdinFD, nil)
					stdinDone = true
				}
			case c.fd.FD():
				if ev&unix.EPOLLERR != 0 {
					return netaddr.ListenerError(c.fd.FD())
				}
				if ev&unix.EPOLLOUT != 0 {
					if err := c.flushSend(); err != nil {
						return err
					}
				}
				if ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
					closed, err := c.drainRecv()
					if err != nil {
						return err
					}
					if closed {
						return nil
					}
				}
			}
		}

		if stdinDone && !c.send.HasPending() && !c.tls.HasPendingCipher() {
			return nil
		}
	}
}

func (c *Client) handshake() error {
	for !c.tls.IsHandshakeDone() {
		res, err := c.tls.Handshake()
		if err != nil {
			return err
		}
		if c.tls.IsHandshakeDone() {
			return nil
		}
		if res.WantRead || res.WantWrite {
			if err := c.waitHandshakeReady(res.WantWrite); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) waitHandshakeReady(wantWrite bool) error {
	mask := uint32(unix.EPOLLIN)
	if wantWrite {
		mask = uint32(unix.EPOLLOUT)
	}
	if err := c.epollMod(mask); err != nil {
		return err
	}
	events := make([]unix.EpollEvent, 2)
	for {
		n, err := unix.EpollWait(c.epfd.FD(), events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_wait", err)
		}
		for i := 0; i < n; i++ {
			if int(events[i].Fd) == c.fd.FD() {
				return nil
			}
		}
	}
}

func (c *Client) drainRecv() (bool, error) {
	var scratch [recvScratchLen]byte
	res, err := c.tls.Read(scratch[:])
	if err != nil {
		return false, err
	}
	if res.N > 0 {
		c.recv.Append(scratch[:res.N])
	}
	for {
		line, ok := extractLine(&c.recv)
		if !ok {
			break
		}
		c.printLine(line)
	}
	if err := c.reassertInterest(); err != nil {
		return false, err
	}
	return res.Closed, nil
}

func (c *Client) printLine(line []byte) {
	cmd := protocol.Decode(line)
	out := c.Out
	if out == nil {
		return
	}
	if cmd.Response != nil {
		fmt.Fprintln(out, cmd.Response.Text)
		return
	}
	fmt.Fprintln(out, string(line))
}

func (c *Client) flushSend() error {
	data := c.send.CurrentData()
	if len(data) > 0 {
		res, err := c.tls.Write(data)
		if err != nil {
			return err
		}
		if res.N > 0 {
			c.send.Advance(res.N)
			c.send.CompactIfNeeded()
			c.send.ClearIfDone()
		}
	} else if c.tls.HasPendingCipher() {
		if _, err := c.tls.FlushPending(); err != nil {
			return err
		}
	}
	return c.reassertInterest()
}

// drainStdin reads one chunk of stdin, splits it into lines appended to
// the internal line buffer, translates each complete line into a
// protocol.Command and queues its encoding for send. It reports true once
// stdin has reached EOF with no buffered bytes left, and on every call
// after the one that saw EOF; a trailing line without a '\n' is never
// submitted.
func (c *Client) drainStdin() (bool, error) {
	if c.stdinEOF {
		return true, nil
	}

	buf := make([]byte, stdinChunkLen)
	n, err := unix.Read(stdinFD, buf)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return false, nil
		}
		return false, chaterr.New(chaterr.DomainOS, chaterr.Code(0), "read stdin", err)
	}
	if n == 0 {
		c.stdinEOF = true
	} else {
		c.stdinBuf = append(c.stdinBuf, buf[:n]...)
	}

	for {
		idx := bytes.IndexByte(c.stdinBuf, '\n')
		if idx < 0 {
			break
		}
		line := string(c.stdinBuf[:idx])
		c.stdinBuf = c.stdinBuf[idx+1:]
		if err := c.submit(line); err != nil {
			return false, err
		}
	}

	return c.stdinEOF && len(c.stdinBuf) == 0, nil
}

func (c *Client) submit(line string) error {
	cmd, ok := translate(line)
	if !ok {
		return nil
	}
	encoded, err := protocol.Encode(cmd)
	if err != nil {
		return nil
	}
	c.send.Append(encoded)
	return c.flushSend()
}

// Close releases the socket and the client's own poll set. Best-effort:
// the TLS session is given a chance to send close_notify first.
func (c *Client) Close() error {
	_ = c.tls.Shutdown()
	ferr := c.fd.Close()
	eerr := c.epfd.Close()
	werr := c.wake.Close()
	if ferr != nil {
		return ferr
	}
	if eerr != nil {
		return eerr
	}
	return werr
}

func extractLine(buf *iobuf.RecvBuffer) ([]byte, bool) {
	data := buf.CurrentData()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, data[:idx])
	buf.Advance(idx + 1)
	buf.CompactIfNeeded()
	buf.ClearIfDone()
	return line, true
}

// translate maps one typed stdin line, an optional leading "/" followed
// by the wire tag and space-separated arguments, into a protocol.Command.
// Translation lives here rather than in the codec because it is a
// convenience for interactive/test use, not part of the wire contract —
// the interactive TUI proper is out of scope (spec.md §1).
func translate(line string) (protocol.Command, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(line), "/")
	if trimmed == "" {
		return protocol.Command{}, false
	}

	sp := strings.SplitN(trimmed, " ", 2)
	tag := protocol.Tag(sp[0])
	rest := ""
	if len(sp) > 1 {
		rest = sp[1]
	}

	switch tag {
	case protocol.TagSay:
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			return protocol.Command{}, false
		}
		return protocol.Command{Say: &protocol.Say{RoomID: parts[0], Text: parts[1]}}, true
	case protocol.TagNick:
		if rest == "" {
			return protocol.Command{}, false
		}
		return protocol.Command{Nick: &protocol.Nick{Nick: rest}}, true
	case protocol.TagLogin:
		parts := strings.Fields(rest)
		if len(parts) != 2 {
			return protocol.Command{}, false
		}
		return protocol.Command{Login: &protocol.Login{ID: parts[0], Password: parts[1]}}, true
	case protocol.TagRegister:
		parts := strings.Fields(rest)
		if len(parts) != 2 {
			return protocol.Command{}, false
		}
		return protocol.Command{Register: &protocol.Register{ID: parts[0], Password: parts[1]}}, true
	case protocol.TagFriendRequest:
		if rest == "" {
			return protocol.Command{}, false
		}
		return protocol.Command{FriendRequest: &protocol.FriendRequest{To: rest}}, true
	case protocol.TagFriendAccept:
		if rest == "" {
			return protocol.Command{}, false
		}
		return protocol.Command{FriendAccept: &protocol.FriendAccept{From: rest}}, true
	case protocol.TagFriendReject:
		if rest == "" {
			return protocol.Command{}, false
		}
		return protocol.Command{FriendReject: &protocol.FriendReject{From: rest}}, true
	case protocol.TagFriendRemove:
		if rest == "" {
			return protocol.Command{}, false
		}
		return protocol.Command{FriendRemove: &protocol.FriendRemove{Friend: rest}}, true
	case protocol.TagListFriend:
		return protocol.Command{ListFriend: &protocol.ListFriend{}}, true
	case protocol.TagListFriendRequest:
		return protocol.Command{ListFriendRequest: &protocol.ListFriendRequest{}}, true
	case protocol.TagCreateRoom:
		if rest == "" {
			return protocol.Command{}, false
		}
		return protocol.Command{CreateRoom: &protocol.CreateRoom{Name: rest}}, true
	case protocol.TagDeleteRoom:
		if rest == "" {
			return protocol.Command{}, false
		}
		return protocol.Command{DeleteRoom: &protocol.DeleteRoom{RoomID: rest}}, true
	case protocol.TagInviteRoom:
		parts := strings.Fields(rest)
		if len(parts) != 2 {
			return protocol.Command{}, false
		}
		return protocol.Command{InviteRoom: &protocol.InviteRoom{RoomID: parts[0], Friend: parts[1]}}, true
	case protocol.TagLeaveRoom:
		if rest == "" {
			return protocol.Command{}, false
		}
		return protocol.Command{LeaveRoom: &protocol.LeaveRoom{RoomID: rest}}, true
	case protocol.TagListRoom:
		return protocol.Command{ListRoom: &protocol.ListRoom{}}, true
	case protocol.TagHistory:
		parts := strings.Fields(rest)
		if len(parts) != 2 {
			return protocol.Command{}, false
		}
		return protocol.Command{History: &protocol.History{RoomID: parts[0], Limit: parts[1]}}, true
	default:
		return protocol.Command{}, false
	}
}
