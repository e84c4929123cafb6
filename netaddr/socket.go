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

package netaddr

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/chaterr"
	"github.com/nabbar/chatd/descriptor"
)

const defaultBacklog = 128

func errnoCode(err error) chaterr.Code {
	if errno, ok := err.(unix.Errno); ok {
		return chaterr.Code(uint32(errno))
	}
	return chaterr.Code(0)
}

// Listen iterates candidates in order, creating a nonblocking, address-reuse
// socket, binding and listening on each, and returns the first one that
// succeeds at every step along with the candidate it bound. If every
// candidate fails, the last error encountered is returned.
func Listen(candidates []Candidate, backlog int) (*descriptor.Owned, Candidate, error) {
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	var lastErr error
	for _, c := range candidates {
		fd, err := unix.Socket(c.Family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			lastErr = chaterr.New(chaterr.DomainOS, errnoCode(err), "socket", err)
			continue
		}
		owned := descriptor.New(fd)

		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			lastErr = chaterr.New(chaterr.DomainOS, errnoCode(err), "setsockopt SO_REUSEADDR", err)
			owned.Close()
			continue
		}
		if c.Family == unix.AF_INET6 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
		}

		if err := unix.Bind(fd, c.SockAddr()); err != nil {
			lastErr = chaterr.New(chaterr.DomainResolve, chaterr.CodeResolveBindFailed, "bind "+c.String(), err)
			owned.Close()
			continue
		}
		if err := unix.Listen(fd, backlog); err != nil {
			lastErr = chaterr.New(chaterr.DomainResolve, chaterr.CodeResolveBindFailed, "listen "+c.String(), err)
			owned.Close()
			continue
		}

		return owned, c, nil
	}

	if lastErr == nil {
		lastErr = chaterr.New(chaterr.DomainResolve, chaterr.CodeResolveNoCandidate, "no candidates", nil)
	}
	return nil, Candidate{}, lastErr
}

// Connect iterates candidates in order, attempting a blocking connect on
// each, and returns the first one that succeeds. If every candidate fails,
// the last error encountered is returned.
func Connect(candidates []Candidate) (*descriptor.Owned, Candidate, error) {
	var lastErr error
	for _, c := range candidates {
		fd, err := unix.Socket(c.Family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			lastErr = chaterr.New(chaterr.DomainOS, errnoCode(err), "socket", err)
			continue
		}
		owned := descriptor.New(fd)

		if err := unix.Connect(fd, c.SockAddr()); err != nil {
			lastErr = chaterr.New(chaterr.DomainResolve, chaterr.CodeResolveConnectFailed, "connect "+c.String(), err)
			owned.Close()
			continue
		}

		return owned, c, nil
	}

	if lastErr == nil {
		lastErr = chaterr.New(chaterr.DomainResolve, chaterr.CodeResolveNoCandidate, "no candidates", nil)
	}
	return nil, Candidate{}, lastErr
}

// Accept performs one accept(2) call on a nonblocking listening descriptor,
// retrying transparently on EINTR. ok is false when the call would have
// blocked (EAGAIN/EWOULDBLOCK), the caller's signal to stop draining.
func Accept(listenFD int) (fd int, ok bool, err error) {
	for {
		nfd, _, aerr := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if aerr == nil {
			return nfd, true, nil
		}
		if aerr == unix.EINTR {
			continue
		}
		if aerr == unix.EAGAIN {
			return -1, false, nil
		}
		return -1, false, chaterr.New(chaterr.DomainOS, errnoCode(aerr), "accept", aerr)
	}
}

// ListenerError reads SO_ERROR off the listening descriptor, the check the
// acceptor loop performs when epoll reports an error/hangup event on it.
func ListenerError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return chaterr.New(chaterr.DomainOS, errnoCode(err), "getsockopt SO_ERROR", err)
	}
	if errno == 0 {
		return nil
	}
	e := unix.Errno(errno)
	return chaterr.New(chaterr.DomainOS, chaterr.Code(uint32(e)), "listener socket error", e)
}

// PeerEndpoint formats a connected descriptor's remote address as
// IP:PORT using the numeric host and service, the string recorded on every
// Connection and printed in connect/disconnect log lines.
func PeerEndpoint(fd int) (string, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", chaterr.New(chaterr.DomainOS, errnoCode(err), "getpeername", err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", a.Port)), nil
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", a.Port)), nil
	default:
		return "", chaterr.New(chaterr.DomainOS, chaterr.Code(0), "getpeername: unsupported family", nil)
	}
}

// BoundPort reads back the port a listening socket was actually bound
// to, needed whenever Listen was called with port 0 and the caller must
// still advertise or dial the chosen ephemeral port.
func BoundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, chaterr.New(chaterr.DomainOS, errnoCode(err), "getsockname", err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	default:
		return 0, chaterr.New(chaterr.DomainOS, chaterr.Code(0), "getsockname: unsupported family", nil)
	}
}

// SetNonblocking toggles O_NONBLOCK on fd; accepted client descriptors
// already carry it from Accept4's SOCK_NONBLOCK flag, but register() applies
// it defensively since the spec calls for it explicitly.
func SetNonblocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return chaterr.New(chaterr.DomainOS, errnoCode(err), "set nonblocking", err)
	}
	return nil
}
