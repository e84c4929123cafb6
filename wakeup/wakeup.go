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

// Package wakeup provides an always-readable kernel descriptor used to
// interrupt a blocked epoll_wait from any thread: an eventfd counter that
// workers increment and the owning reactor or acceptor thread drains.
package wakeup

import (
	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/chaterr"
	"github.com/nabbar/chatd/descriptor"
)

// Wakeup wraps a Linux eventfd(2) descriptor in EFD_NONBLOCK mode. Request
// is safe to call from any goroutine; Consume must only be called by the
// thread that owns the poll set the descriptor is registered in.
type Wakeup struct {
	fd *descriptor.Owned
}

// New creates an eventfd initialized to zero, non-blocking so Request never
// blocks its caller and Consume never blocks the poll loop.
func New() (*Wakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		code := chaterr.Code(0)
		if errno, ok := err.(unix.Errno); ok {
			code = chaterr.Code(uint32(errno))
		}
		return nil, chaterr.New(chaterr.DomainOS, code, "eventfd", err)
	}
	return &Wakeup{fd: descriptor.New(fd)}, nil
}

// FD returns the raw descriptor to register with a poll set.
func (w *Wakeup) FD() int {
	return w.fd.FD()
}

// Request increments the eventfd counter by one, waking anyone polling on
// it. Idempotent in effect (multiple requests before a Consume collapse
// into a single wakeup) and safe from any thread.
func (w *Wakeup) Request() {
	var buf [8]byte
	buf[7] = 1
	for {
		_, err := unix.Write(w.fd.FD(), buf[:])
		if err == unix.EINTR {
			continue
		}
		// EAGAIN means the counter is already saturated (practically
		// unreachable); a pending wakeup alone never causes it, since
		// writes simply add to the counter. A saturated counter is
		// readable, so the request is safe to drop.
		return
	}
}

// Consume drains the eventfd counter back to zero. Must be called only by
// the thread that owns the poll set.
func (w *Wakeup) Consume() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd.FD(), buf[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// Close releases the underlying descriptor.
func (w *Wakeup) Close() error {
	return w.fd.Close()
}
