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

// Package reactor implements the single-threaded event loop (Loop) that
// drains the registry's command queue and dispatches readiness events to
// the server facade's handlers, and the Acceptor loop that runs on its
// own thread and poll set to hand new connections to the registry.
package reactor

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/chaterr"
	"github.com/nabbar/chatd/registry"
)

const maxEvents = 256

// Handlers are owned by the server facade; Loop never interprets a
// connection's bytes itself.
type Handlers struct {
	OnRecv        func(fd int, events uint32) bool
	OnSend        func(fd int, events uint32)
	OnExecute     func(fd int) bool
	OnClientError func(fd int, events uint32)
}

// Loop waits on the registry's poll set and dispatches to Handlers. It
// owns nothing else: all per-connection state lives in the registry.
type Loop struct {
	reg *registry.Registry
	h   Handlers
}

// New binds a Loop to reg and h.
func New(reg *registry.Registry, h Handlers) *Loop {
	return &Loop{reg: reg, h: h}
}

// Run blocks until ctx is done or a fatal poll-set error occurs. The
// wakeup fires when ctx is canceled, via the caller arranging for
// ctx.Done() to coincide with a registry command (typically none is
// needed — the caller also calls reg's wakeup directly on shutdown).
func (l *Loop) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, maxEvents)

	for {
		n, err := unix.EpollWait(l.reg.EpollFD(), events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_wait", err)
		}

		l.reg.Work()

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ev := events[i].Events

			if fd == l.reg.WakeupFD() {
				continue
			}

			if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				l.h.OnClientError(fd, ev)
				continue
			}

			if _, ok := l.reg.Find(fd); !ok {
				continue
			}

			readFired := false
			if ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
				readFired = true
				if !l.h.OnRecv(fd, ev) {
					continue
				}
			}
			if ev&unix.EPOLLOUT != 0 {
				l.h.OnSend(fd, ev)
			}
			if readFired {
				for l.h.OnExecute(fd) {
				}
			}
		}
	}
}
