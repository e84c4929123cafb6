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

package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/chaterr"
	"github.com/nabbar/chatd/descriptor"
	"github.com/nabbar/chatd/logging"
	"github.com/nabbar/chatd/netaddr"
	"github.com/nabbar/chatd/registry"
)

// wakeupSource mirrors registry's unexported interface so Acceptor does
// not need to import the wakeup package's concrete type.
type wakeupSource interface {
	FD() int
	Request()
	Consume()
	Close() error
}

// Acceptor owns a separate epoll set holding only the listening socket
// and its own wakeup. It never touches Connections; new descriptors are
// handed to the registry via RequestRegister.
type Acceptor struct {
	epfd     *descriptor.Owned
	listenFD int
	wake     wakeupSource
	reg      *registry.Registry
	log      *logging.Logger
}

// NewAcceptor builds the acceptor's own poll set over listenFD and wake.
func NewAcceptor(listenFD int, wake wakeupSource, reg *registry.Registry, log *logging.Logger) (*Acceptor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_create1", err)
	}
	a := &Acceptor{epfd: descriptor.New(epfd), listenFD: listenFD, wake: wake, reg: reg, log: log}

	if err := a.epollAdd(listenFD, uint32(unix.EPOLLIN)); err != nil {
		a.epfd.Close()
		return nil, err
	}
	if err := a.epollAdd(wake.FD(), uint32(unix.EPOLLIN)); err != nil {
		a.epfd.Close()
		return nil, err
	}
	return a, nil
}

func (a *Acceptor) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(a.epfd.FD(), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_ctl add", err)
	}
	return nil
}

// Stop wakes the acceptor out of a blocked epoll_wait.
func (a *Acceptor) Stop() {
	a.wake.Request()
}

// Run blocks accepting connections until Stop is called or a listener
// error occurs.
func (a *Acceptor) Run() error {
	events := make([]unix.EpollEvent, 8)
	stopRequested := false

	for !stopRequested {
		n, err := unix.EpollWait(a.epfd.FD(), events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return chaterr.New(chaterr.DomainOS, chaterr.Code(0), "epoll_wait", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ev := events[i].Events

			if fd == a.wake.FD() {
				a.wake.Consume()
				stopRequested = true
				continue
			}

			if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				if err := netaddr.ListenerError(a.listenFD); err != nil {
					return err
				}
				return nil
			}

			a.acceptAll()
		}
	}
	return nil
}

func (a *Acceptor) acceptAll() {
	for {
		fd, ok, err := netaddr.Accept(a.listenFD)
		if err != nil {
			a.log.Entry().WithError(err).Error("accept failed")
			return
		}
		if !ok {
			return
		}
		a.reg.RequestRegister(fd)
	}
}

// Close releases the acceptor's poll set and wakeup.
func (a *Acceptor) Close() error {
	werr := a.wake.Close()
	eerr := a.epfd.Close()
	if eerr != nil {
		return eerr
	}
	return werr
}
