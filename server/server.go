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

// Package server wires the registry, reactor, acceptor and worker pools
// into the runnable facade: it resolves and binds the listening address,
// constructs every collaborator, and implements the three reactor
// handlers (recv/send/execute) plus client-error handling, including the
// interest-synchronization rule every handler relies on.
package server

import (
	"bytes"
	"context"
	"sync"

	"github.com/nabbar/chatd/descriptor"
	"github.com/nabbar/chatd/iobuf"
	"github.com/nabbar/chatd/logging"
	"github.com/nabbar/chatd/netaddr"
	"github.com/nabbar/chatd/protocol"
	"github.com/nabbar/chatd/reactor"
	"github.com/nabbar/chatd/registry"
	"github.com/nabbar/chatd/store"
	"github.com/nabbar/chatd/tlsconn"
	"github.com/nabbar/chatd/wakeup"
	"github.com/nabbar/chatd/worker"
)

const (
	generalPoolSize = 4
	dbPoolSize      = 4
	recvScratchSize = 32 * 1024
)

// Server is the C14 facade: it owns the listening socket, the registry,
// the acceptor and reactor loops, and the two worker pools, and runs them
// until Run's context is canceled or a fatal error occurs on any of them.
type Server struct {
	listenFD *descriptor.Owned
	port     int
	reg      *registry.Registry
	regWake  *wakeup.Wakeup
	acceptor *reactor.Acceptor
	accWake  *wakeup.Wakeup
	loop     *reactor.Loop
	pool     *worker.Pool
	dbPool   *worker.DBPool
	log      *logging.Logger
}

// New resolves port into a listener, constructs the registry (bound to
// tlsCtx for per-connection server-role sessions), the acceptor and the
// two worker pools, and binds the reactor's handlers. The server does
// not start doing anything until Run is called.
func New(port int, st store.Store, tlsCtx *tlsconn.Context, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.New(nil)
	}

	cands, err := netaddr.ResolveServer(port)
	if err != nil {
		return nil, err
	}
	ln, _, err := netaddr.Listen(cands, 0)
	if err != nil {
		return nil, err
	}
	boundPort, err := netaddr.BoundPort(ln.FD())
	if err != nil {
		ln.Close()
		return nil, err
	}

	regWake, err := wakeup.New()
	if err != nil {
		ln.Close()
		return nil, err
	}
	reg, err := registry.New(tlsCtx, regWake, log)
	if err != nil {
		ln.Close()
		regWake.Close()
		return nil, err
	}

	accWake, err := wakeup.New()
	if err != nil {
		ln.Close()
		reg.Close()
		return nil, err
	}
	acc, err := reactor.NewAcceptor(ln.FD(), accWake, reg, log)
	if err != nil {
		ln.Close()
		reg.Close()
		accWake.Close()
		return nil, err
	}

	s := &Server{
		listenFD: ln,
		port:     boundPort,
		reg:      reg,
		regWake:  regWake,
		acceptor: acc,
		accWake:  accWake,
		pool:     worker.NewPool(generalPoolSize, func(worker.Task) {}),
		dbPool:   worker.NewDBPool(dbPoolSize, st, log),
		log:      log,
	}
	s.loop = reactor.New(reg, reactor.Handlers{
		OnRecv:        s.handleRecv,
		OnSend:        s.handleSend,
		OnExecute:     s.handleExecute,
		OnClientError: s.handleClientError,
	})
	return s, nil
}

// Port reports the port actually bound by the listening socket, which
// may differ from the port passed to New when it was 0.
func (s *Server) Port() int { return s.port }

// stopState collects the first terminating condition reported by either
// the acceptor, the reactor, or the caller's context, mirroring the
// source's (mutex, condvar, stop_flag, optional<error>) shutdown gate.
type stopState struct {
	mu   sync.Mutex
	cond *sync.Cond
	done bool
	err  error
}

func newStopState() *stopState {
	s := &stopState{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *stopState) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done, s.err = true, err
	s.cond.Broadcast()
}

func (s *stopState) wait() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done {
		s.cond.Wait()
	}
	return s.err
}

// Run launches the acceptor thread and the reactor thread, and blocks
// until ctx is canceled or either thread reports a fatal error — whichever
// comes first. On return, both threads have been asked to stop and
// joined, and every owned descriptor has been released.
func (s *Server) Run(ctx context.Context) error {
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := newStopState()
	accDone := make(chan error, 1)
	loopDone := make(chan error, 1)

	go func() {
		err := s.acceptor.Run()
		accDone <- err
		st.finish(err)
		cancel()
	}()
	go func() {
		err := s.loop.Run(childCtx)
		loopDone <- err
		st.finish(err)
		cancel()
	}()
	go func() {
		<-ctx.Done()
		st.finish(nil)
	}()

	firstErr := st.wait()

	cancel()
	s.acceptor.Stop()
	s.reg.Wake()

	<-accDone
	<-loopDone

	s.pool.Stop()
	s.dbPool.Stop()

	_ = s.acceptor.Close()
	_ = s.reg.Close()
	_ = s.listenFD.Close()

	return firstErr
}

// reassertInterest implements the interest-synchronization rule shared by
// handleRecv and handleSend: write-interest is asserted whenever bytes
// are pending to send or the TLS session itself wants to write, and
// dropped otherwise.
func (s *Server) reassertInterest(conn *registry.Connection) {
	next := conn.Interest()
	if conn.Send.HasPending() || conn.TLS().NeedsWrite() {
		next |= uint32(registry.InterestWrite)
	} else {
		next &^= uint32(registry.InterestWrite)
	}
	if next != conn.Interest() {
		_ = s.reg.SetInterest(conn, next)
	}
}

// driveHandshake advances conn's TLS handshake by one non-blocking step
// if it is not already complete. It reports whether the handshake is
// done after this call; callers must not touch recv/send traffic until
// it reports true.
func (s *Server) driveHandshake(conn *registry.Connection) bool {
	if conn.TLS().IsHandshakeDone() {
		return true
	}
	res, err := conn.TLS().Handshake()
	if err != nil {
		s.log.WithPeer(conn.Peer()).WithError(err).Error("tls handshake failed")
		s.reg.RequestUnregister(conn.FD())
		return false
	}
	s.reassertInterest(conn)
	_ = res
	return conn.TLS().IsHandshakeDone()
}

func (s *Server) handleRecv(fd int, events uint32) bool {
	conn, ok := s.reg.Find(fd)
	if !ok {
		return true
	}
	if !s.driveHandshake(conn) {
		return true
	}

	var scratch [recvScratchSize]byte
	res, err := conn.TLS().Read(scratch[:])
	if err != nil {
		s.log.WithPeer(conn.Peer()).WithError(err).Error("recv failed")
		s.reg.RequestUnregister(fd)
		return false
	}
	if res.N > 0 {
		conn.Recv.Append(scratch[:res.N])
		s.log.WithPeer(conn.Peer()).WithField(logging.FieldBytes, res.N).Info(bytesPluralMsg("received", res.N))
	}
	s.reassertInterest(conn)

	if res.Closed || events&uint32(registry.InterestHangup) != 0 {
		s.handleClose(conn)
		return false
	}
	return true
}

func (s *Server) handleSend(fd int, events uint32) {
	conn, ok := s.reg.Find(fd)
	if !ok {
		return
	}
	if !s.driveHandshake(conn) {
		return
	}

	data := conn.Send.CurrentData()
	if len(data) > 0 {
		res, err := conn.TLS().Write(data)
		if err != nil {
			s.log.WithPeer(conn.Peer()).WithError(err).Error("send failed")
			s.reg.RequestUnregister(fd)
			return
		}
		if res.N > 0 {
			conn.Send.Advance(res.N)
			conn.Send.CompactIfNeeded()
			conn.Send.ClearIfDone()
			s.log.WithPeer(conn.Peer()).WithField(logging.FieldBytes, res.N).Info(bytesPluralMsg("sent", res.N))
		}
	} else if conn.TLS().HasPendingCipher() {
		// No new plaintext, but a previous Write could not hand all of
		// its ciphertext to the kernel; this EPOLLOUT is the retry.
		if _, err := conn.TLS().FlushPending(); err != nil {
			s.log.WithPeer(conn.Peer()).WithError(err).Error("send failed")
			s.reg.RequestUnregister(fd)
			return
		}
	}
	s.reassertInterest(conn)
}

func (s *Server) handleExecute(fd int) bool {
	conn, ok := s.reg.Find(fd)
	if !ok {
		return false
	}
	line, ok := extractLine(&conn.Recv)
	if !ok {
		return false
	}

	cmd := protocol.Decode(line)
	s.dispatch(fd, conn, cmd)
	return true
}

func (s *Server) dispatch(fd int, conn *registry.Connection, cmd protocol.Command) {
	switch {
	case worker.IsDBCommand(cmd):
		s.dbPool.Submit(worker.Task{Command: cmd, FD: fd, UserID: conn.UserID, Reg: s.reg})
	case worker.IsPoolCommand(cmd):
		s.pool.Submit(worker.Task{Command: cmd, FD: fd, UserID: conn.UserID, Reg: s.reg})
	case cmd.Response != nil:
		s.reg.RequestSend(fd, protocol.Command{Response: &protocol.Response{Text: cmd.Response.Text}})
	case cmd.EmptyLine:
		s.log.WithPeer(conn.Peer()).Debug("empty line")
	case cmd.InvalidTag != "":
		s.log.WithPeer(conn.Peer()).WithField(logging.FieldCommand, string(cmd.InvalidTag)).Warn("invalid command")
	case cmd.UnexpectedArgsTag != "":
		s.log.WithPeer(conn.Peer()).WithField(logging.FieldCommand, string(cmd.UnexpectedArgsTag)).Warn("unexpected argument count")
	}
}

func (s *Server) handleClientError(fd int, events uint32) {
	if conn, ok := s.reg.Find(fd); ok {
		_ = conn.TLS().Shutdown()
		s.log.WithPeer(conn.Peer()).Error("client socket error")
	}
	if errno := netaddr.ListenerError(fd); errno != nil {
		s.log.WithFD(fd).WithError(errno).Error("socket error detail")
	}
	s.reg.RequestUnregister(fd)
}

func (s *Server) handleClose(conn *registry.Connection) {
	_ = conn.TLS().Shutdown()
	s.reg.RequestUnregister(conn.FD())
}

// extractLine pulls the next complete \n-terminated line out of buf, not
// including the terminator, advancing and compacting the buffer. It
// returns false when no complete line is currently available.
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

func bytesPluralMsg(verb string, n int) string {
	if n == 1 {
		return verb + " 1 byte"
	}
	return verb + " bytes"
}
