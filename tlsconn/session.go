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

package tlsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"io"

	"github.com/nabbar/chatd/chaterr"
)

// Result is the structured outcome of every Session operation, mirroring
// the source's tls_io_result: byte count plus three booleans the caller
// must act on before doing anything else with the session.
type Result struct {
	N         int
	Closed    bool
	WantRead  bool
	WantWrite bool
}

// Session wraps one connected, non-blocking descriptor in a TLS state
// machine. All methods are meant to be called only from the reactor
// thread; none of them block.
type Session struct {
	raw          *fdConn
	conn         *tls.Conn
	role         Role
	handshakeOK  bool
	wantRead     bool
	wantWrite    bool
	peerClosed   bool
}

// NewServerSession wraps fd in a server-role TLS session. Handshake must
// still be driven to completion by the caller.
func NewServerSession(ctx *Context, fd int) *Session {
	raw := &fdConn{fd: fd}
	return &Session{raw: raw, conn: tls.Server(raw, ctx.cfg), role: RoleServer}
}

// NewClientSession wraps fd in a client-role TLS session.
func NewClientSession(ctx *Context, fd int) *Session {
	raw := &fdConn{fd: fd}
	return &Session{raw: raw, conn: tls.Client(raw, ctx.cfg), role: RoleClient}
}

func (s *Session) classify(n int, err error) (Result, error) {
	r := Result{N: n}
	if err == nil {
		return r, nil
	}
	if wb, ok := isWouldBlock(err); ok {
		if wb.write {
			r.WantWrite = true
			s.wantWrite = true
		} else {
			r.WantRead = true
			s.wantRead = true
		}
		return r, nil
	}
	if errors.Is(err, io.EOF) {
		r.Closed = true
		s.peerClosed = true
		return r, nil
	}
	return r, chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindLibrary, 0), "tls io", err)
}

// Handshake drives the TLS handshake forward by one non-blocking step.
func (s *Session) Handshake() (Result, error) {
	s.wantRead, s.wantWrite = false, false
	err := s.conn.HandshakeContext(context.Background())
	if err == nil {
		s.handshakeOK = true
		return Result{}, nil
	}
	res, cerr := s.classify(0, err)
	return res, cerr
}

// Read reads decrypted bytes into dst.
func (s *Session) Read(dst []byte) (Result, error) {
	s.wantRead, s.wantWrite = false, false
	n, err := s.conn.Read(dst)
	return s.classify(n, err)
}

// Write encrypts and writes src. Because fdConn.Write always absorbs
// what it is given, a nil error here means src was fully handed to the
// TLS record layer, not that every resulting byte has reached the
// kernel yet: HasPendingCipher/FlushPending cover the rest.
func (s *Session) Write(src []byte) (Result, error) {
	s.wantRead, s.wantWrite = false, false
	n, err := s.conn.Write(src)
	return s.classify(n, err)
}

// HasPendingCipher reports whether ciphertext produced by a previous
// Write is still queued in the underlying fd, waiting for the socket to
// accept it.
func (s *Session) HasPendingCipher() bool {
	return s.raw.hasPending()
}

// FlushPending retries writing ciphertext the fd could not take in a
// previous call. It touches only the transport, never the TLS record
// layer, so it is safe to call on every writable event regardless of
// whether new plaintext is queued.
func (s *Session) FlushPending() (Result, error) {
	if err := s.raw.drain(); err != nil {
		return Result{}, chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindLibrary, 0), "tls io", err)
	}
	return Result{}, nil
}

// Shutdown performs a best-effort close_notify. Any outcome other than a
// hard library error is treated as success because the socket is about
// to be dropped regardless.
func (s *Session) Shutdown() error {
	err := s.conn.Close()
	if err == nil {
		return nil
	}
	if _, ok := isWouldBlock(err); ok {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindShutdown, 0), "tls shutdown", err)
}

// VerifyPeer is called by clients exactly once, immediately after the
// handshake completes; crypto/tls already verified the chain and
// hostname during the handshake when RootCAs/ServerName were set, so
// this re-asserts that a verified peer certificate is actually present.
func (s *Session) VerifyPeer() error {
	state := s.conn.ConnectionState()
	if !state.HandshakeComplete || len(state.PeerCertificates) == 0 {
		return chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindVerify, 0), "no verified peer certificate", nil)
	}
	return nil
}

func (s *Session) IsHandshakeDone() bool { return s.handshakeOK }
func (s *Session) NeedsRead() bool       { return s.wantRead }
func (s *Session) NeedsWrite() bool      { return s.wantWrite || s.raw.hasPending() }
func (s *Session) IsClosed() bool        { return s.peerClosed }
