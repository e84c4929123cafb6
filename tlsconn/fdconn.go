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
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/iobuf"
)

// wouldBlock is returned by fdConn.Read in place of EAGAIN. It implements
// net.Error with Timeout()==true, the signal crypto/tls's internal
// plumbing treats as "no progress, try again later" rather than a fatal
// transport error. The write path never returns it: see fdConn.Write.
type wouldBlock struct {
	write bool
}

func (e *wouldBlock) Error() string {
	if e.write {
		return "tlsconn: write would block"
	}
	return "tlsconn: read would block"
}

func (e *wouldBlock) Timeout() bool   { return true }
func (e *wouldBlock) Temporary() bool { return true }

// isWouldBlock unwraps err looking for a *wouldBlock, the way Session
// classifies a bubbled-up tls error into want_read/want_write.
func isWouldBlock(err error) (*wouldBlock, bool) {
	var wb *wouldBlock
	if errors.As(err, &wb) {
		return wb, true
	}
	return nil, false
}

// fdConn adapts a raw, already-non-blocking socket descriptor to
// net.Conn so it can sit underneath tls.Server/tls.Client. Deadlines are
// unused; non-blocking mode plus wouldBlock already gives the reactor
// the cooperative-yield signal it needs.
//
// crypto/tls does not tolerate a short or failed Write: the first error
// it sees from the underlying conn is latched via setErrorLocked and
// poisons every later write on that tls.Conn, and a short count is never
// retried internally. So Write never reports either to its caller:
// ciphertext handed down is queued in cipher and drained to the fd as
// the kernel accepts it, across as many calls as that takes.
type fdConn struct {
	fd     int
	cipher iobuf.Offset
}

func (c *fdConn) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, b)
		if err == nil {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, &wouldBlock{write: false}
		}
		return 0, err
	}
}

// Write absorbs b in full, queuing it behind any ciphertext already
// pending, then attempts to drain as much as the kernel currently
// accepts. It always reports len(b) written unless the socket itself
// has failed; whatever the kernel would not take stays in cipher for a
// later drain call.
func (c *fdConn) Write(b []byte) (int, error) {
	c.cipher.Append(b)
	if err := c.drain(); err != nil {
		return 0, err
	}
	return len(b), nil
}

// drain pushes cipher's unsent window to the socket, stopping cleanly
// on EAGAIN rather than surfacing it: the remainder stays queued for the
// next drain, triggered by the reactor once the fd is writable again.
func (c *fdConn) drain() error {
	for c.cipher.HasPending() {
		n, err := unix.Write(c.fd, c.cipher.CurrentData())
		if err == nil {
			c.cipher.Advance(n)
			c.cipher.CompactIfNeeded()
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}
	c.cipher.ClearIfDone()
	return nil
}

// hasPending reports whether ciphertext is still queued locally, waiting
// for the fd to accept it.
func (c *fdConn) hasPending() bool {
	return c.cipher.HasPending()
}

func (c *fdConn) Close() error                       { return nil }
func (c *fdConn) LocalAddr() net.Addr                { return nil }
func (c *fdConn) RemoteAddr() net.Addr               { return nil }
func (c *fdConn) SetDeadline(t time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(t time.Time) error { return nil }
