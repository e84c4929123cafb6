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

// Package iobuf implements the cursor-based append/drain buffers the reactor
// uses to batch ingress and egress bytes per connection: Offset is the
// shared primitive, RecvBuffer and SendBuffer are its two specializations.
package iobuf

// compactThreshold governs Offset.CompactIfNeeded together with a fixed
// one-half ratio: the consumed prefix is only worth memmove-ing once it is
// both "big" in absolute terms and at least half of the stored bytes.
const compactThreshold = 8192

// Offset is an append-only byte container with a cursor marking how much of
// it has been consumed. It underlies both the recv buffer (consumed by the
// line codec) and the send buffer (consumed by the TLS write path).
type Offset struct {
	data   []byte
	cursor int
}

// HasPending reports whether there are unconsumed bytes.
func (o *Offset) HasPending() bool {
	return o.cursor < len(o.data)
}

// Len returns the total number of bytes currently stored (consumed + pending).
func (o *Offset) Len() int {
	return len(o.data)
}

// Cursor returns the current consumption offset.
func (o *Offset) Cursor() int {
	return o.cursor
}

// CurrentData returns the unsent/unconsumed window: data[cursor:].
func (o *Offset) CurrentData() []byte {
	return o.data[o.cursor:]
}

// Remaining is an alias of CurrentData kept for readability at recv call
// sites that think in terms of "bytes remaining to parse".
func (o *Offset) Remaining() []byte {
	return o.CurrentData()
}

// Append adds p to the tail of the buffer. It reports true iff the buffer
// transitioned from empty-pending to has-pending, the signal callers on the
// send side use to know they must request write-readiness.
func (o *Offset) Append(p []byte) bool {
	wasPending := o.HasPending()
	o.data = append(o.data, p...)
	return !wasPending && o.HasPending()
}

// Advance moves the cursor forward by n bytes. It panics if that would push
// the cursor past the end of the buffer — callers must never advance by
// more than what CurrentData() exposed.
func (o *Offset) Advance(n int) {
	if o.cursor+n > len(o.data) {
		panic("iobuf: Advance beyond buffer length")
	}
	o.cursor += n
}

// ClearIfDone resets the buffer to empty and reports true exactly when the
// cursor had caught up with the end of the data.
func (o *Offset) ClearIfDone() bool {
	if o.cursor != len(o.data) {
		return false
	}
	o.data = o.data[:0]
	o.cursor = 0
	return true
}

// CompactIfNeeded erases the already-consumed prefix once the cursor is both
// past compactThreshold and at least half of the buffer, reclaiming memory
// without ever reordering the unsent tail bytes.
func (o *Offset) CompactIfNeeded() {
	if o.cursor < compactThreshold || o.cursor*2 < len(o.data) {
		return
	}
	n := copy(o.data, o.data[o.cursor:])
	o.data = o.data[:n]
	o.cursor = 0
}

// RecvBuffer accumulates decrypted bytes read from the TLS session until the
// line codec consumes complete lines from it.
type RecvBuffer struct {
	Offset
}

// SendBuffer accumulates plaintext bytes queued for the TLS session to
// encrypt and flush to the socket.
type SendBuffer struct {
	Offset
}
