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

// Package descriptor provides scoped ownership of a raw kernel file
// descriptor: exactly one owner at a time, closed on Reset/Close, never
// closed twice.
package descriptor

import (
	"golang.org/x/sys/unix"
)

// Empty is the sentinel value for "no descriptor held".
const Empty = -1

// Owned moves exclusively; its zero value holds no descriptor. Owned is not
// safe for concurrent use from more than one goroutine, matching the single
// registry-thread ownership rule the reactor relies on.
type Owned struct {
	fd int
}

// New wraps an existing raw descriptor.
func New(fd int) *Owned {
	return &Owned{fd: fd}
}

// NewEmpty constructs an Owned holding no descriptor.
func NewEmpty() *Owned {
	return &Owned{fd: Empty}
}

// FD returns the raw descriptor, or Empty if none is held.
func (o *Owned) FD() int {
	if o == nil {
		return Empty
	}
	return o.fd
}

// Valid reports whether a real descriptor is held.
func (o *Owned) Valid() bool {
	return o != nil && o.fd != Empty
}

// Reset closes the previously held descriptor (if any) and adopts fd.
func (o *Owned) Reset(fd int) {
	o.Close()
	o.fd = fd
}

// Release returns the held descriptor without closing it, leaving Owned
// empty. Used when ownership transfers to another component (e.g. handing
// an accepted socket to the registry).
func (o *Owned) Release() int {
	fd := o.fd
	o.fd = Empty
	return fd
}

// Close closes the held descriptor, if any, and becomes empty. Safe to call
// repeatedly.
func (o *Owned) Close() error {
	if o == nil || o.fd == Empty {
		return nil
	}
	fd := o.fd
	o.fd = Empty
	return unix.Close(fd)
}
