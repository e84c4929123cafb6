/*
 * MIT License
 *
 * Copyright (c) 2021 Nicolas JUHEL
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

// Package logging wraps logrus with the structured-field conventions the
// reactor and its workers use to log connection lifecycle and I/O events.
// Field keys are kept stable so log pipelines can filter on them.
package logging

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const (
	FieldPeer    = "peer"
	FieldFD      = "fd"
	FieldRoom    = "room_id"
	FieldUser    = "user_id"
	FieldBytes   = "bytes"
	FieldCommand = "command"
	FieldClients = "clients"
)

// level is the single global mutable word the spec calls out: the active
// log-level, set once at startup and read by every entry afterward.
var level int32 = int32(logrus.InfoLevel)

// SetLevel adjusts the process-wide log level. Safe to call concurrently;
// the level is held in an atomic int32 rather than protected by a mutex.
func SetLevel(l logrus.Level) {
	atomic.StoreInt32(&level, int32(l))
}

// Logger is a thin, chainable façade over a *logrus.Logger producing entries
// pre-populated with the fields relevant to one connection or operation.
type Logger struct {
	base *logrus.Logger
}

// New builds a Logger writing to w (os.Stderr when w is nil) with the
// standard text formatter, matching the teacher's default hook output.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.Level(atomic.LoadInt32(&level)))
	return &Logger{base: l}
}

func (l *Logger) entry() *logrus.Entry {
	l.base.SetLevel(logrus.Level(atomic.LoadInt32(&level)))
	return logrus.NewEntry(l.base)
}

// WithPeer returns an entry tagged with the connection's peer endpoint.
func (l *Logger) WithPeer(peer string) *logrus.Entry {
	return l.entry().WithField(FieldPeer, peer)
}

// WithFD returns an entry tagged with the connection's descriptor number.
func (l *Logger) WithFD(fd int) *logrus.Entry {
	return l.entry().WithField(FieldFD, fd)
}

// Entry returns a bare entry with no pre-set fields.
func (l *Logger) Entry() *logrus.Entry {
	return l.entry()
}
