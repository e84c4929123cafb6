/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

// Package chaterr implements the coded error model shared by every layer of the
// chat server: every public operation returns either a value or a (domain, code)
// pair, never a bare untyped error.
package chaterr

import (
	"fmt"
)

// Domain classifies the origin of an Error, mirroring the taxonomy a tagged
// union would enumerate: errno, resolver, codec, database, configuration, tls.
type Domain uint8

const (
	DomainUnknown Domain = iota
	DomainOS
	DomainResolve
	DomainProtocol
	DomainDatabase
	DomainConfig
	DomainTLS
)

func (d Domain) String() string {
	switch d {
	case DomainOS:
		return "os"
	case DomainResolve:
		return "resolve"
	case DomainProtocol:
		return "protocol"
	case DomainDatabase:
		return "database"
	case DomainConfig:
		return "config"
	case DomainTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Code is a domain-scoped numeric classification, similar in spirit to an
// HTTP status code: stable, small, and meant to be switched on by callers.
type Code uint32

// TLSKind enumerates the class of TLS failure; packed into a Code as
// (kind << 16 | reason) so a single uint32 carries both our classification
// and whatever the underlying crypto/tls or x509 error reported.
type TLSKind uint16

const (
	TLSKindUnknown TLSKind = iota
	TLSKindLibrary
	TLSKindContext
	TLSKindLoad
	TLSKindHandshake
	TLSKindVerify
	TLSKindShutdown
	TLSKindAlert
	TLSKindProtocol
)

// PackTLSCode combines a TLSKind with an opaque library-reported reason into
// a single Code, as the spec requires for the tls domain.
func PackTLSCode(kind TLSKind, reason uint16) Code {
	return Code(uint32(kind)<<16 | uint32(reason))
}

// UnpackTLSCode is the inverse of PackTLSCode.
func UnpackTLSCode(c Code) (kind TLSKind, reason uint16) {
	return TLSKind(uint32(c) >> 16), uint16(uint32(c))
}

// Protocol decode codes.
const (
	CodeEmptyLine Code = iota + 1
	CodeInvalidCommand
	CodeUnexpectedArgument
)

// Configuration codes.
const (
	CodeConfigNotFound Code = iota + 1
	CodeConfigMalformedLine
	CodeConfigEmptyKey
	CodeConfigDuplicateKey
	CodeConfigReadFailed
	CodeConfigMissingKey
)

// Database codes.
const (
	CodeDBConnection Code = iota + 1
	CodeDBSQL
	CodeDBRollback
	CodeDBSerialization
	CodeDBDeadlock
	CodeDBInDoubt
	CodeDBPermission
	CodeDBUniqueViolation
	CodeDBForeignKeyViolation
	CodeDBNotNullViolation
	CodeDBCheckViolation
	CodeDBUnknown
)

// Resolve codes.
const (
	CodeResolveNoCandidate Code = iota + 1
	CodeResolveBindFailed
	CodeResolveConnectFailed
)

// Error is the coded error value returned by every public operation in this
// module. It is deliberately small: a domain, a code, a message and an
// optional wrapped cause, projected to a string by Error().
type Error struct {
	domain Domain
	code   Code
	msg    string
	cause  error
}

// New builds a coded Error. cause may be nil.
func New(domain Domain, code Code, msg string, cause error) *Error {
	return &Error{domain: domain, code: code, msg: msg, cause: cause}
}

// Newf builds a coded Error with a formatted message.
func Newf(domain Domain, code Code, cause error, format string, args ...any) *Error {
	return &Error{domain: domain, code: code, msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Domain() Domain { return e.domain }
func (e *Error) Code() Code     { return e.code }
func (e *Error) Unwrap() error  { return e.cause }

// Error implements the to-string projection required of every domain: the
// format is stable and greppable ("domain[code]: message: cause").
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := fmt.Sprintf("%s[%d]: %s", e.domain, e.code, e.msg)
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

// Is supports errors.Is comparisons against another *Error by domain+code,
// which is the only identity a coded error needs.
func (e *Error) Is(target error) bool {
	o, ok := target.(*Error)
	if !ok || o == nil || e == nil {
		return false
	}
	return e.domain == o.domain && e.code == o.code
}
