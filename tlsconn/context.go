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

// Package tlsconn adapts crypto/tls, which has no public non-blocking API,
// to the reactor's cooperative model: a raw, non-blocking socket is
// wrapped in a net.Conn shim that turns EAGAIN into a recognizable error,
// and Session classifies whatever bubbles back up from tls.Conn into a
// {byte_count, closed, want_read, want_write} result the reactor can act
// on without ever blocking its single thread.
package tlsconn

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/nabbar/chatd/chaterr"
)

var validate = validator.New()

// Role distinguishes a Context built for accepting connections from one
// built for dialing them; Session construction picks tls.Server or
// tls.Client accordingly.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

// ServerOptions configures a server-role Context: certificate chain and
// private key, both PEM, both filesystem paths.
type ServerOptions struct {
	CertPath string `validate:"required"`
	KeyPath  string `validate:"required"`
}

// ClientOptions configures a client-role Context. CAPath may be empty, in
// which case the system trust store is used instead of a pinned bundle.
// ServerName drives both SNI and hostname verification.
type ClientOptions struct {
	CAPath     string
	ServerName string `validate:"required"`
}

// Context wraps a *tls.Config pinned to the options every Connection in
// this process shares: minimum protocol version 1.2, no session
// compression (crypto/tls never implements TLS compression), partial
// writes allowed (crypto/tls always supports them).
type Context struct {
	role Role
	cfg  *tls.Config
}

// NewServerContext loads the certificate chain and key, verifying they
// match (tls.LoadX509KeyPair does this), before pinning minimum TLS 1.2.
func NewServerContext(opts ServerOptions) (*Context, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindContext, 0), "invalid server tls options", err)
	}

	cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
	if err != nil {
		return nil, chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindLoad, 0), "load certificate chain/key", err)
	}

	return &Context{
		role: RoleServer,
		cfg: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}, nil
}

// NewClientContext loads the CA bundle at opts.CAPath, or falls back to
// the system trust store when opts.CAPath is empty.
func NewClientContext(opts ClientOptions) (*Context, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindContext, 0), "invalid client tls options", err)
	}

	var pool *x509.CertPool
	if opts.CAPath != "" {
		pem, err := os.ReadFile(opts.CAPath)
		if err != nil {
			return nil, chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindLoad, 0), "read CA bundle", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, chaterr.New(chaterr.DomainTLS, chaterr.PackTLSCode(chaterr.TLSKindLoad, 0), "parse CA bundle", nil)
		}
	}

	return &Context{
		role: RoleClient,
		cfg: &tls.Config{
			RootCAs:    pool,
			ServerName: opts.ServerName,
			MinVersion: tls.VersionTLS12,
		},
	}, nil
}

// Role reports whether this Context accepts or dials connections.
func (c *Context) Role() Role { return c.role }
