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

// Package netaddr resolves host/port pairs into connection-ready address
// candidates and turns those candidates into bound listeners or connected
// sockets, the way a C getaddrinfo/socket/bind/listen chain would, but
// expressed with golang.org/x/sys/unix so the reactor keeps full control of
// descriptor lifetime and non-blocking mode.
package netaddr

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/nabbar/chatd/chaterr"
)

// Candidate is one resolved address a listener or client connection attempt
// can be built from.
type Candidate struct {
	Family int // unix.AF_INET or unix.AF_INET6
	IP     net.IP
	Port   int
}

// SockAddr builds the unix.Sockaddr this candidate's family needs for
// bind/connect.
func (c Candidate) SockAddr() unix.Sockaddr {
	if c.Family == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: c.Port}
		copy(sa.Addr[:], c.IP.To16())
		return sa
	}
	sa := &unix.SockaddrInet4{Port: c.Port}
	copy(sa.Addr[:], c.IP.To4())
	return sa
}

// String renders the candidate as numeric-host:numeric-port, the same
// projection used for logged peer endpoints.
func (c Candidate) String() string {
	return net.JoinHostPort(c.IP.String(), fmt.Sprintf("%d", c.Port))
}

// ResolveServer produces the passive-listening candidate chain for a port:
// the IPv6 wildcard followed by the IPv4 wildcard, mirroring getaddrinfo
// called with a nil host and AI_PASSIVE.
func ResolveServer(port int) ([]Candidate, error) {
	if port < 0 || port > 65535 {
		return nil, chaterr.New(chaterr.DomainResolve, chaterr.CodeResolveNoCandidate, "port out of range", nil)
	}
	return []Candidate{
		{Family: unix.AF_INET6, IP: net.IPv6zero, Port: port},
		{Family: unix.AF_INET, IP: net.IPv4zero, Port: port},
	}, nil
}

// ResolveClient looks host up via the system resolver and returns one
// candidate per returned address, preserving the resolver's ordering.
func ResolveClient(ctx context.Context, host string, port int) ([]Candidate, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, chaterr.New(chaterr.DomainResolve, chaterr.CodeResolveNoCandidate, "lookup "+host, err)
	}
	if len(ips) == 0 {
		return nil, chaterr.New(chaterr.DomainResolve, chaterr.CodeResolveNoCandidate, "lookup "+host, nil)
	}

	out := make([]Candidate, 0, len(ips))
	for _, ip := range ips {
		fam := unix.AF_INET
		if ip.IP.To4() == nil {
			fam = unix.AF_INET6
		}
		out = append(out, Candidate{Family: fam, IP: ip.IP, Port: port})
	}
	return out, nil
}
