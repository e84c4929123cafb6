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

package server_test

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nabbar/chatd/logging"
	"github.com/nabbar/chatd/server"
	"github.com/nabbar/chatd/store"
	"github.com/nabbar/chatd/tlsconn"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "server Suite")
}

// generateSelfSigned mirrors tlsconn's own test helper: a self-signed
// cert usable as both the server's identity and the client's trust
// anchor.
func generateSelfSigned(dir string) (certPath, keyPath string) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	Expect(err).ToNot(HaveOccurred())

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	Expect(err).ToNot(HaveOccurred())

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	Expect(err).ToNot(HaveOccurred())
	Expect(pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})).To(Succeed())
	Expect(certOut.Close()).To(Succeed())

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	Expect(err).ToNot(HaveOccurred())
	keyOut, err := os.Create(keyPath)
	Expect(err).ToNot(HaveOccurred())
	Expect(pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})).To(Succeed())
	Expect(keyOut.Close()).To(Succeed())

	return certPath, keyPath
}

// memStore is a minimal in-process Store implementation enforcing the
// same membership/ownership rules GormStore enforces against a real
// database, used here so the integration tests below exercise the full
// registry/reactor/dbpool wiring without a MySQL server.
type memStore struct {
	mu         sync.Mutex
	passwords  map[string]string
	nicknames  map[string]string
	rooms      map[string]*memRoom
	nextRoomID int
	messages   map[string][]store.HistoryEntry
}

type memRoom struct {
	id, name, owner string
	members         map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		passwords: make(map[string]string),
		nicknames: make(map[string]string),
		rooms:     make(map[string]*memRoom),
		messages:  make(map[string][]store.HistoryEntry),
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) Login(_ context.Context, id, password string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pw, ok := m.passwords[id]
	if !ok || pw != password {
		return "", false, nil
	}
	nick := m.nicknames[id]
	if nick == "" {
		nick = "guest"
	}
	return nick, true, nil
}

func (m *memStore) Signup(_ context.Context, id, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.passwords[id]; ok {
		return fmt.Errorf("id %q already exists", id)
	}
	m.passwords[id] = password
	return nil
}

func (m *memStore) ChangeNickname(_ context.Context, id, nickname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nicknames[id] = nickname
	return nil
}

func (m *memStore) RequestFriend(context.Context, string, string) error   { return nil }
func (m *memStore) AcceptFriendRequest(context.Context, string, string) error { return nil }
func (m *memStore) RejectFriendRequest(context.Context, string, string) error { return nil }
func (m *memStore) RemoveFriend(context.Context, string, string) error       { return nil }
func (m *memStore) ListFriends(context.Context, string) ([]string, error)    { return nil, nil }
func (m *memStore) ListFriendRequests(context.Context, string) ([]string, error) {
	return nil, nil
}

func (m *memStore) CreateRoom(_ context.Context, ownerID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRoomID++
	id := strconv.Itoa(m.nextRoomID)
	m.rooms[id] = &memRoom{id: id, name: name, owner: ownerID, members: map[string]bool{ownerID: true}}
	return id, nil
}

func (m *memStore) DeleteRoom(_ context.Context, ownerID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || r.owner != ownerID {
		return fmt.Errorf("not found or not owner")
	}
	delete(m.rooms, roomID)
	return nil
}

func (m *memStore) InviteRoom(_ context.Context, inviterID, roomID, friendID string) (store.InviteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return store.InviteRoomNotFound, nil
	}
	if r.owner != inviterID {
		return store.InviteNotOwner, nil
	}
	if _, ok := m.passwords[friendID]; !ok {
		return store.InviteFriendNotFound, nil
	}
	r.members[friendID] = true
	return store.InviteOK, nil
}

func (m *memStore) LeaveRoom(_ context.Context, userID, roomID string) (store.LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return store.LeaveRoomNotFound, nil
	}
	if !r.members[userID] {
		return store.LeaveNotMember, nil
	}
	delete(r.members, userID)
	return store.LeaveOK, nil
}

func (m *memStore) ListRooms(_ context.Context, userID string) ([]store.RoomInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.RoomInfo
	for _, r := range m.rooms {
		if r.members[userID] {
			out = append(out, store.RoomInfo{ID: r.id, Name: r.name, Owner: r.owner, Members: len(r.members)})
		}
	}
	return out, nil
}

func (m *memStore) JoinedRooms(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.rooms {
		if r.members[userID] {
			out = append(out, r.id)
		}
	}
	return out, nil
}

func (m *memStore) CreateRoomMessage(_ context.Context, senderID, roomID, body string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || !r.members[senderID] {
		return "", false, nil
	}
	m.messages[roomID] = append(m.messages[roomID], store.HistoryEntry{Sender: senderID, Body: body})
	return strconv.Itoa(len(m.messages[roomID])), true, nil
}

func (m *memStore) ListRoomMessages(_ context.Context, callerID, roomID string, limit int) ([]store.HistoryEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || !r.members[callerID] {
		return nil, false, nil
	}
	all := m.messages[roomID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]store.HistoryEntry(nil), all...), true, nil
}

// testClient drives one TLS-over-TCP connection to a running Server the
// way chatd-client does, without pulling in the client package, so the
// two are tested independently.
type testClient struct {
	conn *tls.Conn
	r    *bufio.Reader
}

func dialTestClient(port int, certPath string) *testClient {
	pool := x509.NewCertPool()
	pemBytes, err := os.ReadFile(certPath)
	Expect(err).ToNot(HaveOccurred())
	Expect(pool.AppendCertsFromPEM(pemBytes)).To(BeTrue())

	var conn *tls.Conn
	Eventually(func() error {
		c, derr := tls.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port), &tls.Config{RootCAs: pool, ServerName: "localhost"})
		if derr != nil {
			return derr
		}
		conn = c
		return nil
	}, 2*time.Second).Should(Succeed())

	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	_, err := c.conn.Write([]byte(line + "\n"))
	Expect(err).ToNot(HaveOccurred())
}

func (c *testClient) readLine() string {
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := c.r.ReadString('\n')
	Expect(err).ToNot(HaveOccurred())
	return strings.TrimSuffix(line, "\n")
}

func (c *testClient) close() { _ = c.conn.Close() }

var _ = Describe("Server", func() {
	var (
		srv      *server.Server
		st       *memStore
		certPath string
		ctx      context.Context
		cancel   context.CancelFunc
		runDone  chan error
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		var keyPath string
		certPath, keyPath = generateSelfSigned(dir)

		tlsCtx, err := tlsconn.NewServerContext(tlsconn.ServerOptions{CertPath: certPath, KeyPath: keyPath})
		Expect(err).ToNot(HaveOccurred())

		st = newMemStore()
		srv, err = server.New(0, st, tlsCtx, logging.New(nil))
		Expect(err).ToNot(HaveOccurred())
		Expect(srv.Port()).ToNot(Equal(0))

		ctx, cancel = context.WithCancel(context.Background())
		runDone = make(chan error, 1)
		go func() { runDone <- srv.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(runDone, 2*time.Second).Should(Receive())
	})

	It("drives register, login, nick, room creation, say and history end to end", func() {
		c := dialTestClient(srv.Port(), certPath)
		defer c.close()

		c.send("register\ralice\rpw")
		Expect(c.readLine()).To(Equal("response\rregister success"))

		c.send("login\ralice\rpw")
		Expect(c.readLine()).To(Equal("response\rlogin success"))

		c.send("nick\rAlice")
		Expect(c.readLine()).To(Equal("response\rnick change success"))

		c.send("create_room\rlobby")
		created := c.readLine()
		Expect(created).To(HavePrefix("response\rroom created: "))
		roomID := strings.TrimSuffix(strings.TrimPrefix(created, "response\rroom created: "), " (lobby)")
		Expect(roomID).ToNot(BeEmpty())

		c.send("say\r" + roomID + "\rhi all")
		Expect(c.readLine()).To(Equal("response\rAlice: hi all"))

		c.send("history\r" + roomID + "\r10")
		Expect(c.readLine()).To(Equal("response\rhistory: 1"))
		Expect(c.readLine()).To(Equal("response\rhistory: alice: hi all"))
	})

	It("rejects commands requiring login before one has happened", func() {
		c := dialTestClient(srv.Port(), certPath)
		defer c.close()

		c.send("nick\rsomeone")
		Expect(c.readLine()).To(Equal("response\rlogin required"))
	})

	It("reports a failed login without revealing whether the id exists", func() {
		c := dialTestClient(srv.Port(), certPath)
		defer c.close()

		c.send("login\rghost\rwrong")
		Expect(c.readLine()).To(Equal("response\rlogin failed"))
	})

	It("lets a second client join a room and receive the first client's messages", func() {
		a := dialTestClient(srv.Port(), certPath)
		defer a.close()
		b := dialTestClient(srv.Port(), certPath)
		defer b.close()

		a.send("register\rowner\rpw")
		Expect(a.readLine()).To(Equal("response\rregister success"))
		a.send("login\rowner\rpw")
		Expect(a.readLine()).To(Equal("response\rlogin success"))

		b.send("register\rfriend\rpw")
		Expect(b.readLine()).To(Equal("response\rregister success"))
		b.send("login\rfriend\rpw")
		Expect(b.readLine()).To(Equal("response\rlogin success"))

		a.send("create_room\rlobby")
		created := a.readLine()
		roomID := strings.TrimSuffix(strings.TrimPrefix(created, "response\rroom created: "), " (lobby)")

		a.send("invite_room\r" + roomID + "\rfriend")
		Expect(a.readLine()).To(Equal("response\rinvite success"))

		a.send("say\r" + roomID + "\rwelcome")
		Expect(a.readLine()).To(Equal("response\rguest: welcome"))
		Expect(b.readLine()).To(Equal("response\rguest: welcome"))
	})
})
