package server

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"testing"

	"github.com/aeolun/wirehub/pkg/store"
)

// initTestLoggers initializes package-level loggers for testing
func initTestLoggers(t *testing.T) {
	t.Helper()

	// Discard logs during tests to keep output clean
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
}

// mockConn is an in-memory Conn that records everything written to it.
type mockConn struct {
	mu         sync.Mutex
	writes     [][]byte
	failWrites bool
	closeCount int
}

func newMockConn() *mockConn {
	return &mockConn{}
}

func (c *mockConn) ReadMessage() ([]byte, error) {
	return nil, io.EOF
}

func (c *mockConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failWrites {
		return errors.New("write failed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCount++
	return nil
}

func (c *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (c *mockConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *mockConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes = nil
}

func (c *mockConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeCount
}

// mockPrincipalStore implements the principal half of DataStore for
// authenticator tests; node operations are unused there.
type mockPrincipalStore struct {
	principals []*store.Principal
	lookupErr  error
}

func (m *mockPrincipalStore) PrincipalsBySessionKey(key string) ([]*store.Principal, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	var matches []*store.Principal
	for _, p := range m.principals {
		if p.SessionKey != nil && *p.SessionKey == key {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (m *mockPrincipalStore) VerifyCredentials(name, password string) (*store.Principal, error) {
	return nil, store.ErrBadCredentials
}

func (m *mockPrincipalStore) SetSessionKey(principalID int64, key string) error {
	for _, p := range m.principals {
		if p.ID == principalID {
			k := key
			p.SessionKey = &k
			return nil
		}
	}
	return store.ErrPrincipalNotFound
}

func (m *mockPrincipalStore) ClearSessionKey(principalID int64) error {
	for _, p := range m.principals {
		if p.ID == principalID {
			p.SessionKey = nil
			return nil
		}
	}
	return store.ErrPrincipalNotFound
}

func (m *mockPrincipalStore) CreateNode(nodeType string, data map[string]any, ownerID *int64) (int64, error) {
	return 0, errors.New("not implemented")
}

func (m *mockPrincipalStore) GetNode(id int64) (*store.Node, error) {
	return nil, store.ErrNodeNotFound
}

func (m *mockPrincipalStore) UpdateNode(id int64, data map[string]any) error {
	return store.ErrNodeNotFound
}

func (m *mockPrincipalStore) DeleteNode(id int64) error {
	return store.ErrNodeNotFound
}

func (m *mockPrincipalStore) ListNodes(nodeType string) ([]*store.Node, error) {
	return nil, nil
}

// testHub creates a hub backed by a real SQLite store in a temp dir.
func testHub(t *testing.T) (*Hub, *store.Store) {
	t.Helper()
	initTestLoggers(t)

	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hub, err := NewHub(st, "id")
	if err != nil {
		t.Fatalf("Failed to create hub: %v", err)
	}
	return hub, st
}

// loginSession connects a session and logs it in as the given
// principal, clearing the login reply from the mock connection.
func loginSession(t *testing.T, hub *Hub, name, password string) (*Session, *mockConn) {
	t.Helper()

	conn := newMockConn()
	sess := hub.Connect(conn)

	raw := []byte(`{"command":"login","data":{"user":"` + name + `","pass":"` + password + `"}}`)
	hub.HandleMessage(sess, raw)

	if !sess.Authenticated() {
		t.Fatalf("Login as %s did not authenticate session", name)
	}
	conn.Reset()
	return sess, conn
}
