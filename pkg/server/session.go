package server

import (
	"net"
	"sync"
)

// Conn is the transport handle a session writes to. Implementations
// must serialize their own writes; wsConn and the test mocks do.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// Session is one client connection plus its authentication state. A
// session is authenticated exactly while it holds a non-empty token;
// the only way out of the authenticated state is closing the
// connection (logout clears the stored key, not the local token).
type Session struct {
	ID uint64

	mu    sync.RWMutex
	conn  Conn // nil once closed
	token string

	closeOnce sync.Once
}

// Authenticated reports whether the session holds a token.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token != ""
}

// Token returns the session's current token ("" when unauthenticated).
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

// SetAuthenticated transitions the session to the authenticated state
// by attaching the token it presented or was issued.
func (s *Session) SetAuthenticated(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// Transport returns the session's connection, or nil once closed.
func (s *Session) Transport() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.conn
}

// close clears token and transport exactly once and closes the
// underlying connection. Unregistration is the Hub's job; see
// Hub.Disconnect.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.token = ""
		s.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
	})
}
