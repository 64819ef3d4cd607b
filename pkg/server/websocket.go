package server

import (
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Envelope-level authentication carries the trust decision;
		// the upgrade itself accepts all origins.
		return true
	},
}

// wsConn wraps a WebSocket connection behind the Conn interface with
// write synchronization, so the broadcaster and the session's own
// replies never interleave a frame.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// HandleWebSocket upgrades an HTTP request and runs the connection's
// message loop. Connect, message and close events for one connection
// are serialized on this goroutine; connections run concurrently with
// each other.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if s.config.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.config.MaxMessageBytes)
	}

	conn := newWSConn(ws)
	sess := s.hub.Connect(conn)

	go s.messageLoop(sess, conn)
}

// messageLoop reads inbound payloads until the connection dies and
// hands each one to the hub. Handler failures never end the loop; only
// a read error (close, protocol violation) does.
func (s *Server) messageLoop(sess *Session, conn Conn) {
	defer s.hub.Disconnect(sess)

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			debugLog.Printf("Session %d: read loop ended: %v", sess.ID, err)
			return
		}
		s.hub.HandleMessage(sess, raw)
	}
}

// ReadMessage returns the next text payload.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// WriteMessage sends one text payload, serialized against concurrent
// writers.
func (c *wsConn) WriteMessage(data []byte) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return net.ErrClosed
	}
	c.closeMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying WebSocket once.
func (c *wsConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// RemoteAddr returns the peer address.
func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}
