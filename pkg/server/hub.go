package server

import (
	"sync/atomic"
	"time"

	"github.com/aeolun/wirehub/pkg/protocol"
)

// Hub owns the connection registry, the command registry and the
// authenticator, and drives the protocol state machine for every
// inbound payload. One Hub instance is injected into every connection
// handler; there is no package-level session state.
type Hub struct {
	registry      *Registry
	commands      *CommandRegistry
	auth          *Authenticator
	store         DataStore
	identityField string
	metrics       *Metrics

	nextSessionID uint64
}

// NewHub creates a hub with the default command set registered.
// Additional commands can be registered through RegisterCommand before
// the server starts serving connections.
func NewHub(st DataStore, identityField string) (*Hub, error) {
	h := &Hub{
		registry:      NewRegistry(),
		commands:      NewCommandRegistry(),
		auth:          NewAuthenticator(st),
		store:         st,
		identityField: identityField,
	}

	for _, factory := range defaultCommands() {
		if err := h.commands.Register(factory); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// SetMetrics attaches metrics to the hub.
func (h *Hub) SetMetrics(metrics *Metrics) {
	h.metrics = metrics
}

// RegisterCommand adds a command before startup completes. Calling it
// while connections are being served is not supported.
func (h *Hub) RegisterCommand(factory HandlerFactory) error {
	return h.commands.Register(factory)
}

// Connect creates a session for a new connection and registers it.
func (h *Hub) Connect(conn Conn) *Session {
	sess := &Session{
		ID:   atomic.AddUint64(&h.nextSessionID, 1),
		conn: conn,
	}
	h.registry.Register(sess)

	if h.metrics != nil {
		h.metrics.RecordSessionCreated()
		h.metrics.RecordActiveSessions(h.registry.Len())
	}

	debugLog.Printf("Session %d: connected from %s", sess.ID, conn.RemoteAddr())
	return sess
}

// Disconnect unregisters the session and clears its token and
// transport. Safe to call more than once; the teardown runs exactly
// once per connection regardless of how the close was triggered.
func (h *Hub) Disconnect(sess *Session) {
	h.registry.Unregister(sess)
	sess.close()

	if h.metrics != nil {
		h.metrics.RecordSessionDisconnected()
		h.metrics.RecordActiveSessions(h.registry.Len())
	}

	debugLog.Printf("Session %d: disconnected", sess.ID)
}

// HandleMessage processes one raw inbound payload from a session. All
// failures are contained here: a processing error never tears down the
// connection.
func (h *Hub) HandleMessage(sess *Session, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			errorLog.Printf("Session %d: panic in message handler: %v", sess.ID, r)
		}
	}()

	env, err := protocol.Decode(raw)
	if err != nil {
		errorLog.Printf("Session %d: unable to parse message: %v", sess.ID, err)
		if h.metrics != nil {
			h.metrics.RecordDecodeFailure()
		}
		return
	}

	if h.metrics != nil {
		h.metrics.RecordMessageReceived(env.Command)
	}

	factory, ok := h.commands.Lookup(env.Command)
	if !ok {
		// No client-visible signal for unknown commands; documented
		// protocol gap.
		errorLog.Printf("Session %d: unknown command %q", sess.ID, env.Command)
		if h.metrics != nil {
			h.metrics.RecordUnknownCommand()
		}
		return
	}

	// Opportunistic authentication: any inbound message carrying a
	// token can authenticate a fresh connection, not just login.
	if !sess.Authenticated() && env.Token != "" {
		if _, err := h.auth.AuthenticateToken(sess, env.Token); err != nil {
			debugLog.Printf("Session %d: token authentication failed: %v", sess.ID, err)
			if h.metrics != nil {
				h.metrics.RecordAuthAttempt("failure")
			}
		} else if h.metrics != nil {
			h.metrics.RecordAuthAttempt("success")
		}
	}

	handler := factory(HandlerContext{
		Session:       sess,
		Hub:           h,
		Store:         h.store,
		IdentityField: h.identityField,
	})

	// The inbound sessionValid flag is never trusted; overwrite it
	// with the post-authentication state.
	env.SessionValid = sess.Authenticated()

	// Scrub the credential before business logic sees the envelope.
	// No tokens in broadcasts, ever.
	env.Token = ""

	outcome, err := handler.Process(env)
	if err != nil {
		errorLog.Printf("Session %d: command %q failed: %v", sess.ID, env.Command, err)
		if h.metrics != nil {
			h.metrics.RecordHandlerFailure(env.Command)
		}
		return
	}

	if outcome == OutcomeBroadcast {
		data, err := env.Encode()
		if err != nil {
			errorLog.Printf("Session %d: failed to encode broadcast for %q: %v", sess.ID, env.Command, err)
			return
		}
		h.Broadcast(data)
	}
}

// Reply delivers an envelope to a single session. The authenticated
// argument is explicit so the caller states, rather than implies, the
// session state the reply is stamped with; login must pass true after
// marking its session authenticated or the reply carrying the fresh
// token would be suppressed. keepToken is true only for that login
// reply.
func (h *Hub) Reply(sess *Session, env *protocol.Envelope, authenticated, keepToken bool) {
	env.SessionValid = authenticated
	if !keepToken {
		env.Token = ""
	}

	if !authenticated {
		errorLog.Printf("Session %d: not sending reply to unauthenticated client", sess.ID)
		return
	}

	conn := sess.Transport()
	if conn == nil {
		return
	}

	data, err := env.Encode()
	if err != nil {
		errorLog.Printf("Session %d: failed to encode reply: %v", sess.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		errorLog.Printf("Session %d: error sending reply: %v", sess.ID, err)
		if h.metrics != nil {
			h.metrics.RecordSendFailure()
		}
	}
}

// Broadcast forwards a serialized envelope to every session that is
// still connected and authenticated. Each per-destination failure is
// logged independently and never aborts delivery to the rest; dead
// destinations stay registered until their own read loop tears them
// down.
func (h *Hub) Broadcast(data []byte) {
	start := time.Now()
	sessions := h.registry.Snapshot()

	debugLog.Printf("Broadcasting message to %d clients", len(sessions))

	delivered := 0
	for _, sess := range sessions {
		conn := sess.Transport()
		if conn == nil || !sess.Authenticated() {
			continue
		}

		if err := conn.WriteMessage(data); err != nil {
			errorLog.Printf("Session %d: broadcast send failed: %v", sess.ID, err)
			if h.metrics != nil {
				h.metrics.RecordSendFailure()
			}
			continue
		}
		delivered++
	}

	if h.metrics != nil {
		h.metrics.RecordBroadcast(delivered, time.Since(start).Seconds())
	}
}
