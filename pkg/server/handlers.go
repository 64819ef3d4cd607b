package server

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/aeolun/wirehub/pkg/protocol"
	"github.com/aeolun/wirehub/pkg/store"
)

var (
	// ErrNotAuthenticated indicates a command that requires an
	// authenticated session was received on one that is not.
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrMissingCredentials indicates a login without user or pass.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrMissingIdentifier indicates a record command without an id.
	ErrMissingIdentifier = errors.New("missing record identifier")
)

// defaultCommands returns the factories for the built-in command set.
func defaultCommands() []HandlerFactory {
	return []HandlerFactory{
		func(ctx HandlerContext) Handler { return &createHandler{ctx} },
		func(ctx HandlerContext) Handler { return &updateHandler{ctx} },
		func(ctx HandlerContext) Handler { return &deleteHandler{ctx} },
		func(ctx HandlerContext) Handler { return &logoutHandler{ctx} },
		func(ctx HandlerContext) Handler { return &loginHandler{ctx} },
		func(ctx HandlerContext) Handler { return &listHandler{ctx} },
		func(ctx HandlerContext) Handler { return &getHandler{ctx} },
	}
}

// loginHandler authenticates by name and password, mints a token,
// persists it on the principal record and returns it to the originating
// session only. The session is marked authenticated before the reply so
// the reply is not suppressed.
type loginHandler struct {
	ctx HandlerContext
}

func (h *loginHandler) Command() string { return "login" }

func (h *loginHandler) Process(env *protocol.Envelope) (Outcome, error) {
	user := stringField(env.Data, "user")
	pass := stringField(env.Data, "pass")
	if user == "" || pass == "" {
		return OutcomeReplied, ErrMissingCredentials
	}

	principal, err := h.ctx.Store.VerifyCredentials(user, pass)
	if err != nil {
		return OutcomeReplied, err
	}

	token, err := h.ctx.Hub.auth.IssueToken()
	if err != nil {
		return OutcomeReplied, err
	}

	if err := h.ctx.Store.SetSessionKey(principal.ID, token); err != nil {
		return OutcomeReplied, fmt.Errorf("failed to persist session key: %w", err)
	}

	h.ctx.Session.SetAuthenticated(token)

	// The one reply on the whole protocol that carries a token, and
	// it must not echo the credentials back.
	env.Token = token
	env.Data = nil
	h.ctx.Hub.Reply(h.ctx.Session, env, true, true)

	debugLog.Printf("Session %d: %s logged in", h.ctx.Session.ID, principal.Name)
	return OutcomeReplied, nil
}

// logoutHandler clears the stored session key so the token cannot be
// replayed. The local session keeps its token until the connection
// closes; only the stored credential is invalidated.
type logoutHandler struct {
	ctx HandlerContext
}

func (h *logoutHandler) Command() string { return "logout" }

func (h *logoutHandler) Process(env *protocol.Envelope) (Outcome, error) {
	if !env.SessionValid {
		return OutcomeReplied, ErrNotAuthenticated
	}

	principal, err := h.ctx.currentPrincipal()
	if err != nil {
		return OutcomeReplied, err
	}

	if err := h.ctx.Store.ClearSessionKey(principal.ID); err != nil {
		return OutcomeReplied, fmt.Errorf("failed to clear session key: %w", err)
	}

	env.Data = nil
	h.ctx.Hub.Reply(h.ctx.Session, env, h.ctx.Session.Authenticated(), false)

	debugLog.Printf("Session %d: %s logged out", h.ctx.Session.ID, principal.Name)
	return OutcomeReplied, nil
}

// createHandler stores a new node owned by the current principal and
// broadcasts the envelope with the new identity filled in.
type createHandler struct {
	ctx HandlerContext
}

func (h *createHandler) Command() string { return "create" }

func (h *createHandler) Process(env *protocol.Envelope) (Outcome, error) {
	if !env.SessionValid {
		return OutcomeBroadcast, ErrNotAuthenticated
	}

	nodeType := stringField(env.Data, "type")
	if nodeType == "" {
		nodeType = "node"
	}

	var ownerID *int64
	if principal, err := h.ctx.currentPrincipal(); err == nil {
		ownerID = &principal.ID
	}

	id, err := h.ctx.Store.CreateNode(nodeType, env.Data, ownerID)
	if err != nil {
		return OutcomeBroadcast, err
	}

	env.ID = strconv.FormatInt(id, 10)
	return OutcomeBroadcast, nil
}

// updateHandler replaces a node's data and broadcasts the envelope.
type updateHandler struct {
	ctx HandlerContext
}

func (h *updateHandler) Command() string { return "update" }

func (h *updateHandler) Process(env *protocol.Envelope) (Outcome, error) {
	if !env.SessionValid {
		return OutcomeBroadcast, ErrNotAuthenticated
	}

	id, err := recordID(env)
	if err != nil {
		return OutcomeBroadcast, err
	}

	if err := h.ctx.Store.UpdateNode(id, env.Data); err != nil {
		return OutcomeBroadcast, err
	}

	return OutcomeBroadcast, nil
}

// deleteHandler removes a node and broadcasts the envelope.
type deleteHandler struct {
	ctx HandlerContext
}

func (h *deleteHandler) Command() string { return "delete" }

func (h *deleteHandler) Process(env *protocol.Envelope) (Outcome, error) {
	if !env.SessionValid {
		return OutcomeBroadcast, ErrNotAuthenticated
	}

	id, err := recordID(env)
	if err != nil {
		return OutcomeBroadcast, err
	}

	if err := h.ctx.Store.DeleteNode(id); err != nil {
		return OutcomeBroadcast, err
	}

	return OutcomeBroadcast, nil
}

// getHandler replies with a single node to the originating session.
// Reads are never broadcast.
type getHandler struct {
	ctx HandlerContext
}

func (h *getHandler) Command() string { return "get" }

func (h *getHandler) Process(env *protocol.Envelope) (Outcome, error) {
	if !env.SessionValid {
		return OutcomeReplied, ErrNotAuthenticated
	}

	id, err := recordID(env)
	if err != nil {
		return OutcomeReplied, err
	}

	node, err := h.ctx.Store.GetNode(id)
	if err != nil {
		return OutcomeReplied, err
	}

	env.Data = h.ctx.renderNode(node)
	h.ctx.Hub.Reply(h.ctx.Session, env, h.ctx.Session.Authenticated(), false)
	return OutcomeReplied, nil
}

// listHandler replies with all nodes of the requested type (or all
// nodes) to the originating session.
type listHandler struct {
	ctx HandlerContext
}

func (h *listHandler) Command() string { return "list" }

func (h *listHandler) Process(env *protocol.Envelope) (Outcome, error) {
	if !env.SessionValid {
		return OutcomeReplied, ErrNotAuthenticated
	}

	nodes, err := h.ctx.Store.ListNodes(stringField(env.Data, "type"))
	if err != nil {
		return OutcomeReplied, err
	}

	rendered := make([]map[string]any, len(nodes))
	for i, node := range nodes {
		rendered[i] = h.ctx.renderNode(node)
	}

	env.Data = map[string]any{"nodes": rendered}
	h.ctx.Hub.Reply(h.ctx.Session, env, h.ctx.Session.Authenticated(), false)
	return OutcomeReplied, nil
}

// currentPrincipal resolves the principal bound to the session's token.
func (c *HandlerContext) currentPrincipal() (*store.Principal, error) {
	token := c.Session.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	principals, err := c.Store.PrincipalsBySessionKey(token)
	if err != nil {
		return nil, err
	}
	if len(principals) == 0 {
		return nil, store.ErrPrincipalNotFound
	}
	return principals[0], nil
}

// renderNode flattens a node for the wire, exposing its identity under
// the configured identity field name.
func (c *HandlerContext) renderNode(node *store.Node) map[string]any {
	data := make(map[string]any, len(node.Data)+2)
	for k, v := range node.Data {
		data[k] = v
	}
	data["type"] = node.Type

	field := c.IdentityField
	if field == "" {
		field = "id"
	}
	data[field] = strconv.FormatInt(node.ID, 10)

	return data
}

// stringField reads a string value from a payload map.
func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

// recordID parses the envelope's identity into a node id.
func recordID(env *protocol.Envelope) (int64, error) {
	if env.ID == "" {
		return 0, ErrMissingIdentifier
	}
	id, err := strconv.ParseInt(env.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMissingIdentifier, env.ID)
	}
	return id, nil
}
