package server

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aeolun/wirehub/pkg/store"
)

// TokenBytes is the raw entropy of an issued token. The encoded form is
// TokenLength characters of unpadded URL-safe base64.
const TokenBytes = 128

// TokenLength is the encoded length of every issued token.
var TokenLength = base64.RawURLEncoding.EncodedLen(TokenBytes)

var (
	// ErrAuthenticationFailed covers no match, stale tokens and store
	// errors alike; callers must not reveal which one occurred.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Authenticator validates candidate tokens against the principal store
// and mints new ones.
type Authenticator struct {
	store DataStore
}

// NewAuthenticator creates an authenticator backed by the given store.
func NewAuthenticator(st DataStore) *Authenticator {
	return &Authenticator{store: st}
}

// AuthenticateToken looks up a principal whose stored session key
// exactly matches the candidate. On success the session transitions to
// the authenticated state and the principal is returned; on any
// failure the session is left untouched.
//
// The lookup runs on the store's direct query path with no ownership
// check: the caller is, by definition, not yet authenticated.
func (a *Authenticator) AuthenticateToken(sess *Session, candidate string) (*store.Principal, error) {
	if candidate == "" {
		return nil, ErrAuthenticationFailed
	}

	principals, err := a.store.PrincipalsBySessionKey(candidate)
	if err != nil {
		errorLog.Printf("Session %d: token lookup failed: %v", sess.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if len(principals) == 0 {
		return nil, ErrAuthenticationFailed
	}
	if len(principals) > 1 {
		// Nothing forces session keys unique; the first row (lowest
		// id) wins.
		errorLog.Printf("Session %d: token matches %d principals, using first", sess.ID, len(principals))
	}

	principal := principals[0]
	if principal.SessionKey == nil || *principal.SessionKey != candidate {
		return nil, ErrAuthenticationFailed
	}

	sess.SetAuthenticated(candidate)
	return principal, nil
}

// IssueToken returns a freshly generated opaque token: TokenBytes of
// cryptographically secure randomness, URL-safe encoded without
// padding. Issuing does not bind the token to anything; the login
// handler persists it on the principal record.
func (a *Authenticator) IssueToken() (string, error) {
	raw := make([]byte, TokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
