package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
		check   func(t *testing.T, env *Envelope)
	}{
		{
			name: "login command with payload",
			raw:  `{"command":"login","data":{"user":"alice","pass":"p"}}`,
			check: func(t *testing.T, env *Envelope) {
				assert.Equal(t, "login", env.Command)
				assert.Empty(t, env.Token)
				assert.False(t, env.SessionValid)
				assert.Equal(t, "alice", env.Data["user"])
			},
		},
		{
			name: "command with token and id",
			raw:  `{"command":"update","token":"abc","id":"42"}`,
			check: func(t *testing.T, env *Envelope) {
				assert.Equal(t, "update", env.Command)
				assert.Equal(t, "abc", env.Token)
				assert.Equal(t, "42", env.ID)
			},
		},
		{
			name: "client-set sessionValid is parsed but not trusted",
			raw:  `{"command":"create","sessionValid":true}`,
			check: func(t *testing.T, env *Envelope) {
				// The dispatcher overwrites this; decoding just carries it.
				assert.True(t, env.SessionValid)
			},
		},
		{
			name:    "missing command",
			raw:     `{"token":"abc"}`,
			wantErr: ErrMissingCommand,
		},
		{
			name:    "empty command",
			raw:     `{"command":""}`,
			wantErr: ErrMissingCommand,
		},
		{
			name:    "invalid JSON",
			raw:     `{"command":`,
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "empty payload",
			raw:     ``,
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "JSON array instead of object",
			raw:     `["login"]`,
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.raw))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, env)
		})
	}
}

func TestEncodeOmitsEmptyToken(t *testing.T) {
	env := &Envelope{
		Command:      "create",
		SessionValid: true,
		ID:           "7",
		Data:         map[string]any{"name": "test"},
	}

	raw, err := env.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	// A scrubbed token must not appear on the wire at all.
	_, hasToken := decoded["token"]
	assert.False(t, hasToken, "empty token should be omitted from output")
	assert.Equal(t, "create", decoded["command"])
	assert.Equal(t, true, decoded["sessionValid"])
}

func TestEncodeKeepsLoginToken(t *testing.T) {
	env := &Envelope{
		Command:      "login",
		Token:        "fresh-token",
		SessionValid: true,
	}

	raw, err := env.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "fresh-token", decoded["token"])
}

func TestStringNeverLeaksToken(t *testing.T) {
	env := &Envelope{Command: "get", Token: "secret-credential"}
	assert.NotContains(t, env.String(), "secret-credential")

	env.Token = ""
	assert.Contains(t, env.String(), "token=empty")
}
