package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ClientMessageType
		wantErr bool
	}{
		{name: "heartbeat", input: `{"type":"heartbeat"}`, want: ClientMessageTypeHeartbeat},
		{name: "join", input: `{"type":"join","user":"alice"}`, want: ClientMessageTypeJoin},
		{name: "message", input: `{"type":"message","from_user_id":"a","to_user_id":"b","text":"hi"}`, want: ClientMessageTypeMessage},
		{name: "active", input: `{"type":"active","peer_id":"b"}`, want: ClientMessageTypeActive},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "no type", input: `{"text":"hi"}`, wantErr: true},
		{name: "unknown type", input: `{"type":"typing"}`, wantErr: true},
		{name: "message without recipient", input: `{"type":"message","text":"hi"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Type)
		})
	}
}

func TestUserStatusFrameEncodesOffline(t *testing.T) {
	data, err := json.Marshal(NewUserStatusFrame("u1", "alice", false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user_status","user_id":"u1","username":"alice","is_online":false}`, string(data))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "invalid_recipient", ErrorCode(fmt.Errorf("send: %w", ErrInvalidRecipient)))
	assert.Equal(t, "persistence_failure", ErrorCode(ErrPersistenceFailure))
	assert.Equal(t, "rate_limited", ErrorCode(ErrRateLimited))
	assert.Equal(t, "internal_error", ErrorCode(errors.New("boom")))
}

func TestPair(t *testing.T) {
	p := NewPair("bob", "alice")
	assert.Equal(t, Pair{Low: "alice", High: "bob"}, p)
	assert.Equal(t, p, NewPair("alice", "bob"))
	assert.Equal(t, "bob", p.Other("alice"))

	parsed, ok := ParsePairKey(p.Key())
	require.True(t, ok)
	assert.Equal(t, p, parsed)

	_, ok = ParsePairKey("broken")
	assert.False(t, ok)
}
