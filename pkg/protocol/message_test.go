package protocol_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/omochice/room-chat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Encode(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		env  protocol.Envelope
		want string
	}{
		{
			name: "message event",
			env:  protocol.MessageEvent(protocol.Message{Seq: 7, Author: "alice", Content: "hi", Time: at}),
			want: `{"type":"message","seq":7,"author":"alice","content":"hi","time":"2024-05-01T12:00:00Z"}`,
		},
		{
			name: "ping carries only the tag",
			env:  protocol.PingEvent(),
			want: `{"type":"ping"}`,
		},
		{
			name: "csrf token",
			env:  protocol.CSRFTokenEvent("abc"),
			want: `{"type":"csrf_token","token":"abc"}`,
		},
		{
			name: "html is not escaped",
			env:  protocol.MessageAction("bob", "<b>x</b> & y", "t"),
			want: `{"type":"message","author":"bob","content":"<b>x</b> & y","token":"t"}`,
		},
		{
			name: "leave action is an empty object besides the tag",
			env:  protocol.LeaveAction(),
			want: `{"type":"leave"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.env.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    protocol.Envelope
		wantErr error
	}{
		{
			name: "roster snapshot",
			data: `{"type":"active_users","names":["alice","bob"]}`,
			want: protocol.Envelope{Type: protocol.TypeActiveUsers, Names: []string{"alice", "bob"}},
		},
		{
			name: "join event",
			data: `{"type":"join","seq":3,"name":"carol"}`,
			want: protocol.Envelope{Type: protocol.TypeJoin, Seq: 3, Name: "carol"},
		},
		{
			name: "unknown tag decodes for the caller to ignore",
			data: `{"type":"typing","name":"dave"}`,
			want: protocol.Envelope{Type: "typing", Name: "dave"},
		},
		{
			name: "extra fields are ignored",
			data: `{"type":"pong","future":true}`,
			want: protocol.Envelope{Type: protocol.TypePong},
		},
		{
			name:    "missing type",
			data:    `{"name":"dave"}`,
			wantErr: protocol.ErrMissingType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.Decode([]byte(tt.data))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := protocol.Decode([]byte("not json"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, protocol.ErrMissingType))
}

func TestType_Known(t *testing.T) {
	assert.True(t, protocol.TypeActiveUsers.Known())
	assert.True(t, protocol.TypeError.Known())
	assert.False(t, protocol.Type("typing").Known())
}

func TestNotices(t *testing.T) {
	assert.Equal(t, "alice has joined the chat.", protocol.JoinNotice("alice"))
	assert.Equal(t, "alice has left the chat.", protocol.LeaveNotice("alice"))
}

func TestCloseError(t *testing.T) {
	err := &protocol.CloseError{Code: protocol.CloseNameConflict, Reason: "name in use"}
	assert.True(t, strings.Contains(err.Error(), "NAME_CONFLICT"))
	assert.True(t, strings.Contains(err.Error(), "name in use"))
	assert.Equal(t, "CLOSE_4999", protocol.CloseCode(4999).String())
}
