package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omochice/room-chat/internal/client"
	"github.com/omochice/room-chat/internal/render"
	"github.com/omochice/room-chat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, ch *fakeChannel, name string) *client.Session {
	t.Helper()
	ch.emit(t, protocol.CSRFTokenEvent("tok-1"))
	s, err := client.Connect(context.Background(), ch.dialer(), name)
	require.NoError(t, err)
	return s
}

func TestConnect_StoresToken(t *testing.T) {
	ch := newFakeChannel()
	s := connect(t, ch, "alice")

	assert.Equal(t, client.StateActive, s.State())
	assert.True(t, s.Ready())
	assert.Equal(t, "alice", s.Name())

	require.NoError(t, s.Send(context.Background(), "  hi  "))
	sent := ch.sent(t)
	assert.Equal(t, protocol.TypeMessage, sent.Type)
	assert.Equal(t, "alice", sent.Author)
	assert.Equal(t, "hi", sent.Content)
	assert.Equal(t, "tok-1", sent.Token)
}

func TestConnect_NameConflict(t *testing.T) {
	ch := newFakeChannel()
	ch.closeWith(protocol.CloseNameConflict, "name already in use")

	s, err := client.Connect(context.Background(), ch.dialer(), "alice")
	require.ErrorIs(t, err, client.ErrNameConflict)
	assert.Nil(t, s)
}

func TestConnect_DialFailure(t *testing.T) {
	tests := []struct {
		name    string
		dialErr error
		want    error
	}{
		{name: "network", dialErr: errors.New("connection refused"), want: client.ErrTransport},
		{name: "join limited", dialErr: client.ErrRateLimited, want: client.ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dial := func(context.Context, string) (client.Channel, error) { return nil, tt.dialErr }
			_, err := client.Connect(context.Background(), dial, "alice")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSession_SendBeforeTokenIsNotReady(t *testing.T) {
	ch := newFakeChannel()
	ch.emit(t, protocol.PingEvent())

	s, err := client.Connect(context.Background(), ch.dialer(), "alice")
	require.NoError(t, err)
	assert.False(t, s.Ready())

	require.ErrorIs(t, s.Send(context.Background(), "hi"), client.ErrNotReady)
	ch.assertNothingSent(t)
}

func TestSession_PendingFirstFrameIsDispatched(t *testing.T) {
	ch := newFakeChannel()
	ch.emit(t, protocol.PingEvent())
	c, err := client.Join(context.Background(), ch.dialer(), "alice", render.New(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	assert.Equal(t, protocol.TypePong, ch.sent(t).Type)

	ch.emit(t, protocol.CSRFTokenEvent("late"))
	require.Eventually(t, c.Session().Ready, time.Second, 5*time.Millisecond)
}

func TestSession_EmptyMessageNeverReachesChannel(t *testing.T) {
	ch := newFakeChannel()
	ch.emit(t, protocol.CSRFTokenEvent("tok-1"))
	view := &recordingView{}
	c, err := client.Join(context.Background(), ch.dialer(), "alice", render.New(), view)
	require.NoError(t, err)

	for _, content := range []string{"", "   ", "\n\t"} {
		require.ErrorIs(t, c.Send(context.Background(), content), client.ErrValidation)
	}
	ch.assertNothingSent(t)
	assert.Equal(t, []client.NoticeKind{client.NoticeValidation, client.NoticeValidation, client.NoticeValidation}, view.noticeKinds())
}

func TestSession_TokenInvalidIsFatal(t *testing.T) {
	ch := newFakeChannel()
	s := connect(t, ch, "alice")

	ch.closeWith(protocol.CloseTokenInvalid, "csrf token invalid")
	err := s.Run(context.Background(), client.NewMultiplexer(s, client.NewReconciler("alice", render.New(), nil)))

	require.ErrorIs(t, err, client.ErrTokenInvalid)
	assert.Equal(t, client.StateClosed, s.State())
	require.ErrorIs(t, s.Err(), client.ErrTokenInvalid)
	require.ErrorIs(t, s.Send(context.Background(), "again"), client.ErrClosed)
}

func TestSession_RemoteCloseCodes(t *testing.T) {
	tests := []struct {
		code protocol.CloseCode
		want error
	}{
		{code: protocol.CloseNormal, want: client.ErrClosed},
		{code: protocol.CloseGoingAway, want: client.ErrClosed},
		{code: protocol.ClosePolicyViolation, want: client.ErrTransport},
		{code: protocol.CloseInternalError, want: client.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			ch := newFakeChannel()
			s := connect(t, ch, "alice")
			ch.closeWith(tt.code, "")

			err := s.Run(context.Background(), client.NewMultiplexer(s, client.NewReconciler("alice", render.New(), nil)))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSession_LeaveIsIdempotent(t *testing.T) {
	ch := newFakeChannel()
	s := connect(t, ch, "alice")

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(context.Background(), client.NewMultiplexer(s, client.NewReconciler("alice", render.New(), nil)))
	}()

	require.NoError(t, s.Leave(context.Background()))
	assert.Equal(t, protocol.TypeLeave, ch.sent(t).Type)
	require.NoError(t, s.Leave(context.Background()))
	ch.assertNothingSent(t)

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Leave")
	}
	assert.Equal(t, client.StateClosed, s.State())
	require.ErrorIs(t, s.Send(context.Background(), "hi"), client.ErrClosed)
}

func TestSession_LeaveSwallowsChannelErrors(t *testing.T) {
	ch := newFakeChannel()
	s := connect(t, ch, "alice")
	ch.failWrites(errors.New("broken pipe"))

	assert.NoError(t, s.Leave(context.Background()))
}

func TestSession_SendFailureIsTransport(t *testing.T) {
	ch := newFakeChannel()
	s := connect(t, ch, "alice")
	ch.failWrites(errors.New("broken pipe"))

	require.ErrorIs(t, s.Send(context.Background(), "hi"), client.ErrTransport)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", client.StateConnecting.String())
	assert.Equal(t, "active", client.StateActive.String())
	assert.Equal(t, "closed", client.StateClosed.String())
	assert.Equal(t, "state(9)", client.State(9).String())
}
