package chat_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/omochice/room-chat/internal/chat"
	"github.com/omochice/room-chat/pkg/protocol"
)

var errMockClosed = errors.New("mock connection closed")

// mockConn is a mock implementation of chat.Conn for testing.
// Frames written by the hub are delivered to out; frames pushed to in are read by the hub.
type mockConn struct {
	in         chan []byte
	errs       chan error
	out        chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex
	code       protocol.CloseCode
	reason     string
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		in:         make(chan []byte, 16),
		errs:       make(chan error, 1),
		out:        make(chan []byte, 256),
		closed:     make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, io.EOF
	case data := <-m.in:
		return data, nil
	case err := <-m.errs:
		return nil, err
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-m.closed:
		return errMockClosed
	default:
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	select {
	case m.out <- copied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockConn) Close(code protocol.CloseCode, reason string) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.code = code
		m.reason = reason
		m.mu.Unlock()
		close(m.closed)
	})
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

// push sends an action to the hub as if the client wrote it.
func (m *mockConn) push(t *testing.T, env protocol.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode %s: %v", env.Type, err)
	}
	m.in <- data
}

// fail makes the hub's next Read return err.
func (m *mockConn) fail(err error) {
	m.errs <- err
}

// next returns the next frame the hub wrote.
func (m *mockConn) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case data := <-m.out:
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return protocol.Envelope{}
	}
}

// nextOf skips frames until one of type typ arrives.
func (m *mockConn) nextOf(t *testing.T, typ protocol.Type) protocol.Envelope {
	t.Helper()
	for {
		if env := m.next(t); env.Type == typ {
			return env
		}
	}
}

// waitClosed blocks until the hub closes the connection and returns the close code.
func (m *mockConn) waitClosed(t *testing.T) protocol.CloseCode {
	t.Helper()
	select {
	case <-m.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
