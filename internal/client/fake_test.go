package client_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/omochice/room-chat/internal/client"
	"github.com/omochice/room-chat/pkg/protocol"
)

type frame struct {
	data []byte
	err  error
}

// fakeChannel is an in-memory client.Channel. The test plays the server:
// emit and closeWith feed Read, sent collects what the client wrote.
type fakeChannel struct {
	in     chan frame
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	closeCode protocol.CloseCode
	writeErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan frame, 32),
		out:    make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, net.ErrClosed
	case fr := <-f.in:
		return fr.data, fr.err
	}
}

func (f *fakeChannel) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.out <- append([]byte(nil), data...)
	return nil
}

func (f *fakeChannel) Close(code protocol.CloseCode, _ string) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeChannel) emit(t *testing.T, env protocol.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode %s: %v", env.Type, err)
	}
	f.in <- frame{data: data}
}

func (f *fakeChannel) closeWith(code protocol.CloseCode, reason string) {
	f.in <- frame{err: &protocol.CloseError{Code: code, Reason: reason}}
}

func (f *fakeChannel) failWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// sent returns the next action the client wrote.
func (f *fakeChannel) sent(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case data := <-f.out:
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client write")
		return protocol.Envelope{}
	}
}

func (f *fakeChannel) assertNothingSent(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.out:
		t.Fatalf("unexpected write %s", data)
	default:
	}
}

func (f *fakeChannel) dialer() client.Dialer {
	return func(context.Context, string) (client.Channel, error) {
		return f, nil
	}
}

// recordingView captures view callbacks.
type recordingView struct {
	mu      sync.Mutex
	entries []client.Entry
	rosters [][]string
	notices []client.Notice
	onAdd   func(client.Entry)
}

func (v *recordingView) Append(e client.Entry) {
	v.mu.Lock()
	v.entries = append(v.entries, e)
	hook := v.onAdd
	v.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (v *recordingView) Roster(names []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rosters = append(v.rosters, names)
}

func (v *recordingView) Notice(n client.Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, n)
}

func (v *recordingView) noticeKinds() []client.NoticeKind {
	v.mu.Lock()
	defer v.mu.Unlock()
	kinds := make([]client.NoticeKind, 0, len(v.notices))
	for _, n := range v.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}
