package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/omochice/room-chat/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dispatcher consumes inbound frames in arrival order.
type Dispatcher interface {
	Dispatch(ctx context.Context, data []byte) error
}

// Session is one joined connection to the room under a fixed name.
// Frames are consumed by Run on a single goroutine; Send and Leave may be
// called from any goroutine.
type Session struct {
	name string
	ch   Channel

	mu      sync.Mutex
	state   State
	token   string
	pending []byte
	left    bool
	err     error
}

// Connect dials the room and waits for the first frame. A name that is taken or
// invalid fails with ErrNameConflict.
func Connect(ctx context.Context, dial Dialer, name string) (*Session, error) {
	s := &Session{name: name, state: StateConnecting}

	ch, err := dial(ctx, name)
	if err != nil {
		s.state = StateClosed
		return nil, classify(err)
	}
	s.ch = ch

	first, err := ch.Read(ctx)
	if err != nil {
		_ = ch.Close(protocol.CloseNormal, "")
		return nil, classify(err)
	}

	s.state = StateActive
	if env, err := protocol.Decode(first); err == nil && env.Type == protocol.TypeCSRFToken {
		s.token = env.Token
	} else {
		s.pending = first
	}
	log.Debug().Str("user", name).Bool("token", s.token != "").Msg("[session] connected")
	return s, nil
}

// Name returns the display name the session joined under.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the session holds a CSRF token and can send messages.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && s.token != ""
}

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Send posts a chat message. Surrounding whitespace is trimmed.
func (s *Session) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}

	s.mu.Lock()
	state, token := s.state, s.token
	s.mu.Unlock()

	switch {
	case state == StateClosed:
		return ErrClosed
	case token == "":
		return ErrNotReady
	}
	return s.write(ctx, protocol.MessageAction(s.name, content, token))
}

func (s *Session) pong(ctx context.Context) error {
	return s.write(ctx, protocol.PongAction())
}

func (s *Session) write(ctx context.Context, env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := s.ch.Write(ctx, data); err != nil {
		return classify(err)
	}
	return nil
}

// Leave sends a leave action and closes the channel. Errors from a channel that
// is already gone are ignored, and calling Leave more than once is harmless.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.left = true
	s.mu.Unlock()

	if err := s.write(ctx, protocol.LeaveAction()); err != nil {
		log.Debug().Err(err).Str("user", s.name).Msg("[session] send leave")
	}
	_ = s.ch.Close(protocol.CloseNormal, "")
	return nil
}

// Run reads frames and hands them to d until the session ends.
// It returns nil after a local Leave, otherwise the classified cause.
func (s *Session) Run(ctx context.Context, d Dispatcher) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending != nil {
		if err := d.Dispatch(ctx, pending); err != nil {
			return s.fail(err)
		}
	}

	for {
		data, err := s.ch.Read(ctx)
		if err != nil {
			return s.fail(err)
		}
		if err := d.Dispatch(ctx, data); err != nil {
			return s.fail(err)
		}
	}
}

func (s *Session) fail(cause error) error {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return nil
	}
	err := classify(cause)
	s.state = StateClosed
	s.err = err
	s.mu.Unlock()

	_ = s.ch.Close(protocol.CloseNormal, "")
	log.Debug().Err(err).Str("user", s.name).Msg("[session] closed")
	return err
}
