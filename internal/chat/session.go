package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/room-chat/pkg/protocol"
	"golang.org/x/time/rate"
)

// Session binds one connection to one display name for the lifetime of the connection.
type Session struct {
	ID    string
	Name  string
	Token string

	conn     Conn
	outgoing chan []byte
	limiter  *rate.Limiter
	lastSeen atomic.Int64

	stopOnce sync.Once
	done     chan struct{}
	code     protocol.CloseCode
	reason   string
}

func newSession(name string, conn Conn, opts Options, backlog int) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Name:     name,
		Token:    uuid.NewString(),
		conn:     conn,
		outgoing: make(chan []byte, opts.SendBuffer+backlog+4),
		limiter:  rate.NewLimiter(opts.MessageRate, opts.MessageBurst),
		done:     make(chan struct{}),
	}
	s.touch()
	return s
}

// enqueue queues env for the write loop without blocking.
// Frames queued after the session stopped are dropped.
func (s *Session) enqueue(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.outgoing <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// stop ends the session once; the first caller decides the close code.
func (s *Session) stop(code protocol.CloseCode, reason string) {
	s.stopOnce.Do(func() {
		s.code = code
		s.reason = reason
		close(s.done)
	})
}

func (s *Session) closeStatus() (protocol.CloseCode, string) {
	<-s.done
	return s.code, s.reason
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastSeen.Load()))
}
