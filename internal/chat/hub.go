package chat

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/omochice/room-chat/internal/presence"
	"github.com/omochice/room-chat/pkg/protocol"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// ErrHubClosed is returned by Serve once CloseAll has been called.
var ErrHubClosed = errors.New("room is shutting down")

// Options tunes a Hub. Unset buffer, timing and length fields take the value
// from DefaultOptions; the exceptions are noted per field.
type Options struct {
	SendBuffer int
	// MaxBacklog is how many recent messages a joining session is replayed. Zero replays none.
	MaxBacklog   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	// MessageRate limits posts per session. Zero disables the limit.
	MessageRate rate.Limit
	// MessageBurst defaults to 1.
	MessageBurst     int
	MaxNameLength    int
	MaxMessageLength int
}

// DefaultOptions returns the settings used by the server binary.
func DefaultOptions() Options {
	return Options{
		SendBuffer:       64,
		MaxBacklog:       100,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		MessageRate:      5,
		MessageBurst:     10,
		MaxNameLength:    32,
		MaxMessageLength: 2000,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = def.SendBuffer
	}
	if o.MaxBacklog < 0 {
		o.MaxBacklog = 0
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = def.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = def.WriteWait
	}
	if o.MessageRate <= 0 {
		o.MessageRate = rate.Inf
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 1
	}
	if o.MaxNameLength <= 0 {
		o.MaxNameLength = def.MaxNameLength
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = def.MaxMessageLength
	}
	return o
}

// Hub is the room. It owns the authoritative message sequence and the roster and
// fans every event out to all connected sessions in one global order.
// Both the WebSocket handlers and tests drive it through Serve.
type Hub struct {
	opts     Options
	registry presence.Registry
	history  History

	mu       sync.RWMutex
	sessions map[string]*Session
	seq      uint64
	closed   bool
}

// NewHub creates a Hub. Sequence numbers continue after the last one in history.
func NewHub(registry presence.Registry, history History, opts Options) *Hub {
	return &Hub{
		opts:     opts.withDefaults(),
		registry: registry,
		history:  history,
		sessions: make(map[string]*Session),
		seq:      history.LastSeq(),
	}
}

// Serve runs one session to completion: join, read and write loops, leave.
// It returns nil when the client left voluntarily.
func (h *Hub) Serve(ctx context.Context, conn Conn, name string) error {
	s, err := h.join(ctx, conn, name)
	if err != nil {
		code := protocol.CloseInternalError
		switch {
		case errors.Is(err, presence.ErrNameTaken), errors.Is(err, presence.ErrInvalidName):
			code = protocol.CloseNameConflict
		case errors.Is(err, ErrHubClosed):
			code = protocol.CloseGoingAway
		}
		log.Info().Err(err).Str("user", name).Str("remote", conn.RemoteAddr()).Msg("[room] join rejected")
		_ = conn.Close(code, err.Error())
		return err
	}
	log.Info().Str("user", s.Name).Str("session", s.ID).Str("remote", conn.RemoteAddr()).Msg("[room] joined")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, s)
	}()

	err = h.readLoop(ctx, s)
	switch {
	case errors.Is(err, ErrLeft):
		s.stop(protocol.CloseNormal, "")
		err = nil
	case errors.Is(err, ErrTokenMismatch):
		log.Warn().Str("user", s.Name).Str("session", s.ID).Msg("[room] csrf token mismatch")
		s.stop(protocol.CloseTokenInvalid, "csrf token invalid")
	case errors.Is(err, ErrFrameTooLarge):
		log.Warn().Str("user", s.Name).Str("session", s.ID).Msg("[room] oversized frame")
		s.stop(protocol.CloseMessageTooBig, "message too big")
	default:
		s.stop(protocol.CloseGoingAway, "connection lost")
	}

	h.leave(s)
	<-writerDone
	log.Info().Str("user", s.Name).Str("session", s.ID).Msg("[room] left")
	return err
}

func (h *Hub) join(ctx context.Context, conn Conn, name string) (*Session, error) {
	if err := presence.ValidateName(name, h.opts.MaxNameLength); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if err := h.registry.Claim(ctx, name); err != nil {
		return nil, err
	}

	from := h.seq - min(h.seq, uint64(h.opts.MaxBacklog))
	backlog, err := h.history.Since(ctx, from, 0)
	if err != nil {
		h.release(ctx, name)
		return nil, fmt.Errorf("load backlog: %w", err)
	}

	s := newSession(name, conn, h.opts, len(backlog))
	// The token goes out before anything else so the client can act on the first frame.
	_ = s.enqueue(protocol.CSRFTokenEvent(s.Token))
	for _, m := range backlog {
		_ = s.enqueue(protocol.MessageEvent(m))
	}

	h.sessions[name] = s
	msg, err := h.record(ctx, protocol.SystemAuthor, protocol.JoinNotice(name))
	if err != nil {
		delete(h.sessions, name)
		h.release(ctx, name)
		return nil, err
	}
	h.broadcast(protocol.JoinEvent(msg.Seq, name, msg.Time))
	h.broadcastRoster(ctx)
	return s, nil
}

func (h *Hub) leave(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteWait)
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.sessions[s.Name]; !ok || cur != s {
		return
	}
	delete(h.sessions, s.Name)
	h.release(ctx, s.Name)

	msg, err := h.record(ctx, protocol.SystemAuthor, protocol.LeaveNotice(s.Name))
	if err != nil {
		log.Error().Err(err).Str("user", s.Name).Msg("[room] record leave notice")
	} else {
		h.broadcast(protocol.LeaveEvent(msg.Seq, s.Name, msg.Time))
	}
	h.broadcastRoster(ctx)
}

func (h *Hub) release(ctx context.Context, name string) {
	if err := h.registry.Release(ctx, name); err != nil {
		log.Warn().Err(err).Str("user", name).Msg("[room] release name")
	}
}

func (h *Hub) readLoop(ctx context.Context, s *Session) error {
	for {
		data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read from %s: %w", s.Name, err)
		}
		s.touch()

		env, err := protocol.Decode(data)
		if err != nil {
			log.Debug().Err(err).Str("user", s.Name).Msg("[room] undecodable frame")
			continue
		}

		switch env.Type {
		case protocol.TypeMessage:
			err := h.post(ctx, s, env)
			switch {
			case err == nil:
			case errors.Is(err, ErrTokenMismatch):
				return err
			case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrTooLong):
				h.notify(s, protocol.ErrorEvent(protocol.ErrorCodeValidation, err.Error()))
			case errors.Is(err, ErrRateLimited):
				h.notify(s, protocol.ErrorEvent(protocol.ErrorCodeRateLimited, err.Error()))
			default:
				log.Error().Err(err).Str("user", s.Name).Msg("[room] post message")
			}
		case protocol.TypeLeave:
			return ErrLeft
		case protocol.TypePong:
			// liveness already recorded
		default:
			log.Debug().Str("user", s.Name).Str("type", string(env.Type)).Msg("[room] ignoring action")
		}
	}
}

func (h *Hub) post(ctx context.Context, s *Session, env protocol.Envelope) error {
	if subtle.ConstantTimeCompare([]byte(env.Token), []byte(s.Token)) != 1 {
		return ErrTokenMismatch
	}
	if strings.TrimSpace(env.Content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(env.Content) > h.opts.MaxMessageLength {
		return ErrTooLong
	}
	if !s.limiter.Allow() {
		return ErrRateLimited
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	msg, err := h.record(ctx, s.Name, env.Content)
	if err != nil {
		return err
	}
	h.broadcast(protocol.MessageEvent(msg))
	return nil
}

func (h *Hub) writeLoop(ctx context.Context, s *Session) {
	ping, _ := protocol.PingEvent().Encode()
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		code, reason := s.closeStatus()
		_ = s.conn.Close(code, reason)
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.stop(protocol.CloseGoingAway, "server shutting down")
			return
		case data := <-s.outgoing:
			if err := h.write(ctx, s, data); err != nil {
				log.Debug().Err(err).Str("user", s.Name).Msg("[room] write")
				s.stop(protocol.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if idle := s.idle(); idle > h.opts.PongWait {
				log.Info().Str("user", s.Name).Dur("idle", idle).Msg("[room] keepalive expired")
				s.stop(protocol.CloseGoingAway, "keepalive timeout")
				return
			}
			if err := h.write(ctx, s, ping); err != nil {
				s.stop(protocol.CloseGoingAway, "write failed")
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, s *Session, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteWait)
	defer cancel()
	return s.conn.Write(ctx, data)
}

// record assigns the next sequence number and appends to history. h.mu must be held.
func (h *Hub) record(ctx context.Context, author, content string) (protocol.Message, error) {
	msg := protocol.Message{
		Seq:     h.seq + 1,
		Author:  author,
		Content: content,
		Time:    time.Now().UTC(),
	}
	if err := h.history.Append(ctx, msg); err != nil {
		return protocol.Message{}, fmt.Errorf("append message %d: %w", msg.Seq, err)
	}
	h.seq = msg.Seq
	return msg, nil
}

// broadcast queues env for every session. h.mu must be held.
func (h *Hub) broadcast(env protocol.Envelope) {
	for _, s := range h.sessions {
		h.notify(s, env)
	}
}

func (h *Hub) notify(s *Session, env protocol.Envelope) {
	if err := s.enqueue(env); err != nil {
		log.Warn().Err(err).Str("user", s.Name).Msg("[room] dropping session")
		s.stop(protocol.ClosePolicyViolation, "send queue full")
	}
}

// broadcastRoster sends a full snapshot of connected names. h.mu must be held.
func (h *Hub) broadcastRoster(ctx context.Context) {
	names, err := h.registry.Names(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[room] list roster; falling back to local sessions")
		names = lo.Keys(h.sessions)
		sort.Strings(names)
	}
	h.broadcast(protocol.ActiveUsersEvent(names))
}

// Messages returns logged messages with a sequence number greater than after.
func (h *Hub) Messages(ctx context.Context, after uint64, limit int) ([]protocol.Message, error) {
	return h.history.Since(ctx, after, limit)
}

// ActiveUsers returns the current roster.
func (h *Hub) ActiveUsers(ctx context.Context) ([]string, error) {
	return h.registry.Names(ctx)
}

// SessionCount returns the number of sessions connected to this hub.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll refuses new joins and ends every session with a going-away close.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, s := range h.sessions {
		s.stop(protocol.CloseGoingAway, "server shutting down")
	}
}
