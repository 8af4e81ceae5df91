package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/omochice/room-chat/internal/chat"
	"github.com/omochice/room-chat/pkg/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Options tunes the HTTP side of the server.
type Options struct {
	// JoinRate and JoinBurst bound WebSocket joins per remote address. A zero rate disables the limit.
	JoinRate  rate.Limit
	JoinBurst int
	// MaxPageSize caps /api/messages responses. Zero means defaultPageSize.
	MaxPageSize int
	// MaxMessageLength is the longest message content, in runes, the room accepts.
	// It sizes the per-connection read limit; zero means defaultReadLimit.
	MaxMessageLength int
}

const (
	defaultPageSize  = 100
	defaultReadLimit = 1 << 20

	// envelopeOverhead covers the JSON keys, type, author and token around the content.
	envelopeOverhead = 4096
	// maxEscapedRune is the widest JSON encoding of one rune, a \uXXXX\uXXXX surrogate pair.
	maxEscapedRune = 12
)

func (o Options) readLimit() int64 {
	if o.MaxMessageLength <= 0 {
		return defaultReadLimit
	}
	return int64(o.MaxMessageLength)*maxEscapedRune + envelopeOverhead
}

func (o Options) pageSize() int {
	if o.MaxPageSize <= 0 {
		return defaultPageSize
	}
	return o.MaxPageSize
}

// Server accepts WebSocket sessions on /ws/{name} and delegates them to a Hub.
type Server struct {
	address  string
	hub      *chat.Hub
	upgrader websocket.Upgrader
	joins    *joinLimiter
	opts     Options

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a WebSocket server that uses the provided Hub.
func New(address string, hub *chat.Hub, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		hub:     hub,
		opts:    opts,
		joins:   newJoinLimiter(opts.JoinRate, opts.JoinBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Listen binds the listening socket. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Start serves HTTP until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	srv, listener := s.server, s.listener
	s.mu.Unlock()

	log.Info().Str("addr", listener.Addr().String()).Msg("[http] WebSocket server started")

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop refuses new joins, closes every session with a going-away code and
// waits for the handlers to return.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	s.cancel()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Router builds the HTTP routes served by the room.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws/{name}", s.handleWebSocket)
	r.Get("/api/messages", s.handleMessages)
	r.Get("/api/active_users", s.handleActiveUsers)
	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	host := remoteHost(r)
	if !s.joins.allow(host) {
		log.Info().Str("remote", host).Msg("[http] join rate limited")
		http.Error(w, "too many join attempts", http.StatusTooManyRequests)
		return
	}

	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			http.Error(w, "malformed name", http.StatusBadRequest)
			return
		}
		name = unescaped
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("[http] upgrade websocket")
		return
	}
	wsConn.SetReadLimit(s.opts.readLimit())

	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.hub.Serve(s.ctx, NewConnWithAddr(wsConn, r.RemoteAddr), name); err != nil {
		log.Debug().Err(err).Str("user", name).Msg("[http] session ended")
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "after must be a non-negative integer", http.StatusBadRequest)
			return
		}
		after = n
	}

	msgs, err := s.hub.Messages(r.Context(), after, s.opts.pageSize())
	if err != nil {
		log.Error().Err(err).Msg("[http] list messages")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	writeJSON(w, msgs)
}

func (s *Server) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	names, err := s.hub.ActiveUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("[http] list active users")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("[http] write response")
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
