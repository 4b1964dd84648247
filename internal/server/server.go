// Package server exposes babelcall to browser clients.
//
// A single WebSocket at /ws carries JSON events from the server ({type,
// payload}) and JSON commands from the client. Binary frames on the same
// socket are 16 kHz PCM16 microphone audio for the active call. REST routes
// under /api serve the directory, and /healthz, /readyz and /metrics serve
// operations.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/babelcall/internal/call"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/health"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

const defaultEndTimeout = 5 * time.Second

// Config holds the dependencies of a [Server].
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	Directory *chat.Directory
	Calls     *call.Manager

	// Hub receives the call hooks and store events. A new hub is created
	// when nil.
	Hub *Hub

	// Voices lists the selectable TTS voices. Nil answers 503.
	Voices func(ctx context.Context) ([]tts.Voice, error)

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// AllowedOrigins restricts browser origins on /ws. Empty allows all.
	AllowedOrigins []string

	// EndTimeout bounds waiting for turns to drain on call.end.
	EndTimeout time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader
	handler  http.Handler

	mu  sync.Mutex
	srv *http.Server
}

// New validates cfg and builds the routes. Directory and Calls are required.
func New(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Directory == nil {
		errs = append(errs, errors.New("directory is required"))
	}
	if cfg.Calls == nil {
		errs = append(errs, errors.New("call manager is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = defaultEndTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(cfg.Metrics, log)
	}

	s := &Server{cfg: cfg, log: log, hub: hub}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleSocket)
	s.routes(mux)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s, nil
}

// Hub returns the server's event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on cfg.Addr and serves until ctx is cancelled or the listener
// fails. Store events are forwarded to clients while it runs.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.hub.Watch(watchCtx, s.cfg.Directory.Store())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops accepting connections and waits for handlers until ctx
// expires. Open sockets close when the context passed to Run is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	s.log.Warn("server: rejecting websocket origin", "origin", origin)
	return false
}
