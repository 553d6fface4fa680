// Package server connects browser video players to gatekeeper sessions over
// websockets and serves a small JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SoarinFerret/FocusWarden/internal/analyzer"
	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/emitter"
	"github.com/SoarinFerret/FocusWarden/internal/engine"
	"github.com/SoarinFerret/FocusWarden/internal/gatekeeper"
	"github.com/SoarinFerret/FocusWarden/internal/metrics"
)

const protocolVersion = "1.0"

type Config struct {
	Listen         string
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	// CaptureTimeout bounds how long a sample waits for the next frame.
	CaptureTimeout time.Duration
	Debug          bool
}

// Deps are shared by every session. EventStats is optional.
type Deps struct {
	Engine     *engine.Engine
	Detector   detector.Detector
	Analyzer   analyzer.Config
	Gatekeeper gatekeeper.Options
	Metrics    *metrics.Metrics
	EventStats func() emitter.Stats
}

type Server struct {
	cfg      Config
	deps     Deps
	upgrader websocket.Upgrader
	started  time.Time

	mu         sync.Mutex
	httpServer *http.Server
	shutdown   bool
	clients    map[string]*client
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Detector == nil {
		return nil, fmt.Errorf("server requires an engine and a detector")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4 << 20
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 2 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		started: time.Now(),
		clients: make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// checkOrigin accepts any origin when none are configured. Requests without
// an Origin header do not come from a browser and are accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/blocks", s.handleBlocks)
	mux.HandleFunc("GET /api/blocks/{videoId}", s.handleBlock)

	return mux
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	log.Printf("HTTP server listening on %s", s.cfg.Listen)
	log.Printf("WebSocket:  ws://%s/ws", s.cfg.Listen)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and closes every websocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.httpServer
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, c := range clients {
		c.close()
		log.Printf("Closed connection for client: %s", c.id)
	}
	return err
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.deps.Metrics.WebSocketConnected()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.deps.Metrics.WebSocketDisconnected()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
