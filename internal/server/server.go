// Package server wires the chat engine and its transports into one HTTP
// server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/christopherjohns/chatmatch/internal/chat"
	"github.com/christopherjohns/chatmatch/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// StatsSource reports engine state.
type StatsSource interface {
	Stats(ctx context.Context) (chat.Stats, error)
}

// Server is the main HTTP server for chatmatch.
type Server struct {
	addr      string
	mux       *http.ServeMux
	logger    *zap.Logger
	engine    StatsSource
	conns     *ws.ConnManager
	origin    string
	onStop    []func()
	wsHandler http.Handler
	translate http.Handler
	gatherer  prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithWebSocket serves h at GET /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) {
		s.wsHandler = h
	}
}

// WithTranslate serves h at POST /translate.
func WithTranslate(h http.Handler) Option {
	return func(s *Server) {
		s.translate = h
	}
}

// WithMetrics serves the metrics in g at GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithConnManager includes connection stats in /api/stats and closes
// every WebSocket when the server shuts down.
func WithConnManager(cm *ws.ConnManager) Option {
	return func(s *Server) {
		s.conns = cm
		s.onStop = append(s.onStop, cm.Shutdown)
	}
}

// WithClientOrigin allows cross-origin HTTP requests from origin.
func WithClientOrigin(origin string) Option {
	return func(s *Server) {
		s.origin = origin
	}
}

// New creates a new Server listening on addr.
func New(addr string, engine StatsSource, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		logger: logger,
		engine: engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.cors(s.mux)
}

// Run listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	for _, fn := range s.onStop {
		srv.RegisterOnShutdown(fn)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.conns != nil {
		s.mux.HandleFunc("GET /api/connections", s.handleConnections)
	}
	if s.wsHandler != nil {
		s.mux.Handle("GET /ws", s.wsHandler)
	}
	if s.translate != nil {
		s.mux.Handle("POST /translate", s.translate)
	}
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statsResponse is the body of GET /api/stats.
type statsResponse struct {
	chat.Stats
	Connections *ws.ConnStats `json:"connections,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats, err := s.engine.Stats(ctx)
	if err != nil {
		s.logger.Warn("stats unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine unavailable"})
		return
	}
	resp := statsResponse{Stats: stats}
	if s.conns != nil {
		cs := s.conns.Stats()
		resp.Connections = &cs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conns.Clients())
}

// cors allows the configured client origin to call the HTTP API with
// credentials. WebSocket origins are checked by the ws handler.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.origin == "" || origin != s.origin {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
