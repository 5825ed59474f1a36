// Package api serves ensure_state, presets and diagnostics over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightctl/internal/control"
	"github.com/dokzlo13/lightctl/internal/ledger"
	"github.com/dokzlo13/lightctl/internal/metrics"
	"github.com/dokzlo13/lightctl/internal/preset"
)

// Deps are the services the handlers call into.
type Deps struct {
	Service     *control.Service
	Presets     *preset.Manager
	Ledger      *ledger.Ledger   // optional
	Metrics     *metrics.Metrics // optional
	Backend     string
	Ready       func(ctx context.Context) error // optional
	CORSOrigins []string
}

// Server is the HTTP front end.
type Server struct {
	addr       string
	deps       Deps
	handler    http.Handler
	httpServer *http.Server
}

// NewServer builds the routes. Nothing listens until Run.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{addr: addr, deps: deps}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc) {
		var hh http.Handler = h
		if s.deps.Metrics != nil {
			hh = s.deps.Metrics.Middleware(pattern, hh)
		}
		mux.Handle(pattern, hh)
	}

	handle("GET /health", s.handleHealth)
	handle("GET /ready", s.handleReady)
	handle("POST /api/ensure_state", s.handleEnsureState)
	handle("GET /api/presets", s.handleListPresets)
	handle("POST /api/presets", s.handleCreatePreset)
	handle("POST /api/presets/capture", s.handleCapturePreset)
	handle("GET /api/presets/{id}", s.handleGetPreset)
	handle("PUT /api/presets/{id}", s.handleUpdatePreset)
	handle("DELETE /api/presets/{id}", s.handleDeletePreset)
	handle("GET /api/presets/{id}/status", s.handlePresetStatus)
	handle("POST /api/presets/{id}/activate", s.handleActivatePreset)
	handle("GET /api/operations", s.handleOperations)
	handle("GET /api/diagnostics", s.handleDiagnostics)

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	if len(s.deps.CORSOrigins) == 0 {
		return mux
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.deps.CORSOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}).Handler(mux)
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
