package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mlgate/mlgate/pkg/audit"
	"github.com/mlgate/mlgate/pkg/policy"
	"github.com/mlgate/mlgate/pkg/telemetry"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddress   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddress:   ":8443",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Server serves policy decisions over HTTP.
type Server struct {
	cfg    Config
	engine *policy.Engine
	tel    *telemetry.Telemetry
	store  *audit.Store
	logger zerolog.Logger
	srv    *http.Server
}

// NewServer creates a server over the given engine. The audit store is
// optional; pass nil to disable decision persistence.
func NewServer(cfg Config, engine *policy.Engine, tel *telemetry.Telemetry, store *audit.Store) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if tel == nil {
		return nil, fmt.Errorf("telemetry is required")
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8443"
	}

	s := &Server{
		cfg:    cfg,
		engine: engine,
		tel:    tel,
		store:  store,
		logger: tel.Logger.NewComponentLogger("server").Zerolog(),
	}

	s.srv = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decide/plan", s.handlePlan)
	mux.HandleFunc("POST /v1/decide/admission", s.handleAdmission)
	mux.HandleFunc("GET /v1/policies", s.handlePolicies)
	mux.HandleFunc("GET /v1/decisions", s.handleDecisions)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleHealthz)
	mux.Handle("GET /metrics", s.tel.Metrics.Handler())
	return mux
}

// Start runs the server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("address", s.cfg.ListenAddress).Msg("HTTP server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("Shutting down HTTP server")
		return s.srv.Shutdown(shutdownCtx)
	}
}
