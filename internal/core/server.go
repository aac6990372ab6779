// Package core provides the HTTP chassis for the Brewcast API: the chi
// router, the global middleware chain, JSON response helpers, request
// validation and health probes. Domain handlers plug in through
// V1RouteRegistrars.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"brewcast/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// Server holds the dependencies shared by every route.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// MetricsHandler serves GET /metrics when non-nil.
	MetricsHandler http.Handler

	// HealthProbes are executed concurrently by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. Populated by main
	// so core never imports handler packages.
	V1RouteRegistrars []func(chi.Router)

	// Info is returned by GET /.
	Info map[string]any

	closers []io.Closer
	router  *chi.Mux
}

// NewServer validates the required dependencies and prepares an empty
// router. Call MountRoutes after populating the optional fields.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a resource to close during Shutdown, in reverse
// registration order.
func (s *Server) OnShutdown(c io.Closer) {
	s.closers = append(s.closers, c)
}

// Shutdown closes registered resources. All closers run even if one fails.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing resource", "error", err)
			errs = append(errs, err)
		}
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return errors.Join(errs...)
}
