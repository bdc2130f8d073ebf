// Package core provides the API chassis for notemeter. It builds a chi
// router and enforces cross-cutting concerns (panic recovery, request IDs,
// logging, CORS, compression and identity) before requests reach domain
// handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"notemeter/internal/config"
)

// Server encapsulates the dependencies of the HTTP API so tests can inject
// their own.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Identity  IdentityResolver

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. Populated by main
	// to avoid import cycles between core and the handler packages.
	V1RouteRegistrars []func(r chi.Router)

	router    *chi.Mux
	shutdowns []func(ctx context.Context) error
}

// NewServer validates its inputs and prepares an empty router. Routes are
// mounted by MountRoutes once registrars are in place.
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

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a hook run by Shutdown in reverse registration order.
func (s *Server) OnShutdown(fn func(ctx context.Context) error) {
	s.shutdowns = append(s.shutdowns, fn)
}

// Shutdown runs every registered hook (flushing the usage sink, closing the
// database pool) and joins their errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for i := len(s.shutdowns) - 1; i >= 0; i-- {
		if err := s.shutdowns[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
