// Package web provides the HTTP API for the transition-house directory.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/thatapp/transition-houses/internal/auth"
	"github.com/thatapp/transition-houses/internal/availability"
	"github.com/thatapp/transition-houses/internal/house"
	"github.com/thatapp/transition-houses/internal/importer"
	"github.com/thatapp/transition-houses/internal/logging"
	"github.com/thatapp/transition-houses/internal/metrics"
)

// Importer runs a full-replace import.
type Importer interface {
	Run(ctx context.Context) (importer.Result, error)
}

// Options wires the server's dependencies. Importer and APIKeys may be nil.
type Options struct {
	Store        house.Store
	Availability *availability.Service
	Importer     Importer
	Staff        *auth.Staff
	APIKeys      *auth.APIKeyStore
	Logger       *slog.Logger
}

// Server is the API HTTP server.
type Server struct {
	store        house.Store
	availability *availability.Service
	importer     Importer
	apiKeys      *auth.APIKeyStore
	logger       *slog.Logger
	router       chi.Router
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	svc := opts.Availability
	if svc == nil {
		svc = availability.NewService(opts.Store, logger)
	}
	staff := opts.Staff
	if staff == nil {
		var keys auth.KeyValidator
		if opts.APIKeys != nil {
			keys = opts.APIKeys
		}
		staff = auth.NewStaff(nil, keys, logger)
	}

	s := &Server{
		store:        opts.Store,
		availability: svc,
		importer:     opts.Importer,
		apiKeys:      opts.APIKeys,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(logger))
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/houses", s.apiListHouses)
		r.Get("/houses/markers", s.apiMarkers)
		r.Get("/houses/by-program", s.apiHouseByProgram)
		r.Get("/houses/{id}", s.apiGetHouse)

		r.Group(func(r chi.Router) {
			r.Use(staff.RequireStaff)
			r.Post("/houses", s.apiAddHouse)
			r.Post("/houses/{id}/availability", s.apiToggleAvailability)
			r.Post("/import", s.apiImport)

			r.Get("/keys", s.apiListKeys)
			r.Post("/keys", s.apiCreateKey)
			r.Delete("/keys/{id}", s.apiDeleteKey)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiError(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apiError(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	apiJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
