package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rflorenc/fitsync/internal/migration"
	"github.com/rflorenc/fitsync/internal/models"
	"github.com/rflorenc/fitsync/internal/remote"
)

// Pinger checks that the remote service is reachable.
type Pinger interface {
	Ping(ctx context.Context) (*remote.PingResponse, error)
}

// Server holds shared state for all API handlers.
type Server struct {
	Migrations *migration.Manager
	Logger     *slog.Logger

	// Endpoint and Pinger describe the remote service. Both are nil when the
	// remote is not an HTTP service.
	Endpoint *models.RemoteEndpoint
	Pinger   Pinger

	// BaseContext is the parent of background migrations started over HTTP.
	// Requests end long before a migration does, so their contexts cannot be
	// used. Defaults to context.Background.
	BaseContext context.Context

	endpointMu sync.Mutex
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

func (s *Server) baseContext() context.Context {
	if s.BaseContext == nil {
		return context.Background()
	}
	return s.BaseContext
}

// NewRouter builds the chi router with all migration API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger()))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Migration
		r.Get("/migration/state", s.GetMigrationState)
		r.Get("/migration/needed", s.GetMigrationNeeded)
		r.Get("/migration/inventory", s.GetInventory)
		r.Get("/migration/preview", s.GetMigrationPreview)
		r.Post("/migration/start", s.StartMigration)
		r.Post("/migration/cancel", s.CancelMigration)
		r.Post("/migration/clear", s.ClearMigrationState)
		r.Post("/migration/check", s.CheckMigrationStatus)

		// History
		r.Get("/migration/history", s.ListAttempts)
		r.Get("/migration/history/{id}", s.GetAttempt)

		// Remote service
		r.Get("/remote", s.GetRemote)
		r.Post("/remote/test", s.TestRemote)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/migration/events", s.StreamMigrationEvents)

	return r
}
