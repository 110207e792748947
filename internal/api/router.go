// Package api exposes the sync engine over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/services"
)

// AdminKeyHeader carries the operator key on admin routes.
const AdminKeyHeader = "X-Admin-Key"

// Engine is the part of the sync engine the HTTP layer drives.
type Engine interface {
	Enqueue(ctx context.Context, typ models.OperationType, entityType, entityID string, payload models.Payload) (string, error)
	Sync(ctx context.Context) (services.SyncResult, error)
	RetryFailedOperations(ctx context.Context) ([]string, error)
	DiscardFailedOperations(ctx context.Context) (int, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	GetStatus() models.SyncStatus
	GetPendingOperations() []*models.SyncOperation
	GetFailedOperations() []*models.SyncOperation
}

type Options struct {
	// AdminKeyHash is the bcrypt hash admin requests are checked against.
	// Admin routes answer 403 when it is empty.
	AdminKeyHash string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

func NewRouter(engine Engine, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &handler{engine: engine, logger: opts.Logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	router.Get("/status", h.status)
	router.Post("/sync", h.sync)

	router.Route("/operations", func(r chi.Router) {
		r.Post("/", h.enqueue)
		r.Get("/pending", h.listPending)
		r.Get("/failed", h.listFailed)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdminKey(opts.AdminKeyHash))
			r.Use(middleware.Timeout(30 * time.Second))
			r.Delete("/", h.clear)
			r.Delete("/{id}", h.remove)
			r.Post("/failed/retry", h.retryFailed)
			r.Delete("/failed", h.discardFailed)
		})
	})

	return router
}
