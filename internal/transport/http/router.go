// Package httpapi is the admin and ingress HTTP surface: event submission
// as an alternative to the Kafka topic, resync triggering, outcome queries,
// and the usual health and metrics endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"groupsync/internal/outcomes"
	"groupsync/internal/reconcile/adapter"
	"groupsync/internal/reconcile/models"
	"groupsync/internal/resync"
)

// Dispatcher accepts host notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n adapter.Notification) ([]*models.Outcome, error)
}

// Resyncer runs membership sweeps.
type Resyncer interface {
	Run(ctx context.Context, opts resync.Options) (*resync.Report, error)
}

// HealthChecker is a named readiness probe over one dependency.
type HealthChecker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler carries the dependencies of every route.
type Handler struct {
	dispatcher    Dispatcher
	resyncer      Resyncer
	outcomeStore  outcomes.Store
	logger        *slog.Logger
	jwtSigningKey string
	checkers      []HealthChecker
}

func NewHandler(dispatcher Dispatcher, resyncer Resyncer, store outcomes.Store, logger *slog.Logger, jwtSigningKey string, checkers ...HealthChecker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher:    dispatcher,
		resyncer:      resyncer,
		outcomeStore:  store,
		logger:        logger,
		jwtSigningKey: jwtSigningKey,
		checkers:      checkers,
	}
}

// NewRouter wires all endpoints. Health and metrics stay open; everything
// under /v1 requires a bearer token when a signing key is configured.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(requireAuth(h.jwtSigningKey, h.logger))
		v1.Post("/events", h.handleEvents)
		v1.Post("/resync", h.handleResync)
		v1.Get("/outcomes", h.handleOutcomes)
	})
	return r
}
