// Package router is the HTTP surface: the Gemini-compatible proxy routes,
// the admin API and the live status streams.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mixaill76/key_rotator/internal/config"
	"github.com/mixaill76/key_rotator/internal/cooldown"
	"github.com/mixaill76/key_rotator/internal/dispatcher"
	"github.com/mixaill76/key_rotator/internal/health"
	"github.com/mixaill76/key_rotator/internal/keypool"
	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/startup"
	"github.com/mixaill76/key_rotator/internal/stats"
	"github.com/mixaill76/key_rotator/internal/statushub"
	"github.com/mixaill76/key_rotator/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the router serves. Health and Cooldown may be nil.
type Deps struct {
	Dispatcher *dispatcher.Dispatcher
	Pool       *keypool.Pool
	Admin      storage.AdminStore
	Ledger     ledger.Ledger
	Hub        *statushub.Hub
	Stats      *stats.Service
	Cooldown   *cooldown.Cooldown
	Health     *health.StorageChecker
	Config     *config.Config
	Logger     *slog.Logger
}

type Router struct {
	mux        *chi.Mux
	dispatcher *dispatcher.Dispatcher
	pool       *keypool.Pool
	admin      storage.AdminStore
	ledger     ledger.Ledger
	hub        *statushub.Hub
	stats      *stats.Service
	cooldown   *cooldown.Cooldown
	health     *health.StorageChecker
	cfg        *config.Config
	logger     *slog.Logger

	// serializes admin write + pool reload pairs
	reloadMu sync.Mutex
}

func New(d Deps) *Router {
	r := &Router{
		dispatcher: d.Dispatcher,
		pool:       d.Pool,
		admin:      d.Admin,
		ledger:     d.Ledger,
		hub:        d.Hub,
		stats:      d.Stats,
		cooldown:   d.Cooldown,
		health:     d.Health,
		cfg:        d.Config,
		logger:     d.Logger,
	}
	r.mux = r.routes()
	return r
}

func (r *Router) routes() *chi.Mux {
	mux := chi.NewRouter()
	mux.Use(chimw.RealIP)
	mux.Use(chimw.Recoverer)
	mux.Use(r.logRequests)

	mux.Get(r.cfg.Monitoring.HealthCheckPath, r.handleHealth)
	if r.cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// Model and method share one segment ("gemini-2.0-flash:generateContent").
	mux.Post("/v1beta/models/{modelAction}", r.handleModelAction)

	mux.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Get("/stats", r.handleStats)
		ar.Get("/history", r.handleHistory)
		ar.Get("/statuses", r.handleStatuses)
		ar.Get("/status-stream", r.handleStatusStream)
		ar.Get("/status-ws", r.handleStatusWebSocket)

		ar.Get("/keys", r.handleListKeys)
		ar.Post("/keys", r.handleCreateKey)
		ar.Put("/keys/{keyID}", r.handleUpdateKey)
		ar.Delete("/keys/{keyID}", r.handleDeleteKey)

		ar.Get("/groups", r.handleListGroups)
		ar.Post("/groups", r.handleCreateGroup)
		ar.Put("/groups/{groupID}", r.handleRenameGroup)
		ar.Delete("/groups/{groupID}", r.handleDeleteGroup)

		ar.Get("/settings/active-group", r.handleGetActiveGroup)
		ar.Put("/settings/active-group", r.handleSetActiveGroup)
	})

	mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		WriteJSONError(w, http.StatusNotFound, "Not Found", "")
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		WriteJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	return mux
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// reloadPool rebuilds the credential pool after an admin write. A failed
// reload leaves the previous pool in place.
func (r *Router) reloadPool(ctx context.Context) {
	if err := startup.LoadPool(ctx, r.admin, r.pool); err != nil {
		r.logger.Error("Failed to reload credential pool", "error", err)
	}
}
