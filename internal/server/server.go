// Package server exposes the engine's operational surface: health probes,
// ledger and branch inspection, the audit trail, and on-demand branch
// synchronization. All endpoints are read-only except the sync trigger.
package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/opsforge/buildsync/pkg/audit"
	"github.com/opsforge/buildsync/pkg/ledger"
	"github.com/opsforge/buildsync/pkg/registry"
	"github.com/opsforge/buildsync/pkg/scheduler"
)

// Server holds the stores the HTTP handlers read from.
type Server struct {
	db       *gorm.DB
	registry *registry.Store
	ledger   *ledger.Store
	audit    *audit.Store
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

// New creates a Server. sched may be nil when the process runs with the
// scheduler disabled; the sync trigger then returns 503.
func New(db *gorm.DB, reg *registry.Store, led *ledger.Store, aud *audit.Store,
	sched *scheduler.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:       db,
		registry: reg,
		ledger:   led,
		audit:    aud,
		sched:    sched,
		logger:   logger,
	}
}

// MountRoutes creates the HTTP router.
func (s *Server) MountRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/branches", s.handleListBranches)
		r.Post("/branches/{branchID}/sync", s.handleSyncBranch)
		r.Get("/ledger", s.handleListLedger)
		r.Get("/ledger/{branchID}", s.handleGetLedger)
		r.Get("/audit/events", s.handleListAuditEvents)
	})

	return r
}
