package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-mbus/internal/auth"
)

// healthCheckTimeout bounds the dependency checks behind GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus exposition (no auth, scraped from the local network)
	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/auth/me", s.handleMe)

			r.Route("/mbus-data-sources/scan", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermScanRead)).Get("/", s.handleListScans)
				r.With(s.requirePermission(auth.PermScanManage)).Post("/", s.handleCreateScan)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermScanRead)).Get("/", s.handleGetScan)
					r.With(s.requirePermission(auth.PermScanManage)).Post("/", s.handleCancelScan)
					r.With(s.requirePermission(auth.PermScanManage)).Delete("/", s.handleDeleteScan)
				})
			})

			r.Route("/datasources", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDataSourceRead)).Get("/", s.handleListDataSources)
				r.With(s.requirePermission(auth.PermDataSourceManage)).Post("/", s.handleCreateDataSource)

				r.Route("/{xid}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDataSourceRead)).Get("/", s.handleGetDataSource)
					r.With(s.requirePermission(auth.PermDataSourceManage)).Put("/enabled", s.handleSetDataSourceEnabled)
				})
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Put("/{id}/active", s.handleSetUserActive)
			})
		})
	})

	return r
}

// handleHealth returns the server health status. The database and MQTT are
// checked when configured; a failing database makes the service unhealthy,
// a disconnected broker only degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
