package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.metricsMiddleware)

	// Prometheus scrape endpoint
	if s.metrics != nil && s.metricsCfg.Enabled && s.metricsCfg.Path != "" {
		r.Handle(s.metricsCfg.Path, s.metrics.Handler())
	}

	read := s.requirePermission(auth.PermResourceRead)
	write := s.requirePermission(auth.PermResourceWrite)
	structure := s.requirePermission(auth.PermResourceStructure)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/auth/me", s.handleWhoAmI)

			r.With(read).Get("/metrics", s.handleMetrics)

			// Resources
			r.With(read).Get("/resources", s.handleListTopLevel)
			r.With(structure).Post("/resources", s.handleCreateTopLevel)
			r.With(read).Get("/resources/*", s.handleGetResource)
			r.With(structure).Put("/resources/*", s.handlePutResource)
			r.With(structure).Delete("/resources/*", s.handleDeleteResource)

			r.With(read).Get("/values/*", s.handleGetValue)
			r.With(write).Put("/values/*", s.handleSetValue)

			r.With(structure).Post("/activation/*", s.handleSetActivation)

			// Bulk activation is judged by the permission gate.
			r.Post("/activate", s.handleBulkActivation)

			r.With(write).Get("/access/*", s.handleGetAccess)
			r.With(write).Post("/access/*", s.handleRequestAccess)
			r.With(write).Delete("/access/*", s.handleReleaseAccess)

			r.With(read).Get("/types", s.handleListTypes)
			r.With(read).Get("/types/{name}/resources", s.handleListResourcesOfType)
			r.With(read).Get("/stats", s.handleGraphStats)

			// Patterns
			r.Route("/patterns", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermPatternRead))
				r.Get("/", s.handleListPatterns)

				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", s.handleGetPattern)
					r.Get("/instances", s.handleListInstances)
					r.With(s.requirePermission(auth.PermPatternManage)).Post("/instances", s.handleCreateInstance)
					r.Get("/evaluate", s.handleEvaluate)
					r.Post("/activation", s.handleInstanceActivation)
				})
			})
			r.With(s.requirePermission(auth.PermPatternRead)).Get("/demands", s.handleListDemands)

			// Administration
			r.With(s.requirePermission(auth.PermResourceAdmin)).Get("/audit", s.handleListAuditLogs)
			r.With(s.requirePermission(auth.PermSystemAdmin)).Post("/schema/reload", s.handleSchemaReload)
		})
	})

	return r
}
