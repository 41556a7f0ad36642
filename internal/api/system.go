package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-resgraph/internal/audit"
)

// healthCheckTimeout bounds each dependency check in GET /health.
const healthCheckTimeout = 2 * time.Second

// handleHealth returns the server health status. The resource store is
// required; MQTT is reported but does not make the service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.db.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}
	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
		}
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  state,
		"version": s.version,
		"checks":  checks,
	})
}

// handleSchemaReload re-reads the schema files and registers any new types
// and patterns. Demands registered before a pattern definition changed keep
// the old definition.
func (s *Server) handleSchemaReload(w http.ResponseWriter, r *http.Request) {
	if s.schema == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "schema files not configured")
		return
	}

	res, err := s.schema.Reload()
	details := map[string]any{
		"types":    res.Types,
		"patterns": res.Patterns,
	}
	if len(res.Replaced) > 0 {
		details["replaced"] = res.Replaced
	}
	if err != nil {
		details["error"] = err.Error()
	}
	s.auditLog(audit.ActionSchemaReload, "", actorOf(r), details)

	if err != nil {
		// Everything that resolved was applied; report both.
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"status": "partial",
			"result": res,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": res,
	})
}
