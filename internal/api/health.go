package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds dependency checks in the health endpoint.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	MQTT      string `json:"mqtt"`
	LastCycle string `json:"last_cycle,omitempty"`
}

// handleHealth reports liveness. The response is 503 with status
// "degraded" while the broker is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version, MQTT: "not_configured"}

	if s.mqtt != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			resp.Status = "degraded"
			resp.MQTT = "disconnected"
		} else {
			resp.MQTT = "connected"
		}
	}

	if cycle, ok := s.poller.LastCycle(); ok {
		resp.LastCycle = cycle.ScheduledAt.UTC().Format(time.RFC3339)
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
