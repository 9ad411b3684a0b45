package api

import (
	"net/http"

	"github.com/malwarebo/paygate/monitoring"
)

type HealthHandler struct {
	health *monitoring.HealthService
}

func CreateHealthHandler(health *monitoring.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// HandleHealth answers 503 only when a critical dependency is down.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.health.GetHealth(r.Context())
	status := http.StatusOK
	if report.Status == monitoring.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
