package handler

import (
	"context"
	"net/http"
	"time"

	"ledger/internal/service"
)

// BreakerState reports the store circuit breaker for /status.
type BreakerState interface {
	GetMetrics() service.CircuitMetrics
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	Ledger  Ledger
	Breaker BreakerState
}

// LivenessResponse represents liveness probe response.
type LivenessResponse struct {
	Status string `json:"status"`
	Time   int64  `json:"timestamp"`
}

// ReadinessResponse represents readiness probe response.
type ReadinessResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis"`
}

// Liveness returns 200 if the service is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status: "alive",
		Time:   time.Now().Unix(),
	})
}

// Readiness pings the store and returns 503 if it does not answer.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if _, err := h.Ledger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Status: "unavailable",
			Redis:  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{
		Status: "ready",
		Redis:  "ok",
	})
}

// Status returns detailed status information.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service":   "ledger",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(startTime).Seconds(),
	}
	if h.Breaker != nil {
		status["store_breaker"] = h.Breaker.GetMetrics()
	}
	writeJSON(w, http.StatusOK, status)
}

var startTime = time.Now()
