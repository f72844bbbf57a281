package handlers

import (
	"net/http"
	"time"

	"github.com/bluelight-hub/app-sub009/services/health"
	"github.com/bluelight-hub/app-sub009/utils"
	"go.uber.org/zap"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	aggregator *health.Aggregator
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(aggregator *health.Aggregator, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		aggregator: aggregator,
		logger:     logger,
	}
}

// LivenessResponse is the trivial liveness payload
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// HandleHealth handles GET /health.
// Liveness only - returns 200 whenever the process is serving.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, LivenessResponse{
		Status:    string(health.StatusUp),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /health/ready.
// Runs the composite aggregator: 200 when every sub-check is up, 503 with
// itemized sub-check detail otherwise.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	report := h.aggregator.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != health.StatusUp {
		httpStatus = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, report); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
