package handlers

import (
	"net/http"

	"github.com/bluelight-hub/app-sub009/metrics"
	"github.com/bluelight-hub/app-sub009/utils"
	"go.uber.org/zap"
)

// MetricsHandler exposes the pull-based metrics endpoints
type MetricsHandler struct {
	recorder    *metrics.Recorder
	snapshotter *metrics.Snapshotter
	logger      *zap.Logger
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(recorder *metrics.Recorder, snapshotter *metrics.Snapshotter, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		recorder:    recorder,
		snapshotter: snapshotter,
		logger:      logger,
	}
}

// Exposition returns the Prometheus text handler for GET /metrics
func (h *MetricsHandler) Exposition() http.Handler {
	return h.recorder.Handler()
}

// HandleSnapshot handles GET /metrics/snapshot.
// Best-effort: the base exposition text is always present; database and
// queue aggregates are null when their source failed.
func (h *MetricsHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshotter.Collect(r.Context())
	if err != nil {
		h.logger.Error("failed to collect metrics snapshot", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to collect metrics snapshot")
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, snap)
}
