package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/bluelight-hub/app-sub009/services/chain"
	"github.com/bluelight-hub/app-sub009/services/queue"
	"github.com/bluelight-hub/app-sub009/utils"
	"go.uber.org/zap"
)

// SecurityLogHandler handles security event ingestion and chain inspection
type SecurityLogHandler struct {
	queue    queue.Queue
	verifier *chain.Verifier
	logger   *zap.Logger
}

// NewSecurityLogHandler creates a new SecurityLogHandler
func NewSecurityLogHandler(q queue.Queue, verifier *chain.Verifier, logger *zap.Logger) *SecurityLogHandler {
	return &SecurityLogHandler{
		queue:    q,
		verifier: verifier,
		logger:   logger,
	}
}

// EnqueueResponse is returned for an accepted security event
type EnqueueResponse struct {
	JobID string `json:"job_id"`
}

// HandleIngest handles POST /api/security-log.
// The event is accepted into the queue; the chain append happens
// asynchronously, so success means "accepted", not "persisted".
func (h *SecurityLogHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var payload models.SecurityLogPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return
	}

	jobID, err := h.queue.Enqueue(r.Context(), &payload)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrInvalidPayload):
			_ = utils.WriteBadRequest(w, err.Error(), nil)
		case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueNotStarted):
			h.logger.Error("failed to enqueue security event", zap.Error(err))
			_ = utils.WriteServiceUnavailable(w, "queue_unavailable", err.Error())
		default:
			h.logger.Error("failed to enqueue security event", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "failed to accept security event")
		}
		return
	}

	_ = utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse{
		Data: EnqueueResponse{JobID: jobID},
	})
}

// HandleVerify handles GET /api/security-log/verify?limit=N.
// limit caps verification to the N most-recent entries; omitted or 0
// verifies the whole chain.
func (h *SecurityLogHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			_ = utils.WriteBadRequest(w, "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}

	result, err := h.verifier.Verify(r.Context(), limit)
	if err != nil {
		h.logger.Error("on-demand chain verification failed", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "chain verification failed")
		return
	}

	_ = utils.WriteOK(w, result)
}

// LastValidResponse reports the last entry the chain walk vouches for
type LastValidResponse struct {
	LastValidSequence *int64 `json:"last_valid_sequence"`
}

// HandleLastValid handles GET /api/security-log/last-valid
func (h *SecurityLogHandler) HandleLastValid(w http.ResponseWriter, r *http.Request) {
	seq, err := h.verifier.FindLastValidEntry(r.Context())
	if err != nil {
		h.logger.Error("failed to find last valid entry", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to find last valid entry")
		return
	}

	_ = utils.WriteOK(w, LastValidResponse{LastValidSequence: seq})
}
