package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/bluelight-hub/app-sub009/repositories"
	"github.com/bluelight-hub/app-sub009/services/chain"
	"github.com/bluelight-hub/app-sub009/services/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBroker is a canned queue.Queue for handler tests.
type fakeBroker struct {
	jobID      string
	enqueueErr error
	lastPayload *models.SecurityLogPayload
}

func (f *fakeBroker) Enqueue(ctx context.Context, payload *models.SecurityLogPayload) (string, error) {
	f.lastPayload = payload
	return f.jobID, f.enqueueErr
}

func (f *fakeBroker) Counts(ctx context.Context) (queue.JobCounts, error) {
	return queue.JobCounts{}, nil
}

func (f *fakeBroker) IsPaused() bool { return false }

func (f *fakeBroker) Workers() int { return 0 }

func (f *fakeBroker) Ping(ctx context.Context) error { return nil }

func (f *fakeBroker) PersistenceStatus(ctx context.Context) (queue.PersistenceStatus, error) {
	return queue.PersistenceStatus{}, nil
}

// chainStore is a fixed, pre-built chain for verifier-backed endpoints.
type chainStore struct {
	entries []*models.SecurityLogEntry
}

func (s *chainStore) Append(ctx context.Context, build repositories.BuildEntryFunc) (*models.SecurityLogEntry, error) {
	return nil, errors.New("read-only store")
}

func (s *chainStore) FindTail(ctx context.Context) (*models.SecurityLogEntry, error) {
	if len(s.entries) == 0 {
		return nil, nil
	}
	return s.entries[len(s.entries)-1], nil
}

func (s *chainStore) FindBySequenceRange(ctx context.Context, from, to int64) ([]*models.SecurityLogEntry, error) {
	var out []*models.SecurityLogEntry
	for _, e := range s.entries {
		if e.SequenceNumber >= from && e.SequenceNumber <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *chainStore) Count(ctx context.Context) (int64, error) {
	return int64(len(s.entries)), nil
}

func (s *chainStore) CountSince(ctx context.Context, ts time.Time) (int64, error) {
	return int64(len(s.entries)), nil
}

func (s *chainStore) GroupByEventType(ctx context.Context, topN int) ([]repositories.EventTypeCount, error) {
	return nil, nil
}

// nopChainRecorder satisfies chain.MetricsRecorder.
type nopChainRecorder struct{}

func (nopChainRecorder) ObserveJobDuration(models.SecurityEventType, time.Duration)      {}
func (nopChainRecorder) IncSecurityEvent(models.SecurityEventType, models.SecuritySeverity) {}
func (nopChainRecorder) IncCriticalEvent(models.SecurityEventType)                       {}
func (nopChainRecorder) ObserveVerification(time.Duration, bool)                         {}

// buildChain assembles n genuinely linked entries.
func buildChain(t *testing.T, n int) *chainStore {
	t.Helper()
	store := &chainStore{}
	prev := models.GenesisPreviousHash
	for i := 1; i <= n; i++ {
		entry := &models.SecurityLogEntry{
			SequenceNumber: int64(i),
			EventType:      models.EventTypeDataAccess,
			Severity:       models.SeverityInfo,
			UserID:         fmt.Sprintf("user-%d", i),
			IPAddress:      "10.0.0.1",
			CreatedAt:      time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			PreviousHash:   prev,
			HashAlgorithm:  chain.HashAlgorithmSHA256,
		}
		hash, err := chain.ComputeHash(entry)
		require.NoError(t, err)
		entry.CurrentHash = hash
		prev = hash
		store.entries = append(store.entries, entry)
	}
	return store
}

func newVerifier(store *chainStore) *chain.Verifier {
	return chain.NewVerifier(store, nopChainRecorder{}, zap.NewNop(), chain.VerifierConfig{})
}

func ingestRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	return httptest.NewRequest(http.MethodPost, "/api/security-log", &buf)
}

func TestSecurityLogHandler_HandleIngest(t *testing.T) {
	logger := zap.NewNop()

	t.Run("accepted event returns the job id", func(t *testing.T) {
		broker := &fakeBroker{jobID: "job-123"}
		handler := NewSecurityLogHandler(broker, newVerifier(&chainStore{}), logger)

		req := ingestRequest(t, map[string]string{"action": "login_success", "ip": "10.0.0.1"})
		w := httptest.NewRecorder()
		handler.HandleIngest(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)

		var response struct {
			Data EnqueueResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "job-123", response.Data.JobID)

		require.NotNil(t, broker.lastPayload)
		assert.Equal(t, models.EventTypeLoginSuccess, broker.lastPayload.Action)
	})

	t.Run("malformed JSON body", func(t *testing.T) {
		handler := NewSecurityLogHandler(&fakeBroker{}, newVerifier(&chainStore{}), logger)

		req := httptest.NewRequest(http.MethodPost, "/api/security-log", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		handler.HandleIngest(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid payload", func(t *testing.T) {
		broker := &fakeBroker{enqueueErr: fmt.Errorf("%w: action required", queue.ErrInvalidPayload)}
		handler := NewSecurityLogHandler(broker, newVerifier(&chainStore{}), logger)

		req := ingestRequest(t, map[string]string{"ip": "10.0.0.1"})
		w := httptest.NewRecorder()
		handler.HandleIngest(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("full queue is reported as unavailable", func(t *testing.T) {
		broker := &fakeBroker{enqueueErr: queue.ErrQueueFull}
		handler := NewSecurityLogHandler(broker, newVerifier(&chainStore{}), logger)

		req := ingestRequest(t, map[string]string{"action": "login_success", "ip": "10.0.0.1"})
		w := httptest.NewRecorder()
		handler.HandleIngest(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "queue_unavailable", response["error"])
	})

	t.Run("stopped queue is reported as unavailable", func(t *testing.T) {
		broker := &fakeBroker{enqueueErr: queue.ErrQueueNotStarted}
		handler := NewSecurityLogHandler(broker, newVerifier(&chainStore{}), logger)

		req := ingestRequest(t, map[string]string{"action": "login_success", "ip": "10.0.0.1"})
		w := httptest.NewRecorder()
		handler.HandleIngest(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("unexpected enqueue failure", func(t *testing.T) {
		broker := &fakeBroker{enqueueErr: errors.New("boom")}
		handler := NewSecurityLogHandler(broker, newVerifier(&chainStore{}), logger)

		req := ingestRequest(t, map[string]string{"action": "login_success", "ip": "10.0.0.1"})
		w := httptest.NewRecorder()
		handler.HandleIngest(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestSecurityLogHandler_HandleVerify(t *testing.T) {
	logger := zap.NewNop()

	t.Run("verifies the whole chain by default", func(t *testing.T) {
		handler := NewSecurityLogHandler(&fakeBroker{}, newVerifier(buildChain(t, 5)), logger)

		req := httptest.NewRequest(http.MethodGet, "/api/security-log/verify", nil)
		w := httptest.NewRecorder()
		handler.HandleVerify(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data chain.VerificationResult `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.True(t, response.Data.Valid)
		assert.Equal(t, 5, response.Data.TotalChecked)
	})

	t.Run("limit caps the walk", func(t *testing.T) {
		handler := NewSecurityLogHandler(&fakeBroker{}, newVerifier(buildChain(t, 5)), logger)

		req := httptest.NewRequest(http.MethodGet, "/api/security-log/verify?limit=2", nil)
		w := httptest.NewRecorder()
		handler.HandleVerify(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data chain.VerificationResult `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.True(t, response.Data.Valid)
		assert.Equal(t, 2, response.Data.TotalChecked)
	})

	t.Run("broken chain reports the break", func(t *testing.T) {
		store := buildChain(t, 5)
		store.entries[2].PreviousHash = "0000"
		handler := NewSecurityLogHandler(&fakeBroker{}, newVerifier(store), logger)

		req := httptest.NewRequest(http.MethodGet, "/api/security-log/verify", nil)
		w := httptest.NewRecorder()
		handler.HandleVerify(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data chain.VerificationResult `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.False(t, response.Data.Valid)
		require.NotNil(t, response.Data.BrokenAtSequence)
		assert.Equal(t, int64(3), *response.Data.BrokenAtSequence)
	})

	t.Run("rejects a non-numeric limit", func(t *testing.T) {
		handler := NewSecurityLogHandler(&fakeBroker{}, newVerifier(&chainStore{}), logger)

		req := httptest.NewRequest(http.MethodGet, "/api/security-log/verify?limit=many", nil)
		w := httptest.NewRecorder()
		handler.HandleVerify(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a negative limit", func(t *testing.T) {
		handler := NewSecurityLogHandler(&fakeBroker{}, newVerifier(&chainStore{}), logger)

		req := httptest.NewRequest(http.MethodGet, "/api/security-log/verify?limit=-1", nil)
		w := httptest.NewRecorder()
		handler.HandleVerify(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSecurityLogHandler_HandleLastValid(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid chain vouches for the tail", func(t *testing.T) {
		handler := NewSecurityLogHandler(&fakeBroker{}, newVerifier(buildChain(t, 4)), logger)

		req := httptest.NewRequest(http.MethodGet, "/api/security-log/last-valid", nil)
		w := httptest.NewRecorder()
		handler.HandleLastValid(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data LastValidResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.NotNil(t, response.Data.LastValidSequence)
		assert.Equal(t, int64(4), *response.Data.LastValidSequence)
	})

	t.Run("empty chain vouches for nothing", func(t *testing.T) {
		handler := NewSecurityLogHandler(&fakeBroker{}, newVerifier(&chainStore{}), logger)

		req := httptest.NewRequest(http.MethodGet, "/api/security-log/last-valid", nil)
		w := httptest.NewRecorder()
		handler.HandleLastValid(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data LastValidResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Nil(t, response.Data.LastValidSequence)
	})
}
