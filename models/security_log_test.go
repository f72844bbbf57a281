package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityLogEntry(t *testing.T) {
	t.Run("table name", func(t *testing.T) {
		assert.Equal(t, "security_log_entries", SecurityLogEntry{}.TableName())
	})

	t.Run("genesis detection", func(t *testing.T) {
		assert.True(t, (&SecurityLogEntry{SequenceNumber: 1}).IsGenesis())
		assert.False(t, (&SecurityLogEntry{SequenceNumber: 2}).IsGenesis())
	})

	t.Run("optional fields are omitted from JSON", func(t *testing.T) {
		entry := SecurityLogEntry{
			SequenceNumber: 1,
			EventType:      EventTypeLoginSuccess,
			Severity:       SeverityInfo,
			PreviousHash:   GenesisPreviousHash,
		}

		data, err := json.Marshal(entry)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "session_id")
		assert.NotContains(t, string(data), "message")
		assert.Contains(t, string(data), `"previous_hash":"none"`)
	})
}

func TestSecurityLogPayload(t *testing.T) {
	t.Run("effective user id defaults to system", func(t *testing.T) {
		p := &SecurityLogPayload{}
		assert.Equal(t, SystemUserID, p.EffectiveUserID())

		p.UserID = "user-7"
		assert.Equal(t, "user-7", p.EffectiveUserID())
	})

	t.Run("effective severity defaults to info", func(t *testing.T) {
		p := &SecurityLogPayload{}
		assert.Equal(t, SeverityInfo, p.EffectiveSeverity())

		p.Severity = SeverityWarning
		assert.Equal(t, SeverityWarning, p.EffectiveSeverity())
	})

	t.Run("critical detection", func(t *testing.T) {
		assert.False(t, (&SecurityLogPayload{}).IsCritical())
		assert.False(t, (&SecurityLogPayload{Severity: SeverityWarning}).IsCritical())
		assert.True(t, (&SecurityLogPayload{Severity: SeverityCritical}).IsCritical())
	})

	t.Run("decodes the wire format", func(t *testing.T) {
		raw := `{
			"action": "login_failure",
			"severity": "warning",
			"userId": "user-3",
			"ip": "203.0.113.7",
			"statusCode": 401,
			"metadata": {"reason": "bad password"}
		}`

		var p SecurityLogPayload
		require.NoError(t, json.Unmarshal([]byte(raw), &p))
		assert.Equal(t, EventTypeLoginFailure, p.Action)
		assert.Equal(t, SeverityWarning, p.Severity)
		assert.Equal(t, "user-3", p.UserID)
		require.NotNil(t, p.StatusCode)
		assert.Equal(t, 401, *p.StatusCode)
		assert.Equal(t, "bad password", p.Metadata["reason"])
	})
}
