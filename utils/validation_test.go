package utils

import (
	"testing"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStruct(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		p := models.SecurityLogPayload{
			Action:   models.EventTypeLoginSuccess,
			Severity: models.SeverityInfo,
			IP:       "203.0.113.7",
		}

		assert.NoError(t, ValidateStruct(&p))
	})

	t.Run("optional severity may be absent", func(t *testing.T) {
		p := models.SecurityLogPayload{
			Action: models.EventTypeDataAccess,
			IP:     "203.0.113.7",
		}

		assert.NoError(t, ValidateStruct(&p))
	})

	t.Run("missing required fields", func(t *testing.T) {
		err := ValidateStruct(&models.SecurityLogPayload{})
		require.Error(t, err)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "Validation failed", verr.Message)
		assert.Contains(t, verr.Fields, "Action")
		assert.Contains(t, verr.Fields, "IP")
		assert.Contains(t, verr.Fields["IP"], "required")
	})

	t.Run("unknown severity", func(t *testing.T) {
		p := models.SecurityLogPayload{
			Action:   models.EventTypeLoginFailure,
			Severity: "catastrophic",
			IP:       "203.0.113.7",
		}

		err := ValidateStruct(&p)
		require.Error(t, err)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields["Severity"], "one of")
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Validation failed",
		Fields:  map[string]string{"IP": "IP is required"},
	}

	assert.Equal(t, "Validation failed", err.Error())
}
