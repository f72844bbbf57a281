package models

import (
	"encoding/json"
	"time"
)

// SecurityEventType represents the type of security event being logged
type SecurityEventType string

const (
	EventTypeLoginSuccess       SecurityEventType = "login_success"
	EventTypeLoginFailure       SecurityEventType = "login_failure"
	EventTypeLogout             SecurityEventType = "logout"
	EventTypePermissionChange   SecurityEventType = "permission_change"
	EventTypeUnauthorizedAccess SecurityEventType = "unauthorized_access"
	EventTypeDataAccess         SecurityEventType = "data_access"
	EventTypeDataExport         SecurityEventType = "data_export"
	EventTypeConfigChange       SecurityEventType = "config_change"
	EventTypeTokenRefresh       SecurityEventType = "token_refresh"
)

// SecuritySeverity classifies how urgent a security event is
type SecuritySeverity string

const (
	SeverityInfo     SecuritySeverity = "info"
	SeverityWarning  SecuritySeverity = "warning"
	SeverityCritical SecuritySeverity = "critical"
)

const (
	// GenesisPreviousHash is the previous-hash sentinel carried by the
	// first entry of the chain.
	GenesisPreviousHash = "none"

	// SystemUserID is recorded when an event is not attributable to a user.
	SystemUserID = "system"
)

// SecurityLogEntry is one link of the append-only hash chain. Entries are
// created exactly once by the chain writer and never updated or deleted.
type SecurityLogEntry struct {
	SequenceNumber int64             `json:"sequence_number" db:"sequence_number"`
	EventType      SecurityEventType `json:"event_type" db:"event_type"`
	Severity       SecuritySeverity  `json:"severity" db:"severity"`
	UserID         string            `json:"user_id" db:"user_id"`
	IPAddress      string            `json:"ip_address" db:"ip_address"`
	UserAgent      string            `json:"user_agent" db:"user_agent"`
	SessionID      *string           `json:"session_id,omitempty" db:"session_id"`
	Metadata       json.RawMessage   `json:"metadata,omitempty" db:"metadata"`
	Message        *string           `json:"message,omitempty" db:"message"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	PreviousHash   string            `json:"previous_hash" db:"previous_hash"`
	CurrentHash    string            `json:"current_hash" db:"current_hash"`
	HashAlgorithm  string            `json:"hash_algorithm" db:"hash_algorithm"`
}

// TableName returns the table name for the SecurityLogEntry model
func (SecurityLogEntry) TableName() string {
	return "security_log_entries"
}

// IsGenesis reports whether this entry is the first link of the chain.
func (e *SecurityLogEntry) IsGenesis() bool {
	return e.SequenceNumber == 1
}

// SecurityLogPayload is the inbound event produced by event sources and
// carried through the ingestion queue. Required vs optional fields are
// explicit; the queue validates a payload before accepting it.
type SecurityLogPayload struct {
	Action         SecurityEventType `json:"action" validate:"required"`
	Severity       SecuritySeverity  `json:"severity,omitempty" validate:"omitempty,oneof=info warning critical"`
	UserID         string            `json:"userId"`
	IP             string            `json:"ip" validate:"required"`
	Method         *string           `json:"method,omitempty"`
	Path           *string           `json:"path,omitempty"`
	StatusCode     *int              `json:"statusCode,omitempty"`
	UserAgent      *string           `json:"userAgent,omitempty"`
	SessionID      *string           `json:"sessionId,omitempty"`
	OrganizationID *string           `json:"organizationId,omitempty"`
	TenantID       *string           `json:"tenantId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Message        *string           `json:"message,omitempty"`
}

// EffectiveUserID maps an empty user ID to the system actor.
func (p *SecurityLogPayload) EffectiveUserID() string {
	if p.UserID == "" {
		return SystemUserID
	}
	return p.UserID
}

// EffectiveSeverity defaults unset severities to info.
func (p *SecurityLogPayload) EffectiveSeverity() SecuritySeverity {
	if p.Severity == "" {
		return SeverityInfo
	}
	return p.Severity
}

// IsCritical reports whether the payload describes a critical event.
func (p *SecurityLogPayload) IsCritical() bool {
	return p.EffectiveSeverity() == SeverityCritical
}
