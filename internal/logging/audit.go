package logging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Token lifecycle events
	TokenRefresh AuditEventType = "TOKEN_REFRESH"
	TokenRevoked AuditEventType = "TOKEN_REVOKED"
	TokenIssued  AuditEventType = "TOKEN_ISSUED"

	// Authorization events
	AuthSuccess AuditEventType = "AUTH_SUCCESS"
	AuthFailure AuditEventType = "AUTH_FAILURE"

	// Sync events
	SyncRun AuditEventType = "SYNC_RUN"

	// Configuration events
	ConfigChange AuditEventType = "CONFIG_CHANGE"

	// API access events
	APIAccess AuditEventType = "API_ACCESS"
)

// AuditSeverity represents the severity level of an audit event
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
)

// AuditEvent represents a security/operational audit event
type AuditEvent struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"event_type"`
	Severity     AuditSeverity          `json:"severity"`
	Provider     string                 `json:"provider,omitempty"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource"`
	Status       AuditStatus            `json:"status"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// NewAuditEvent creates a new audit event with a generated ID and timestamp
func NewAuditEvent(eventType AuditEventType, action string, status AuditStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Action:    action,
		Status:    status,
		Severity:  SeverityInfo,
	}
}

// WithProvider sets the provider for the audit event
func (e *AuditEvent) WithProvider(provider string) *AuditEvent {
	e.Provider = provider
	return e
}

// WithResource sets the resource for the audit event
func (e *AuditEvent) WithResource(resource string) *AuditEvent {
	e.Resource = resource
	return e
}

// WithSeverity sets the severity for the audit event
func (e *AuditEvent) WithSeverity(severity AuditSeverity) *AuditEvent {
	e.Severity = severity
	return e
}

// WithDetails sets the details map for the audit event
func (e *AuditEvent) WithDetails(details map[string]interface{}) *AuditEvent {
	e.Details = details
	return e
}

// WithError sets the error message and marks the event failed
func (e *AuditEvent) WithError(errorMessage string) *AuditEvent {
	e.ErrorMessage = errorMessage
	e.Status = StatusFailure
	if e.Severity == SeverityInfo {
		e.Severity = SeverityError
	}
	return e
}

// ToJSON converts the audit event to a JSON string
func (e *AuditEvent) ToJSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal audit event: %v"}`, err)
	}
	return string(data)
}

// Emit writes the audit event through the structured logger.
func (e *AuditEvent) Emit(l *Logger) {
	if l == nil {
		return
	}
	fields := []interface{}{
		"audit_id", e.ID,
		"event_type", string(e.EventType),
		"severity", string(e.Severity),
		"status", string(e.Status),
	}
	if e.Provider != "" {
		fields = append(fields, "provider", e.Provider)
	}
	if e.Resource != "" {
		fields = append(fields, "resource", e.Resource)
	}
	if e.ErrorMessage != "" {
		fields = append(fields, "error", e.ErrorMessage)
	}
	switch e.Severity {
	case SeverityError, SeverityCritical:
		l.Error(e.Action, fields...)
	case SeverityWarning:
		l.Warn(e.Action, fields...)
	default:
		l.Info(e.Action, fields...)
	}
}
