package model

import "time"

// EventType tags audit events. The set is closed; new decision points add a
// constant here.
type EventType string

const (
	EventFetchSuccess        EventType = "FETCH_SUCCESS"
	EventFetchError          EventType = "FETCH_ERROR"
	EventBoundsRejection     EventType = "BOUNDS_REJECTION"
	EventSourceSelection     EventType = "SOURCE_SELECTION"
	EventVerification        EventType = "VERIFICATION"
	EventCircuitOpen         EventType = "CIRCUIT_OPEN"
	EventCircuitClose        EventType = "CIRCUIT_CLOSE"
	EventVerificationPending EventType = "VERIFICATION_PENDING"
	EventPatternDetected     EventType = "PATTERN_DETECTED"
)

// AuditEvent is one append-only audit record. Never updated or deleted.
type AuditEvent struct {
	ID             string
	Type           EventType
	SourceKey      string
	JurisdictionID string
	Details        map[string]any
	TriggeredBy    string
	CreatedAt      time.Time
}
