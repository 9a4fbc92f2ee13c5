package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Severity orders alerts: info < warning < critical. The numeric order is
// load-bearing for alert de-duplication.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps the stored string form back to the enum.
func ParseSeverity(raw string) (Severity, error) {
	switch raw {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityInfo, eris.Errorf("model: unknown severity %q", raw)
	}
}

// AlertType distinguishes confirmed-change alerts from pattern-driven
// review suggestions.
type AlertType string

const (
	AlertProactive         AlertType = "proactive"
	AlertReviewRecommended AlertType = "review_recommended"
)

// ComplianceAlert is surfaced to a business location when a requirement it
// is subject to changed or is suspected to change. DedupeKey identifies the
// triggering change or pattern so repeats within a window are suppressed.
type ComplianceAlert struct {
	ID         string
	LocationID string
	CompanyID  string
	Severity   Severity
	Category   string
	Type       AlertType
	DedupeKey  string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// BusinessLocation ties a company site to the jurisdiction whose
// requirements govern it.
type BusinessLocation struct {
	ID             string
	CompanyID      string
	JurisdictionID string
	State          string
}
