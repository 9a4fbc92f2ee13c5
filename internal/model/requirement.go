// Package model holds the domain types shared across the monitoring engine.
package model

import (
	"strings"
	"time"
)

// JurisdictionID builds the stable natural identifier for a jurisdiction,
// e.g. ("CA", "West Hollywood") -> "ca:west_hollywood".
func JurisdictionID(state, jurisdiction string) string {
	j := strings.ToLower(strings.TrimSpace(jurisdiction))
	j = strings.ReplaceAll(j, " ", "_")
	return strings.ToLower(state) + ":" + j
}

// JurisdictionLevel is the geographic tier of a governing entity.
type JurisdictionLevel string

const (
	LevelState  JurisdictionLevel = "state"
	LevelCounty JurisdictionLevel = "county"
	LevelCity   JurisdictionLevel = "city"
)

// Specificity orders levels from broad to narrow; unknown levels return 0.
func (l JurisdictionLevel) Specificity() int {
	switch l {
	case LevelState:
		return 1
	case LevelCounty:
		return 2
	case LevelCity:
		return 3
	default:
		return 0
	}
}

// SourceTier distinguishes authoritative structured feeds (1) from
// AI-researched values (2) and unverified RSS signals (3).
type SourceTier int

const (
	Tier1 SourceTier = 1
	Tier2 SourceTier = 2
	Tier3 SourceTier = 3
)

// Requirement is one labor-law requirement row. Multiple candidate rows per
// (jurisdiction family, category, rate type) may coexist; after resolution
// exactly one carries Governing=true.
type Requirement struct {
	ID             string
	JurisdictionID string
	Jurisdiction   string
	State          string
	Level          JurisdictionLevel
	Category       string
	RateType       string
	Title          string
	CurrentValue   string
	NumericValue   *float64
	EffectiveDate  *time.Time
	SourceKey      string
	SourceTier     SourceTier
	Governing      bool
	LastVerifiedAt *time.Time
	UpdatedAt      time.Time
}

// PreemptionRule states whether a state lets local jurisdictions impose
// their own rule for a category. Seeded once, read-only to the resolver.
type PreemptionRule struct {
	State               string
	Category            string
	AllowsLocalOverride bool
}
