package model

import "time"

// CalendarPattern describes a known calendar-correlated change wave, e.g.
// the January 1 minimum wage updates.
type CalendarPattern struct {
	Key              string `yaml:"key"`
	Category         string `yaml:"category"`
	TriggerMonth     int    `yaml:"trigger_month"`
	TriggerDay       int    `yaml:"trigger_day"`
	WindowDays       int    `yaml:"window_days"`
	MinJurisdictions int    `yaml:"min_jurisdictions"`
	Description      string `yaml:"description"`
}

// TriggerDate is the pattern's anchor date in the given year, UTC midnight.
func (p CalendarPattern) TriggerDate(year int) time.Time {
	return time.Date(year, time.Month(p.TriggerMonth), p.TriggerDay, 0, 0, 0, 0, time.UTC)
}

// PatternDetection is one recorded pattern match. One row per
// (pattern_key, detection_year), upserted as matches accrue in the window.
type PatternDetection struct {
	ID                   string
	PatternKey           string
	DetectionYear        int
	JurisdictionsMatched []string
	JurisdictionsFlagged []string
	AlertsCreated        int
	UpdatedAt            time.Time
}
