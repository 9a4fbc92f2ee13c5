package model

import "time"

// SourceFormat is the wire format of a structured source.
type SourceFormat string

const (
	FormatCSV  SourceFormat = "csv"
	FormatJSON SourceFormat = "json"
	FormatXLSX SourceFormat = "xlsx"
)

// StructuredSource is one tier-1 feed plus its circuit-breaker state. Only
// the breaker and the initial-review workflow mutate it.
type StructuredSource struct {
	SourceKey             string
	Domain                string
	URL                   string
	Format                SourceFormat
	Categories            []string
	Active                bool
	RequiresInitialReview bool
	ConsecutiveFailures   int
	CircuitOpenUntil      *time.Time
	LastFetchedAt         *time.Time
}

// CircuitOpen reports whether the breaker window is still unexpired at now.
func (s StructuredSource) CircuitOpen(now time.Time) bool {
	return s.CircuitOpenUntil != nil && now.Before(*s.CircuitOpenUntil)
}

// RSSFeed is one tier-3 legislative feed config.
type RSSFeed struct {
	ID           string
	Name         string
	URL          string
	Jurisdiction string
	State        string
	Active       bool
}

// FeedItem is one RSS entry. Append-only; dedupe key is (FeedID, ItemHash).
type FeedItem struct {
	ID               string
	FeedID           string
	ItemHash         string
	Title            string
	Link             string
	Description      string
	PublishedAt      *time.Time
	RelevanceScore   float64
	DetectedCategory string
	Processed        bool
	VerifyTriggered  bool
	CreatedAt        time.Time
}

// SchedulerState is a named last-refresh timestamp, persisted so cooldowns
// survive restarts.
type SchedulerState struct {
	Name          string
	LastRefreshAt *time.Time
}
