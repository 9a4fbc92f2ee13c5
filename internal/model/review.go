package model

import "time"

// ReviewReason says why an item needs a human before the system acts on it.
type ReviewReason string

const (
	// ReasonWageDecrease marks a beyond-tolerance wage drop; decreases are
	// rare enough in practice that one usually means a parse error.
	ReasonWageDecrease ReviewReason = "wage_decrease"
	// ReasonInitialSourceReview marks a source's first fetch, gated until a
	// human confirms the parse config maps its columns correctly.
	ReasonInitialSourceReview ReviewReason = "initial_source_review"
)

// ReviewItem is one entry in the human-review queue.
type ReviewItem struct {
	ID             string
	Reason         ReviewReason
	SourceKey      string
	JurisdictionID string
	Category       string
	OldValue       string
	NewValue       string
	Note           string
	CreatedAt      time.Time
}
