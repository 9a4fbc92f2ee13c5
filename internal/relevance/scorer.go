// Package relevance scores RSS feed items for labor-law relevance with a
// keyword heuristic, gating which items are worth an AI verification call.
package relevance

import (
	"sort"
	"strings"

	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/normalize"
)

const (
	// DefaultThreshold is the minimum score an item needs to be escalated.
	DefaultThreshold = 0.3
	// DefaultTopN caps escalations per cycle so one busy legislative day
	// cannot exhaust the verification budget.
	DefaultTopN = 25

	perMatchWeight = 0.25
	titleBoost     = 0.2
)

// categoryOrder fixes tie-break order when two categories match equally.
var categoryOrder = []string{
	normalize.CategoryMinimumWage,
	normalize.CategoryOvertime,
	normalize.CategoryPaidSickLeave,
	normalize.CategoryPayFrequency,
	normalize.CategoryMealBreaks,
}

var categoryKeywords = map[string][]string{
	normalize.CategoryMinimumWage: {
		"minimum wage", "wage increase", "wage order", "living wage",
		"hourly wage", "tipped wage", "subminimum",
	},
	normalize.CategoryOvertime: {
		"overtime", "time and a half", "hours worked", "workweek",
		"exempt employee", "salary threshold",
	},
	normalize.CategoryPaidSickLeave: {
		"sick leave", "paid leave", "sick time", "accrual",
		"safe leave", "paid time off",
	},
	normalize.CategoryPayFrequency: {
		"pay frequency", "payday", "semimonthly", "wage payment",
		"final paycheck", "pay period",
	},
	normalize.CategoryMealBreaks: {
		"meal break", "meal period", "rest break", "rest period",
		"lunch break",
	},
}

// Scorer assigns each item the score of its best-matching category. Matches
// are case-insensitive substring hits over title plus description; each
// keyword counts once. A keyword hit in the title earns an extra boost since
// bill titles name their subject.
type Scorer struct {
	threshold float64
}

// NewScorer builds a Scorer with the given escalation threshold; pass 0 for
// the default.
func NewScorer(threshold float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{threshold: threshold}
}

// Threshold returns the escalation cutoff.
func (s *Scorer) Threshold() float64 { return s.threshold }

// Score returns the item's relevance score in [0, 1] and the detected
// category, or ("", 0) when nothing matched.
func (s *Scorer) Score(title, description string) (float64, string) {
	lowTitle := strings.ToLower(title)
	lowBody := lowTitle + " " + strings.ToLower(description)

	var bestScore float64
	var bestCategory string
	for _, category := range categoryOrder {
		matches := 0
		inTitle := false
		for _, kw := range categoryKeywords[category] {
			if strings.Contains(lowBody, kw) {
				matches++
				if strings.Contains(lowTitle, kw) {
					inTitle = true
				}
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches) * perMatchWeight
		if score > 1.0 {
			score = 1.0
		}
		if inTitle {
			score += titleBoost
		}
		if score > 1.0 {
			score = 1.0
		}
		if score > bestScore {
			bestScore = score
			bestCategory = category
		}
	}
	return bestScore, bestCategory
}

// Relevant reports whether the score clears the escalation threshold.
func (s *Scorer) Relevant(score float64) bool {
	return score >= s.threshold
}

// SelectEscalations filters unprocessed items to those clearing the
// threshold, ordered by score descending (ties by item hash for
// determinism), capped at topN. Pass topN<=0 for the default cap.
func (s *Scorer) SelectEscalations(items []model.FeedItem, topN int) []model.FeedItem {
	if topN <= 0 {
		topN = DefaultTopN
	}
	var out []model.FeedItem
	for _, it := range items {
		if !it.Processed && s.Relevant(it.RelevanceScore) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].ItemHash < out[j].ItemHash
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}
