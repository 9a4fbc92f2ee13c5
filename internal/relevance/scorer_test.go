package relevance

import (
	"testing"

	"github.com/laborwatch/compliance-cli/internal/model"
)

func TestScoreKeywordMatches(t *testing.T) {
	s := NewScorer(0)

	score, category := s.Score(
		"SB 525 minimum wage increase",
		"Raises the hourly wage for covered workers under the wage order.",
	)
	if category != "minimum_wage" {
		t.Fatalf("category = %q, want minimum_wage", category)
	}
	// Three keyword matches plus title boost.
	if score < 0.9 || score > 1.0 {
		t.Fatalf("score = %v, want within [0.9, 1.0]", score)
	}
	if !s.Relevant(score) {
		t.Fatal("expected score above threshold")
	}
}

func TestScoreNoMatch(t *testing.T) {
	s := NewScorer(0)
	score, category := s.Score("Resolution honoring the state bird", "A ceremonial resolution.")
	if score != 0 || category != "" {
		t.Fatalf("got (%v, %q), want (0, \"\")", score, category)
	}
}

func TestScoreCapsAtOne(t *testing.T) {
	s := NewScorer(0)
	score, _ := s.Score(
		"Minimum wage, living wage, hourly wage, tipped wage update",
		"Covers minimum wage, wage increase, wage order, subminimum rates.",
	)
	if score != 1.0 {
		t.Fatalf("score = %v, want 1.0", score)
	}
}

func TestScoreTitleBoost(t *testing.T) {
	s := NewScorer(0)
	bodyOnly, _ := s.Score("Agency bulletin 14-2025", "Updates to overtime calculation.")
	titled, _ := s.Score("Overtime rule change", "Updates to overtime calculation.")
	if titled <= bodyOnly {
		t.Fatalf("title match should boost: body=%v titled=%v", bodyOnly, titled)
	}
}

func TestScoreSingleMatchBelowThreshold(t *testing.T) {
	s := NewScorer(0)
	score, category := s.Score("Budget hearing agenda", "One mention of accrual in passing.")
	if category != "paid_sick_leave" {
		t.Fatalf("category = %q, want paid_sick_leave", category)
	}
	if s.Relevant(score) {
		t.Fatalf("score %v should be below the default threshold", score)
	}
}

func TestSelectEscalations(t *testing.T) {
	s := NewScorer(0)
	items := []model.FeedItem{
		{ItemHash: "a", RelevanceScore: 0.9},
		{ItemHash: "b", RelevanceScore: 0.2},
		{ItemHash: "c", RelevanceScore: 0.5, Processed: true},
		{ItemHash: "d", RelevanceScore: 0.5},
		{ItemHash: "e", RelevanceScore: 0.5},
	}

	got := s.SelectEscalations(items, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ItemHash != "a" {
		t.Fatalf("first = %q, want a", got[0].ItemHash)
	}
	// 0.5 tie breaks on hash; processed item c is excluded.
	if got[1].ItemHash != "d" {
		t.Fatalf("second = %q, want d", got[1].ItemHash)
	}
}
