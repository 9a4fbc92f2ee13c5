package resolver

import (
	"testing"

	"github.com/laborwatch/compliance-cli/internal/model"
)

func fp(v float64) *float64 { return &v }

func req(id, jurisdiction string, level model.JurisdictionLevel, category, rateType, title string, numeric *float64) model.Requirement {
	return model.Requirement{
		ID:             id,
		JurisdictionID: id + "-j",
		Jurisdiction:   jurisdiction,
		State:          "CA",
		Level:          level,
		Category:       category,
		RateType:       rateType,
		Title:          title,
		NumericValue:   numeric,
	}
}

func TestResolve_PreemptionDiscardsLocalRows(t *testing.T) {
	r := New([]model.PreemptionRule{
		{State: "CA", Category: "paid_sick_leave", AllowsLocalOverride: false},
	})

	out := r.Resolve([]model.Requirement{
		req("state", "California", model.LevelState, "paid_sick_leave", "", "Paid Sick Leave", fp(5)),
		req("city", "Oakland", model.LevelCity, "paid_sick_leave", "", "Oakland Paid Sick Leave", fp(9)),
		req("county", "Alameda", model.LevelCounty, "paid_sick_leave", "", "Alameda County Paid Sick Leave", fp(7)),
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(out))
	}
	if out[0].Winner.ID != "state" {
		t.Errorf("expected state row to win under preemption, got %q", out[0].Winner.ID)
	}
	if len(out[0].Suppressed) != 2 {
		t.Fatalf("expected 2 suppressed, got %d", len(out[0].Suppressed))
	}
	for _, s := range out[0].Suppressed {
		if s.Reason != ReasonStatePreemption {
			t.Errorf("expected %s, got %s", ReasonStatePreemption, s.Reason)
		}
	}
}

func TestResolve_MinimumWageHighestValueWins(t *testing.T) {
	r := New([]model.PreemptionRule{
		{State: "CA", Category: "minimum_wage", AllowsLocalOverride: true},
	})

	// City rate below the state floor is invalid and must not win, even
	// though it is more local.
	out := r.Resolve([]model.Requirement{
		req("state", "California", model.LevelState, "minimum_wage", "", "Minimum Wage", fp(20.00)),
		req("city", "Smallville", model.LevelCity, "minimum_wage", "", "Smallville Minimum Wage", fp(16.82)),
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(out))
	}
	if out[0].Winner.ID != "state" {
		t.Errorf("expected higher state value to win, got %q", out[0].Winner.ID)
	}
	if got := out[0].Suppressed[0].Reason; got != ReasonLowerValue {
		t.Errorf("expected %s, got %s", ReasonLowerValue, got)
	}
}

func TestResolve_NonWageLocalGovernsWithoutDemotingState(t *testing.T) {
	r := New(nil)

	out := r.Resolve([]model.Requirement{
		req("state", "California", model.LevelState, "meal_breaks", "", "Meal Breaks", nil),
		req("city", "Berkeley", model.LevelCity, "meal_breaks", "", "Berkeley Meal Breaks", nil),
	})

	// The city rule governs Berkeley; the state rule keeps governing the
	// rest of the state rather than being suppressed.
	if len(out) != 2 {
		t.Fatalf("expected state and city resolutions, got %d", len(out))
	}
	if out[0].Winner.ID != "state" {
		t.Errorf("expected state row to keep its own family, got %q", out[0].Winner.ID)
	}
	if out[1].Winner.ID != "city" {
		t.Errorf("expected city row to govern its family, got %q", out[1].Winner.ID)
	}
	for _, res := range out {
		if len(res.Suppressed) != 0 {
			t.Errorf("expected no suppressions for %s, got %d", res.Winner.ID, len(res.Suppressed))
		}
		if !res.Winner.Governing {
			t.Errorf("winner %s not marked governing", res.Winner.ID)
		}
	}
}

func TestResolve_RateTypeVariantsBothSurvive(t *testing.T) {
	r := New(nil)

	out := r.Resolve([]model.Requirement{
		req("general", "California", model.LevelState, "minimum_wage", "general", "Minimum Wage", fp(16.50)),
		req("tipped", "California", model.LevelState, "minimum_wage", "tipped", "Tipped Minimum Wage", fp(12.00)),
	})

	if len(out) != 2 {
		t.Fatalf("expected 2 governing requirements (general + tipped), got %d", len(out))
	}
	for _, res := range out {
		if !res.Winner.Governing {
			t.Errorf("winner for %s not marked governing", res.Key)
		}
	}
}

func TestResolve_TitleBoilerplateDeduplicates(t *testing.T) {
	r := New(nil)

	a := req("a", "West Hollywood", model.LevelCity, "minimum_wage", "", "City of West Hollywood Minimum Wage", fp(19.08))
	b := req("b", "West Hollywood", model.LevelCity, "minimum_wage", "", "West Hollywood Minimum Wage", fp(19.08))
	b.JurisdictionID = a.JurisdictionID

	out := r.Resolve([]model.Requirement{a, b})

	if len(out) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(out))
	}
	if out[0].Winner.ID != "a" {
		t.Errorf("expected first-seen row to win, got %q", out[0].Winner.ID)
	}
	found := false
	for _, s := range out[0].Suppressed {
		if s.Candidate.ID == "b" && s.Reason == ReasonDuplicateTitle {
			found = true
		}
	}
	if !found {
		t.Error("expected duplicate-title suppression for row b")
	}
}

func TestResolve_SiblingCitiesEachGovern(t *testing.T) {
	r := New([]model.PreemptionRule{
		{State: "CA", Category: "minimum_wage", AllowsLocalOverride: true},
	})

	// Sibling cities are separate families: one city's higher rate must not
	// suppress another city's valid rate.
	out := r.Resolve([]model.Requirement{
		req("state", "California", model.LevelState, "minimum_wage", "", "Minimum Wage", fp(16.50)),
		req("sf", "San Francisco", model.LevelCity, "minimum_wage", "", "San Francisco Minimum Wage", fp(18.07)),
		req("weho", "West Hollywood", model.LevelCity, "minimum_wage", "", "West Hollywood Minimum Wage", fp(19.08)),
	})

	if len(out) != 3 {
		t.Fatalf("expected 3 governing requirements, got %d", len(out))
	}
	winners := make(map[string]bool)
	for _, res := range out {
		winners[res.Winner.ID] = true
		if !res.Winner.Governing {
			t.Errorf("winner %s not marked governing", res.Winner.ID)
		}
		if len(res.Suppressed) != 0 {
			t.Errorf("expected no suppressions for %s, got %d", res.Winner.ID, len(res.Suppressed))
		}
	}
	for _, id := range []string{"state", "sf", "weho"} {
		if !winners[id] {
			t.Errorf("expected %s to govern its family", id)
		}
	}
}

func TestResolve_SameFamilyTieKeepsFirstSeen(t *testing.T) {
	r := New(nil)

	a := req("first", "Pasadena", model.LevelCity, "minimum_wage", "", "Pasadena Minimum Wage", fp(17.50))
	b := req("second", "Pasadena", model.LevelCity, "minimum_wage", "", "Pasadena Living Wage", fp(17.50))
	b.JurisdictionID = a.JurisdictionID

	out := r.Resolve([]model.Requirement{a, b})

	if len(out) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(out))
	}
	if out[0].Winner.ID != "first" {
		t.Errorf("tie must keep first seen, got %q", out[0].Winner.ID)
	}
	if got := out[0].Suppressed[0].Reason; got != ReasonLowerValue {
		t.Errorf("expected %s, got %s", ReasonLowerValue, got)
	}
}

func TestResolve_PreemptedFamilyWithoutStateRow(t *testing.T) {
	r := New([]model.PreemptionRule{
		{State: "CA", Category: "paid_sick_leave", AllowsLocalOverride: false},
	})

	out := r.Resolve([]model.Requirement{
		req("city", "Oakland", model.LevelCity, "paid_sick_leave", "", "Oakland Paid Sick Leave", fp(9)),
	})

	if len(out) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(out))
	}
	if out[0].Winner.JurisdictionID != "" {
		t.Errorf("expected no winner for preempted family, got %q", out[0].Winner.JurisdictionID)
	}
	if got := out[0].Suppressed[0].Reason; got != ReasonStatePreemption {
		t.Errorf("expected %s, got %s", ReasonStatePreemption, got)
	}
}

func TestResolve_NoRuleDefaultsToOverrideAllowed(t *testing.T) {
	r := New(nil)

	out := r.Resolve([]model.Requirement{
		req("state", "California", model.LevelState, "overtime", "", "Overtime", nil),
		req("city", "Fresno", model.LevelCity, "overtime", "", "Fresno Overtime", nil),
	})

	if len(out) != 2 {
		t.Fatalf("expected state and city resolutions, got %d", len(out))
	}
	if out[1].Winner.ID != "city" {
		t.Errorf("absent a preemption rule local law stands, got %q", out[1].Winner.ID)
	}
}
