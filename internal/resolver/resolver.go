// Package resolver selects the single governing requirement per
// (jurisdiction-family, category, rate-type) from competing candidate rows,
// applying state preemption and geographic-priority rules.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/normalize"
)

// Suppression reasons recorded for the audit trail.
const (
	ReasonStatePreemption = "state_preemption"
	ReasonLowerValue      = "lower_value"
	ReasonLessSpecific    = "less_specific"
	ReasonDuplicateTitle  = "duplicate_title"
)

// Suppressed pairs a losing candidate with why it lost.
type Suppressed struct {
	Candidate model.Requirement
	Reason    string
}

// Resolution is one family's outcome for one requirement key: the governing
// winner plus every candidate it displaced. A preempted family with no
// state-level row yields a zero-value Winner.
type Resolution struct {
	Key        string
	Winner     model.Requirement
	Suppressed []Suppressed
}

// Resolver applies preemption rules to candidate sets. Rules are read-only;
// construct a new Resolver when they change.
type Resolver struct {
	rules map[string]model.PreemptionRule
}

// New builds a Resolver from the seeded preemption rule table.
func New(rules []model.PreemptionRule) *Resolver {
	m := make(map[string]model.PreemptionRule, len(rules))
	for _, r := range rules {
		m[ruleKey(r.State, r.Category)] = r
	}
	return &Resolver{rules: m}
}

func ruleKey(state, category string) string {
	return strings.ToUpper(state) + "|" + normalize.Category(category)
}

// localOverrideAllowed defaults to true when no rule is seeded: absent an
// explicit preemption statute, local law stands.
func (r *Resolver) localOverrideAllowed(state, category string) bool {
	rule, ok := r.rules[ruleKey(state, category)]
	if !ok {
		return true
	}
	return rule.AllowsLocalOverride
}

// Resolve reduces candidates to one governing requirement per
// (jurisdiction family, requirement key). A family is one local
// jurisdiction plus the state-level row; the state row participates in
// every family without being demoted when a local rule overrides it, and
// sibling jurisdictions never compete with each other. Candidate order is
// preserved through every phase so ties always fall to the first row seen,
// keeping outcomes deterministic across runs.
func (r *Resolver) Resolve(candidates []model.Requirement) []Resolution {
	var order []string
	groups := make(map[string][]model.Requirement)
	var dupes []Suppressed

	seenTitles := make(map[string]bool)
	for _, c := range candidates {
		key := normalize.RequirementKey(c.Category, c.RateType)

		// Same underlying rule syndicated by multiple feeds: the stripped
		// title plus level and key identifies it regardless of
		// jurisdiction-name boilerplate.
		titleKey := fmt.Sprintf("%s|%s|%s|%s", key, c.JurisdictionID, c.Level,
			normalize.StripJurisdictionBoilerplate(c.Title, c.Jurisdiction))
		if seenTitles[titleKey] {
			dupes = append(dupes, Suppressed{Candidate: c, Reason: ReasonDuplicateTitle})
			continue
		}
		seenTitles[titleKey] = true

		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	sort.Strings(order)

	var out []Resolution
	for _, key := range order {
		resolutions := r.resolveKey(key, groups[key])
		for _, d := range dupes {
			if normalize.RequirementKey(d.Candidate.Category, d.Candidate.RateType) != key {
				continue
			}
			attached := false
			for i := range resolutions {
				if resolutions[i].Winner.JurisdictionID == d.Candidate.JurisdictionID {
					resolutions[i].Suppressed = append(resolutions[i].Suppressed, d)
					attached = true
					break
				}
			}
			if !attached && len(resolutions) > 0 {
				resolutions[0].Suppressed = append(resolutions[0].Suppressed, d)
			}
		}
		out = append(out, resolutions...)
	}
	return out
}

// ranked keeps a candidate's position in the input so cross-family ties
// still fall to the first row seen.
type ranked struct {
	pos int
	row model.Requirement
}

func (r *Resolver) resolveKey(key string, rows []model.Requirement) []Resolution {
	category := normalize.Category(rows[0].Category)

	var stateRows []ranked
	var famOrder []string
	families := make(map[string][]ranked)
	for i, c := range rows {
		if c.Level == model.LevelState {
			stateRows = append(stateRows, ranked{i, c})
			continue
		}
		if _, ok := families[c.JurisdictionID]; !ok {
			famOrder = append(famOrder, c.JurisdictionID)
		}
		families[c.JurisdictionID] = append(families[c.JurisdictionID], ranked{i, c})
	}

	var out []Resolution
	stateIdx := -1
	var stateWin ranked
	if len(stateRows) > 0 {
		win, reason := pickWinner(stateRows, category)
		res := Resolution{Key: key}
		for i, c := range stateRows {
			if i != win {
				res.Suppressed = append(res.Suppressed, Suppressed{Candidate: c.row, Reason: reason})
			}
		}
		stateWin = stateRows[win]
		w := stateWin.row
		w.Governing = true
		res.Winner = w
		out = append(out, res)
		stateIdx = 0
	}

	for _, id := range famOrder {
		locals := families[id]

		// Exclusive state law: the family's local rows are out regardless
		// of specificity or value.
		if !r.localOverrideAllowed(locals[0].row.State, category) {
			sup := make([]Suppressed, 0, len(locals))
			for _, c := range locals {
				sup = append(sup, Suppressed{Candidate: c.row, Reason: ReasonStatePreemption})
			}
			if stateIdx >= 0 {
				out[stateIdx].Suppressed = append(out[stateIdx].Suppressed, sup...)
			} else {
				// Preempted family with no state row: nothing governs.
				// Keep the suppressions so the audit trail explains the
				// empty outcome.
				out = append(out, Resolution{Key: key, Suppressed: sup})
			}
			continue
		}

		win, reason := pickWinner(locals, category)

		// A local wage below the state floor is invalid: the family folds
		// into the state resolution and its rows lose on value.
		if stateIdx >= 0 && beneficialValueWins(category) {
			lw := locals[win]
			if numeric(stateWin.row) > numeric(lw.row) ||
				(numeric(stateWin.row) == numeric(lw.row) && stateWin.pos < lw.pos) {
				for _, c := range locals {
					out[stateIdx].Suppressed = append(out[stateIdx].Suppressed, Suppressed{Candidate: c.row, Reason: ReasonLowerValue})
				}
				continue
			}
		}

		res := Resolution{Key: key}
		for i, c := range locals {
			if i != win {
				res.Suppressed = append(res.Suppressed, Suppressed{Candidate: c.row, Reason: reason})
			}
		}
		w := locals[win].row
		w.Governing = true
		res.Winner = w
		out = append(out, res)
	}
	return out
}

// pickWinner applies the category policy within one family. Strict >
// comparisons keep the first-seen candidate on ties.
func pickWinner(cands []ranked, category string) (int, string) {
	win := 0
	reason := ReasonLessSpecific
	if beneficialValueWins(category) {
		reason = ReasonLowerValue
		for i := 1; i < len(cands); i++ {
			if numeric(cands[i].row) > numeric(cands[win].row) {
				win = i
			}
		}
		return win, reason
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].row.Level.Specificity() > cands[win].row.Level.Specificity() {
			win = i
		}
	}
	return win, reason
}

// beneficialValueWins holds the category-specific policy: minimum wage picks
// the highest (most employee-beneficial) value because a city rate below the
// state floor is invalid. Other numeric benefit categories deliberately stay
// on specificity until the policy is confirmed per category.
func beneficialValueWins(category string) bool {
	return category == normalize.CategoryMinimumWage
}

func numeric(r model.Requirement) float64 {
	if r.NumericValue == nil {
		return -1
	}
	return *r.NumericValue
}
