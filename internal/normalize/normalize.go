// Package normalize canonicalizes category names, rate-type variants, and
// requirement values so equivalent facts compare equal regardless of wording.
package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Canonical category keys used across the engine.
const (
	CategoryMinimumWage   = "minimum_wage"
	CategoryOvertime      = "overtime"
	CategoryPaidSickLeave = "paid_sick_leave"
	CategoryPayFrequency  = "pay_frequency"
	CategoryMealBreaks    = "meal_breaks"
)

// multiVariant lists categories where several rate-type variants legitimately
// coexist (general vs tipped vs hotel minimum wage). For every other
// category, rate_type is ignored when building the requirement key.
var multiVariant = map[string]bool{
	CategoryMinimumWage: true,
}

// wageCategories gets the "/hr" unit fold and the paraphrase-suppression
// rule in the change detector.
var wageCategories = map[string]bool{
	CategoryMinimumWage: true,
}

var (
	separatorRe = regexp.MustCompile(`[\s\-]+`)
	ordinalRe   = regexp.MustCompile(`\b(\d+)(st|nd|rd|th)\b`)
	numberRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	commaNumRe  = regexp.MustCompile(`(\d),(\d)`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// hourlyUnits are folded to "/hr" for wage categories, longest first so
// "per hour" wins over "hour".
var hourlyUnits = []string{" per hour", " an hour", "/hour", " hourly", "/hr."}

// frequencySynonyms folds pay-frequency wording onto one canonical token.
var frequencySynonyms = map[string]string{
	"semi-monthly":    "semimonthly",
	"twice a month":   "semimonthly",
	"twice per month": "semimonthly",
	"bi-weekly":       "biweekly",
	"every two weeks": "biweekly",
	"every 2 weeks":   "biweekly",
	"once a month":    "monthly",
	"once a week":     "weekly",
}

// Category canonicalizes a raw category name: lowercased, hyphens and runs
// of whitespace mapped to a single underscore, trimmed. Empty input stays
// empty rather than erroring; callers treat "" as no category.
func Category(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return ""
	}
	return separatorRe.ReplaceAllString(s, "_")
}

// IsWageCategory reports whether the canonical category carries wage
// semantics (unit folding, paraphrase suppression, decrease review).
func IsWageCategory(category string) bool {
	return wageCategories[Category(category)]
}

// ValueText reduces a requirement value to a comparable string. Currency
// symbols are stripped, hourly units fold to "/hr" inside wage categories,
// pay-frequency synonyms collapse, ordinal suffixes drop, and "A or B"
// disjunctions are sorted so ordering never causes a false mismatch.
// Trailing zero decimals survive: $15 and $15.00 stay distinct because wage
// precision is load-bearing.
func ValueText(value, category string) string {
	s := strings.TrimSpace(strings.ToLower(value))
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "usd ", "")

	for phrase, canonical := range frequencySynonyms {
		s = strings.ReplaceAll(s, phrase, canonical)
	}

	if IsWageCategory(category) {
		for _, unit := range hourlyUnits {
			s = strings.ReplaceAll(s, unit, "/hr")
		}
	}

	s = ordinalRe.ReplaceAllString(s, "$1")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	// Sort disjunctions so "biweekly or semimonthly" and the reverse
	// normalize identically.
	if strings.Contains(s, " or ") {
		parts := strings.Split(s, " or ")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		sort.Strings(parts)
		s = strings.Join(parts, " or ")
	}

	return s
}

// NumericValue extracts the first numeric token from text. Comma thousands
// separators are tolerated. The second return is false when no digits exist.
func NumericValue(text string) (float64, bool) {
	s := commaNumRe.ReplaceAllString(text, "$1$2")
	match := numberRe.FindString(s)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// RequirementKey builds the resolution grouping key. Rate type participates
// only for multi-variant categories; everything else keys on category alone
// so stray rate-type labels from different feeds don't split a group.
func RequirementKey(category, rateType string) string {
	cat := Category(category)
	if multiVariant[cat] {
		if rt := Category(rateType); rt != "" {
			return cat + ":" + rt
		}
	}
	return cat + ":" + cat
}

// StripJurisdictionBoilerplate removes jurisdiction-name prefixes from a
// requirement title so "City of West Hollywood Minimum Wage", "West
// Hollywood Minimum Wage", and "Minimum Wage" all compare as one rule.
func StripJurisdictionBoilerplate(title, jurisdiction string) string {
	t := spaceRe.ReplaceAllString(strings.TrimSpace(strings.ToLower(title)), " ")
	j := strings.TrimSpace(strings.ToLower(jurisdiction))
	if t == "" || j == "" {
		return t
	}

	for _, prefix := range []string{
		"city of " + j + " ",
		"county of " + j + " ",
		j + " county ",
		j + " ",
	} {
		if strings.HasPrefix(t, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(t, prefix))
		}
	}
	return t
}
