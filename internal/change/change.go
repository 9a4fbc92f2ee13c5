// Package change classifies the difference between a newly resolved
// requirement value and the last known one as material, cosmetic, or in need
// of human review.
package change

import (
	"math"

	"github.com/laborwatch/compliance-cli/internal/normalize"
)

// Class is the change-detection verdict.
type Class int

const (
	// None means the values are equal after normalization.
	None Class = iota
	// Cosmetic means wording shifted but meaning did not; no alert.
	Cosmetic
	// Material means the requirement genuinely changed.
	Material
	// VerificationPending means the change is suspicious (a wage decrease
	// beyond tolerance) and must be human-reviewed, never auto-published.
	VerificationPending
)

func (c Class) String() string {
	switch c {
	case None:
		return "none"
	case Cosmetic:
		return "cosmetic"
	case Material:
		return "material"
	case VerificationPending:
		return "verification_pending"
	default:
		return "unknown"
	}
}

// numericThresholds absorb re-fetch jitter per category. Wage rounding noise
// sits below half a cent; day-count fields get a wider band.
var numericThresholds = map[string]float64{
	normalize.CategoryMinimumWage:   0.005,
	normalize.CategoryOvertime:      0.005,
	normalize.CategoryPaidSickLeave: 0.5,
	normalize.CategoryMealBreaks:    0.5,
}

const defaultThreshold = 0.005

// NumericThreshold returns the materiality threshold for a category.
func NumericThreshold(category string) float64 {
	if t, ok := numericThresholds[normalize.Category(category)]; ok {
		return t
	}
	return defaultThreshold
}

// IsMaterialNumeric reports whether |old-new| exceeds the category threshold.
func IsMaterialNumeric(oldVal, newVal float64, category string) bool {
	return math.Abs(oldVal-newVal) > NumericThreshold(category)
}

// IsMaterialText compares values that carry no reliable numeric token. Wage
// categories suppress differences whose normalized forms match, so an AI
// paraphrase pass rewording an unchanged fact never alerts. Non-wage
// categories treat any normalized difference as material: "30 minutes
// unpaid" vs "30 minutes paid" changes meaning without changing a number.
func IsMaterialText(oldText, newText, category string) bool {
	oldNorm := normalize.ValueText(oldText, category)
	newNorm := normalize.ValueText(newText, category)
	return oldNorm != newNorm
}

// Classify runs the full decision for a category's old and new value text.
func Classify(oldText, newText, category string) Class {
	if oldText == newText {
		return None
	}

	oldNum, oldOK := normalize.NumericValue(oldText)
	newNum, newOK := normalize.NumericValue(newText)

	if oldOK && newOK {
		if IsMaterialNumeric(oldNum, newNum, category) {
			// A wage drop beyond rounding tolerance is legally unusual
			// and far more often a parser error than a real change.
			if normalize.IsWageCategory(category) && newNum < oldNum {
				return VerificationPending
			}
			return Material
		}
		// Numbers agree within tolerance; wording decides.
		if IsMaterialText(oldText, newText, category) && !normalize.IsWageCategory(category) {
			return Material
		}
		return Cosmetic
	}

	if IsMaterialText(oldText, newText, category) {
		return Material
	}
	return Cosmetic
}
