package model

// VerificationKind tags the oracle's verdict. The zero value is
// Unparseable so a malformed response never masquerades as a finding.
type VerificationKind int

const (
	VerificationUnparseable VerificationKind = iota
	VerificationNotRelevant
	VerificationRelevant
)

func (k VerificationKind) String() string {
	switch k {
	case VerificationNotRelevant:
		return "not_relevant"
	case VerificationRelevant:
		return "relevant"
	default:
		return "unparseable"
	}
}

// Verification is the parsed oracle verdict for one feed item. Category and
// the remaining fields are meaningful only when Kind is VerificationRelevant.
type Verification struct {
	Kind          VerificationKind
	Category      string
	ChangeType    string
	Summary       string
	Confidence    float64
	EffectiveDate string
}
