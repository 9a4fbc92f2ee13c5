package verifier

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/laborwatch/compliance-cli/internal/model"
)

type fakeAPI struct {
	text string
	err  error
}

func (f *fakeAPI) CreateMessage(_ context.Context, _ MessageRequest) (*MessageResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &MessageResponse{Text: f.text}, nil
}

func TestParseVerdict_Relevant(t *testing.T) {
	raw := `{"is_relevant": true, "category": "minimum_wage", "change_type": "increase",
	 "summary": "Raises the city minimum wage to $18.50.", "confidence": 0.9, "effective_date": "2026-07-01"}`

	v := ParseVerdict(raw)
	assert.Equal(t, model.VerificationRelevant, v.Kind)
	assert.Equal(t, "minimum_wage", v.Category)
	assert.Equal(t, "increase", v.ChangeType)
	assert.InDelta(t, 0.9, v.Confidence, 0.001)
	assert.Equal(t, "2026-07-01", v.EffectiveDate)
}

func TestParseVerdict_NotRelevant(t *testing.T) {
	v := ParseVerdict(`{"is_relevant": false}`)
	assert.Equal(t, model.VerificationNotRelevant, v.Kind)
}

func TestParseVerdict_ProseWrapped(t *testing.T) {
	raw := "Here is my analysis:\n```json\n" +
		`{"is_relevant": true, "category": "overtime", "confidence": 0.7}` +
		"\n```\nLet me know if you need more."
	v := ParseVerdict(raw)
	assert.Equal(t, model.VerificationRelevant, v.Kind)
	assert.Equal(t, "overtime", v.Category)
}

func TestParseVerdict_Unparseable(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no json", "I cannot determine relevance from this item."},
		{"truncated", `{"is_relevant": true, "category":`},
		{"not an object", `[1, 2, 3]`},
		{"relevant without category", `{"is_relevant": true, "confidence": 0.8}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ParseVerdict(tc.raw)
			assert.Equal(t, model.VerificationUnparseable, v.Kind)
		})
	}
}

func TestAnalyze_APIFailureIsNoSignal(t *testing.T) {
	v := New(&fakeAPI{err: eris.New("timeout")})
	got := v.Analyze(context.Background(), "SB 525 raises wages", "ca:state")
	assert.Equal(t, model.VerificationUnparseable, got.Kind)
}

func TestAnalyze_RoundTrip(t *testing.T) {
	v := New(&fakeAPI{text: `{"is_relevant": true, "category": "paid_sick_leave", "confidence": 0.85}`})
	got := v.Analyze(context.Background(), "New accrual caps enacted", "wa:state")
	assert.Equal(t, model.VerificationRelevant, got.Kind)
	assert.Equal(t, "paid_sick_leave", got.Category)
}
