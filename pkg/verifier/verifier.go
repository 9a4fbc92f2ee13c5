package verifier

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/laborwatch/compliance-cli/internal/model"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 1024
)

const systemPrompt = `You are a labor-law compliance analyst. Given a legislative news item, decide whether it describes an enacted or imminent change to an employer-facing labor requirement (minimum wage, overtime, paid sick leave, pay frequency, meal breaks) in the named jurisdiction. Respond with a single JSON object and nothing else:
{"is_relevant": bool, "category": string, "change_type": string, "summary": string, "confidence": number, "effective_date": "YYYY-MM-DD" or ""}`

// Verifier is the AI verification oracle.
type Verifier struct {
	api       MessagesAPI
	model     string
	maxTokens int64
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithModel overrides the default model.
func WithModel(m string) Option {
	return func(v *Verifier) { v.model = m }
}

// New creates a Verifier over the given API.
func New(api MessagesAPI, opts ...Option) *Verifier {
	v := &Verifier{api: api, model: defaultModel, maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Analyze asks the oracle whether the item describes a relevant labor-law
// change. It never returns an error: timeouts, API failures, and malformed
// responses all come back as Kind Unparseable, which callers treat as no
// signal.
func (v *Verifier) Analyze(ctx context.Context, itemText, jurisdiction string) model.Verification {
	prompt := "Jurisdiction: " + jurisdiction + "\n\nItem:\n" + itemText

	resp, err := v.api.CreateMessage(ctx, MessageRequest{
		Model:     v.model,
		MaxTokens: v.maxTokens,
		System:    systemPrompt,
		Prompt:    prompt,
	})
	if err != nil {
		zap.L().Warn("verifier: api call failed", zap.String("jurisdiction", jurisdiction), zap.Error(err))
		return model.Verification{Kind: model.VerificationUnparseable}
	}
	resp.Usage.LogCost(v.model)

	return ParseVerdict(resp.Text)
}

// verdictJSON mirrors the oracle's response contract.
type verdictJSON struct {
	IsRelevant    bool    `json:"is_relevant"`
	Category      string  `json:"category"`
	ChangeType    string  `json:"change_type"`
	Summary       string  `json:"summary"`
	Confidence    float64 `json:"confidence"`
	EffectiveDate string  `json:"effective_date"`
}

// ParseVerdict parses the oracle's raw text into a tagged verification. Any
// response that is not a well-formed verdict object is Unparseable; branching
// on raw JSON stops here.
func ParseVerdict(raw string) model.Verification {
	obj := extractJSONObject(raw)
	if obj == "" {
		return model.Verification{Kind: model.VerificationUnparseable}
	}

	var v verdictJSON
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return model.Verification{Kind: model.VerificationUnparseable}
	}

	if !v.IsRelevant {
		return model.Verification{Kind: model.VerificationNotRelevant}
	}
	if v.Category == "" {
		// Relevant without a category is unusable for resolution.
		return model.Verification{Kind: model.VerificationUnparseable}
	}
	return model.Verification{
		Kind:          model.VerificationRelevant,
		Category:      v.Category,
		ChangeType:    v.ChangeType,
		Summary:       v.Summary,
		Confidence:    v.Confidence,
		EffectiveDate: v.EffectiveDate,
	}
}

// extractJSONObject returns the first balanced top-level JSON object in raw,
// tolerating prose or code fences around it.
func extractJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}
	return ""
}
