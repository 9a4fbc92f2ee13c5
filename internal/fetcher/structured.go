package fetcher

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/laborwatch/compliance-cli/internal/audit"
	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/normalize"
	"github.com/laborwatch/compliance-cli/internal/resilience"
)

// ColumnMap names the source's columns (CSV/XLSX headers or JSON keys,
// case-insensitive) for each requirement field.
type ColumnMap struct {
	Jurisdiction  string `yaml:"jurisdiction"`
	State         string `yaml:"state"`
	Level         string `yaml:"level"`
	Category      string `yaml:"category"`
	RateType      string `yaml:"rate_type"`
	Title         string `yaml:"title"`
	Value         string `yaml:"value"`
	EffectiveDate string `yaml:"effective_date"`
}

// ParseConfig is the per-source table layout, seeded from YAML.
type ParseConfig struct {
	SourceKey   string    `yaml:"source_key"`
	Columns     ColumnMap `yaml:"columns"`
	DateLayouts []string  `yaml:"date_layouts"`
	// DefaultLevel applies when the source has no level column (single-
	// jurisdiction feeds).
	DefaultLevel model.JurisdictionLevel `yaml:"default_level"`
	DefaultState string                  `yaml:"default_state"`
}

// LoadParseConfigs reads source parse configs from a YAML file.
func LoadParseConfigs(path string) (map[string]ParseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read parse configs %s", path)
	}
	var doc struct {
		Sources []ParseConfig `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse configs %s", path)
	}
	out := make(map[string]ParseConfig, len(doc.Sources))
	for _, c := range doc.Sources {
		out[c.SourceKey] = c
	}
	return out, nil
}

// valueBounds rejects parses outside a sane per-category range: a $3 or $80
// "minimum wage" is a parser error, not a law.
var valueBounds = map[string]struct{ Min, Max float64 }{
	normalize.CategoryMinimumWage:   {Min: 5, Max: 50},
	normalize.CategoryOvertime:      {Min: 5, Max: 100},
	normalize.CategoryPaidSickLeave: {Min: 0, Max: 365},
	normalize.CategoryMealBreaks:    {Min: 0, Max: 240},
}

// Effective dates implausibly far in the past or future are treated as
// parse errors.
const (
	dateSanityPast   = 10 * 365 * 24 * time.Hour
	dateSanityFuture = 2 * 365 * 24 * time.Hour
)

var defaultDateLayouts = []string{"2006-01-02", "1/2/2006", "January 2, 2006"}

// StructuredFetcher downloads and parses tier-1 sources into candidate
// requirement rows, recording breaker and audit outcomes per source.
type StructuredFetcher struct {
	http    *HTTPFetcher
	breaker *resilience.SourceBreaker
	audit   *audit.Logger
	configs map[string]ParseConfig
	nowFunc func() time.Time
}

// NewStructured wires a StructuredFetcher.
func NewStructured(httpFetcher *HTTPFetcher, breaker *resilience.SourceBreaker, auditLog *audit.Logger, configs map[string]ParseConfig) *StructuredFetcher {
	return &StructuredFetcher{
		http:    httpFetcher,
		breaker: breaker,
		audit:   auditLog,
		configs: configs,
		nowFunc: time.Now,
	}
}

// FetchSource downloads, parses, and sanity-checks one source. On any
// failure it records the breaker failure and audits FETCH_ERROR; the caller
// continues with other sources. Rows failing bounds or date sanity are
// audited and dropped without failing the fetch.
func (f *StructuredFetcher) FetchSource(ctx context.Context, src *model.StructuredSource) ([]model.Requirement, error) {
	candidates, err := f.fetchAndParse(ctx, src)
	if err != nil {
		f.breaker.RecordFailure(ctx, src)
		f.audit.FetchError(ctx, src.SourceKey, err)
		return nil, err
	}

	f.breaker.RecordSuccess(ctx, src)
	f.audit.FetchSuccess(ctx, src.SourceKey, len(candidates))
	return candidates, nil
}

func (f *StructuredFetcher) fetchAndParse(ctx context.Context, src *model.StructuredSource) ([]model.Requirement, error) {
	cfg, ok := f.configs[src.SourceKey]
	if !ok {
		return nil, eris.Errorf("fetcher: no parse config for source %s", src.SourceKey)
	}

	var data []byte
	var err error
	if strings.HasPrefix(src.URL, "ftp://") {
		data, err = FetchFTP(ctx, src.URL)
	} else {
		data, err = f.http.Get(ctx, src.URL)
	}
	if err != nil {
		return nil, err
	}

	records, err := parseRecords(src.Format, data)
	if err != nil {
		return nil, err
	}

	var out []model.Requirement
	for _, rec := range records {
		req, reject := f.buildCandidate(ctx, src, cfg, rec)
		if reject {
			continue
		}
		out = append(out, req)
	}
	if len(out) == 0 {
		return nil, eris.Errorf("fetcher: source %s produced no valid rows", src.SourceKey)
	}
	return out, nil
}

// buildCandidate maps one record to a candidate requirement, applying bounds
// and date sanity. reject=true drops the row.
func (f *StructuredFetcher) buildCandidate(ctx context.Context, src *model.StructuredSource, cfg ParseConfig, rec record) (model.Requirement, bool) {
	col := func(name string) string {
		if name == "" {
			return ""
		}
		return rec[strings.ToLower(name)]
	}

	category := normalize.Category(col(cfg.Columns.Category))
	if category == "" {
		f.audit.BoundsRejection(ctx, src.SourceKey, "category", col(cfg.Columns.Category), "empty category")
		return model.Requirement{}, true
	}

	value := col(cfg.Columns.Value)
	req := model.Requirement{
		Jurisdiction: col(cfg.Columns.Jurisdiction),
		State:        strings.ToUpper(col(cfg.Columns.State)),
		Category:     category,
		RateType:     normalize.Category(col(cfg.Columns.RateType)),
		Title:        col(cfg.Columns.Title),
		CurrentValue: value,
		SourceKey:    src.SourceKey,
		SourceTier:   model.Tier1,
	}
	if req.State == "" {
		req.State = strings.ToUpper(cfg.DefaultState)
	}
	req.JurisdictionID = jurisdictionID(req.State, req.Jurisdiction)
	if req.Title == "" {
		req.Title = req.Jurisdiction + " " + strings.ReplaceAll(category, "_", " ")
	}

	req.Level = model.JurisdictionLevel(strings.ToLower(col(cfg.Columns.Level)))
	if req.Level == "" {
		req.Level = cfg.DefaultLevel
	}
	if req.Level.Specificity() == 0 {
		f.audit.BoundsRejection(ctx, src.SourceKey, "level", string(req.Level), "unknown jurisdiction level")
		return model.Requirement{}, true
	}

	if num, ok := normalize.NumericValue(value); ok {
		if b, bounded := valueBounds[category]; bounded && (num < b.Min || num > b.Max) {
			f.audit.BoundsRejection(ctx, src.SourceKey, "value", value, "outside category bounds")
			zap.L().Warn("bounds rejection",
				zap.String("source", src.SourceKey),
				zap.String("category", category),
				zap.String("value", value),
			)
			return model.Requirement{}, true
		}
		req.NumericValue = &num
	}

	if raw := col(cfg.Columns.EffectiveDate); raw != "" {
		parsed, ok := parseDate(raw, cfg.DateLayouts)
		if !ok {
			f.audit.BoundsRejection(ctx, src.SourceKey, "effective_date", raw, "unparseable date")
			return model.Requirement{}, true
		}
		now := f.nowFunc()
		if parsed.Before(now.Add(-dateSanityPast)) || parsed.After(now.Add(dateSanityFuture)) {
			f.audit.BoundsRejection(ctx, src.SourceKey, "effective_date", raw, "implausible date")
			return model.Requirement{}, true
		}
		req.EffectiveDate = &parsed
	}

	return req, false
}

func parseDate(raw string, layouts []string) (time.Time, bool) {
	if len(layouts) == 0 {
		layouts = defaultDateLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// jurisdictionID builds the stable natural identifier for a jurisdiction.
func jurisdictionID(state, jurisdiction string) string {
	return model.JurisdictionID(state, jurisdiction)
}
