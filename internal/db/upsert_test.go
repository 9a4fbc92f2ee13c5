package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyBatchIsNoop(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "requirements",
		Columns:      []string{"id", "current_value"},
		ConflictKeys: []string{"id"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertConfigValidate(t *testing.T) {
	base := UpsertConfig{
		Table:        "requirements",
		Columns:      []string{"id", "current_value"},
		ConflictKeys: []string{"id"},
	}
	require.NoError(t, base.validate())

	noTable := base
	noTable.Table = ""
	assert.ErrorContains(t, noTable.validate(), "no table")

	noCols := base
	noCols.Columns = nil
	assert.ErrorContains(t, noCols.validate(), "no columns")

	noKeys := base
	noKeys.ConflictKeys = nil
	assert.ErrorContains(t, noKeys.validate(), "no conflict keys")
}

func TestUpdateColumnsDefaultsToNonKeyColumns(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "requirements",
		Columns:      []string{"jurisdiction_id", "category", "current_value", "updated_at"},
		ConflictKeys: []string{"jurisdiction_id", "category"},
	}
	assert.Equal(t, []string{"current_value", "updated_at"}, cfg.updateColumns())

	cfg.UpdateCols = []string{"current_value"}
	assert.Equal(t, []string{"current_value"}, cfg.updateColumns())
}

func TestBuildMerge(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "requirements",
		Columns:      []string{"jurisdiction_id", "category", "current_value"},
		ConflictKeys: []string{"jurisdiction_id", "category"},
	}
	got := buildMerge(cfg, stagingName(cfg.Table))
	assert.Equal(t,
		`INSERT INTO "requirements" ("jurisdiction_id", "category", "current_value")`+
			` SELECT "jurisdiction_id", "category", "current_value" FROM "_staging_requirements"`+
			` ON CONFLICT ("jurisdiction_id", "category") DO UPDATE SET "current_value" = EXCLUDED."current_value"`,
		got)
}

func TestQualifyTable(t *testing.T) {
	assert.Equal(t, `"requirements"`, qualifyTable("requirements"))
	assert.Equal(t, `"labor"."requirements"`, qualifyTable("labor.requirements"))
}
