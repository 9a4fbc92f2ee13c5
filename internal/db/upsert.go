package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes one bulk upsert: which table, which columns the rows
// carry, and which columns form the natural key. UpdateCols limits what a
// conflicting row overwrites; leave it nil to update every non-key column.
type UpsertConfig struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	UpdateCols   []string
}

func (cfg UpsertConfig) validate() error {
	if cfg.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateColumns() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	keys := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		keys[k] = true
	}
	cols := make([]string, 0, len(cfg.Columns))
	for _, c := range cfg.Columns {
		if !keys[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// BulkUpsert loads a batch of rows in a single transaction. Rows are staged
// into a session temp table with CopyFrom, then folded into the target via
// INSERT ... ON CONFLICT DO UPDATE. ON COMMIT DROP cleans up the staging
// table either way. Returns the number of rows the merge touched.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := stagingName(cfg.Table)

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(),
		qualifyTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into staging for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, buildMerge(cfg, staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func buildMerge(cfg UpsertConfig, staging string) string {
	cols := identList(cfg.Columns)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(qualifyTable(cfg.Table))
	b.WriteString(" (")
	b.WriteString(cols)
	b.WriteString(") SELECT ")
	b.WriteString(cols)
	b.WriteString(" FROM ")
	b.WriteString(pgx.Identifier{staging}.Sanitize())
	b.WriteString(" ON CONFLICT (")
	b.WriteString(identList(cfg.ConflictKeys))
	b.WriteString(") DO UPDATE SET ")
	for i, col := range cfg.updateColumns() {
		if i > 0 {
			b.WriteString(", ")
		}
		ident := pgx.Identifier{col}.Sanitize()
		b.WriteString(ident)
		b.WriteString(" = EXCLUDED.")
		b.WriteString(ident)
	}
	return b.String()
}

func stagingName(table string) string {
	return "_staging_" + strings.ReplaceAll(table, ".", "_")
}

// qualifyTable sanitizes plain and schema-qualified table names.
func qualifyTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
