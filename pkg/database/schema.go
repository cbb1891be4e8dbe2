package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schemaStatements creates the governance schema.
// 모든 문장은 IF NOT EXISTS 이므로 반복 실행해도 안전함
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS governance`,

	// Weight versions (checksum protected)
	`CREATE TABLE IF NOT EXISTS governance.weight_versions (
		id          TEXT PRIMARY KEY,
		weights     TEXT NOT NULL, -- canonical serialization
		checksum    TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active   BOOLEAN NOT NULL DEFAULT FALSE,
		metrics     JSONB,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// 활성 버전은 최대 1개
	`CREATE UNIQUE INDEX IF NOT EXISTS weight_versions_one_active
		ON governance.weight_versions (is_active) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS weight_versions_created_at
		ON governance.weight_versions (created_at DESC)`,

	// Change history (ring buffer mirror)
	`CREATE TABLE IF NOT EXISTS governance.weight_changes (
		id          TEXT PRIMARY KEY,
		changed_at  TIMESTAMPTZ NOT NULL,
		previous    JSONB NOT NULL,
		next        JSONB NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		kind        TEXT NOT NULL,
		valid       BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS weight_changes_changed_at
		ON governance.weight_changes (changed_at DESC)`,

	// Singleton component state rows (regime, mapper, dynamic)
	`CREATE TABLE IF NOT EXISTS governance.component_state (
		component  TEXT PRIMARY KEY,
		state      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Committed trade outcomes with factor scores at entry
	`CREATE TABLE IF NOT EXISTS governance.trade_outcomes (
		code          TEXT NOT NULL,
		entry_date    DATE NOT NULL,
		exit_date     DATE NOT NULL,
		return_pct    DOUBLE PRECISION NOT NULL,
		factor_scores JSONB NOT NULL,
		PRIMARY KEY (code, entry_date)
	)`,
	`CREATE INDEX IF NOT EXISTS trade_outcomes_exit_date
		ON governance.trade_outcomes (exit_date)`,

	// Delayed comparison results
	`CREATE TABLE IF NOT EXISTS governance.comparisons (
		id            BIGSERIAL PRIMARY KEY,
		change_id     TEXT NOT NULL,
		previous_hit  DOUBLE PRECISION NOT NULL,
		new_hit       DOUBLE PRECISION NOT NULL,
		sample_count  INT NOT NULL,
		evaluated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the governance tables if they do not exist.
// 전체 DDL을 하나의 트랜잭션으로 적용
func (db *DB) EnsureSchema(ctx context.Context) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		for i, stmt := range schemaStatements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d failed: %w", i, err)
			}
		}
		return nil
	})
}

// SchemaStatements returns a copy of the DDL (used by `migrate --dry-run`)
func SchemaStatements() []string {
	out := make([]string, len(schemaStatements))
	copy(out, schemaStatements)
	return out
}
