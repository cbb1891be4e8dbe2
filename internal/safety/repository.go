package safety

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// Repository mirrors the change history into PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository 새 저장소 생성
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one change record and trims the table to the newest
// keep rows in the same transaction
func (r *Repository) Append(ctx context.Context, rec contracts.WeightChangeRecord, keep int) error {
	prev, err := json.Marshal(rec.Previous)
	if err != nil {
		return fmt.Errorf("marshal previous: %w", err)
	}
	next, err := json.Marshal(rec.New)
	if err != nil {
		return fmt.Errorf("marshal new: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO governance.weight_changes
			(id, changed_at, previous, next, reason, kind, valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	if _, err := tx.Exec(ctx, insert,
		rec.ID, rec.At, prev, next, rec.Reason, string(rec.Kind), rec.Valid); err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}

	// ring buffer 미러: 최신 keep건만 유지
	if keep > 0 {
		prune := `
			DELETE FROM governance.weight_changes
			WHERE id NOT IN (
				SELECT id FROM governance.weight_changes
				ORDER BY changed_at DESC, id DESC
				LIMIT $1
			)`
		if _, err := tx.Exec(ctx, prune, keep); err != nil {
			return fmt.Errorf("prune change history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first
func (r *Repository) Recent(ctx context.Context, limit int) ([]contracts.WeightChangeRecord, error) {
	query := `
		SELECT id, changed_at, previous, next, reason, kind, valid
		FROM governance.weight_changes
		ORDER BY changed_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query change history: %w", err)
	}
	defer rows.Close()

	var records []contracts.WeightChangeRecord
	for rows.Next() {
		var rec contracts.WeightChangeRecord
		var prev, next []byte
		var kind string
		if err := rows.Scan(&rec.ID, &rec.At, &prev, &next, &rec.Reason, &kind, &rec.Valid); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		if err := json.Unmarshal(prev, &rec.Previous); err != nil {
			return nil, fmt.Errorf("decode previous of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(next, &rec.New); err != nil {
			return nil, fmt.Errorf("decode new of %s: %w", rec.ID, err)
		}
		rec.Kind = contracts.ChangeKind(kind)
		records = append(records, rec)
	}

	return records, rows.Err()
}
