package dynamic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// Repository stores committed trade outcomes in PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository 새 저장소 생성
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveOutcomes upserts outcomes in one batch
func (r *Repository) SaveOutcomes(ctx context.Context, outcomes []contracts.TradeOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	query := `
		INSERT INTO governance.trade_outcomes (code, entry_date, exit_date, return_pct, factor_scores)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code, entry_date) DO UPDATE SET
			exit_date = EXCLUDED.exit_date,
			return_pct = EXCLUDED.return_pct,
			factor_scores = EXCLUDED.factor_scores`

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		scores, err := json.Marshal(o.Scores)
		if err != nil {
			return fmt.Errorf("marshal scores of %s: %w", o.Code, err)
		}
		batch.Queue(query, o.Code, o.EntryDate, o.ExitDate, o.Return, scores)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range outcomes {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save outcome: %w", err)
		}
	}
	return nil
}

// OutcomesSince returns outcomes that exited at or after since, oldest first
func (r *Repository) OutcomesSince(ctx context.Context, since time.Time) ([]contracts.TradeOutcome, error) {
	query := `
		SELECT code, entry_date, exit_date, return_pct, factor_scores
		FROM governance.trade_outcomes
		WHERE exit_date >= $1
		ORDER BY exit_date, code`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []contracts.TradeOutcome
	for rows.Next() {
		var o contracts.TradeOutcome
		var scores []byte
		if err := rows.Scan(&o.Code, &o.EntryDate, &o.ExitDate, &o.Return, &scores); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if err := json.Unmarshal(scores, &o.Scores); err != nil {
			return nil, fmt.Errorf("decode scores of %s: %w", o.Code, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
