package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// Repository stores weight versions in PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository 새 저장소 생성
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const versionColumns = `id, weights, checksum, description, is_active, metrics, created_at`

func scanVersion(row pgx.Row) (*contracts.WeightVersion, error) {
	var v contracts.WeightVersion
	var weights string
	var metricsJSON []byte

	if err := row.Scan(&v.ID, &weights, &v.Checksum, &v.Description, &v.Active, &metricsJSON, &v.CreatedAt); err != nil {
		return nil, err
	}

	w, err := DeserializeVector([]byte(weights))
	if err != nil {
		// 손상된 벡터도 반환해서 체크섬 검증에서 걸리게 함
		w = contracts.WeightVector{}
	}
	v.Weights = w

	if len(metricsJSON) > 0 {
		var pm contracts.PerformanceMetrics
		if err := json.Unmarshal(metricsJSON, &pm); err != nil {
			return nil, fmt.Errorf("decode metrics of %s: %w", v.ID, err)
		}
		v.Metrics = &pm
	}
	return &v, nil
}

// Insert writes a new inactive version
func (r *Repository) Insert(ctx context.Context, v contracts.WeightVersion) error {
	weights, err := CanonicalSerialize(v.Weights)
	if err != nil {
		return err
	}

	var metricsJSON []byte
	if v.Metrics != nil {
		if metricsJSON, err = json.Marshal(v.Metrics); err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
	}

	query := `
		INSERT INTO governance.weight_versions
			(id, weights, checksum, description, is_active, metrics, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6)`

	if _, err := r.pool.Exec(ctx, query,
		v.ID, string(weights), v.Checksum, v.Description, metricsJSON, v.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert version %s: %w", v.ID, err)
	}
	return nil
}

// Get returns the stored version
func (r *Repository) Get(ctx context.Context, id string) (*contracts.WeightVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM governance.weight_versions WHERE id = $1`

	v, err := scanVersion(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", id, err)
	}
	return v, nil
}

// List returns up to limit versions, newest first (limit<=0 → all)
func (r *Repository) List(ctx context.Context, limit int) ([]contracts.WeightVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM governance.weight_versions ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []contracts.WeightVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Delete removes a non-active version
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM governance.weight_versions WHERE id = $1 AND NOT is_active`, id)
	if err != nil {
		return fmt.Errorf("delete version %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var active bool
	err = r.pool.QueryRow(ctx, `SELECT is_active FROM governance.weight_versions WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("version %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete version %s: %w", id, err)
	}
	return fmt.Errorf("version %s: %w", id, contracts.ErrActiveVersion)
}

// SetActive flips the active flag inside one transaction.
// weight_versions_one_active 인덱스가 활성 2개를 막음
func (r *Repository) SetActive(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE governance.weight_versions SET is_active = FALSE WHERE is_active`); err != nil {
		return fmt.Errorf("deactivate current: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE governance.weight_versions SET is_active = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("version %s: %w", id, contracts.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Active returns the active version
func (r *Repository) Active(ctx context.Context) (*contracts.WeightVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM governance.weight_versions WHERE is_active`

	v, err := scanVersion(r.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active version: %w", contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}
	return v, nil
}
