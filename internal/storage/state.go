package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// Component keys of the singleton state rows
const (
	stateRegime  = "regime"
	stateMapper  = "mapper"
	stateDynamic = "dynamic"
)

// StateRepository persists the small singleton component states
// (regime detector, strategy mapper, dynamic calculator) and the delayed
// comparison results in PostgreSQL.
type StateRepository struct {
	pool *pgxpool.Pool
}

// NewStateRepository 새 상태 저장소 생성
func NewStateRepository(pool *pgxpool.Pool) *StateRepository {
	return &StateRepository{pool: pool}
}

func (r *StateRepository) save(ctx context.Context, component string, state interface{}) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s state: %w", component, err)
	}

	query := `
		INSERT INTO governance.component_state (component, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (component) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.pool.Exec(ctx, query, component, data); err != nil {
		return fmt.Errorf("save %s state: %w", component, err)
	}
	return nil
}

func (r *StateRepository) load(ctx context.Context, component string, dest interface{}) error {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT state FROM governance.component_state WHERE component = $1`, component,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s state: %w", component, contracts.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load %s state: %w", component, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s state: %w", component, err)
	}
	return nil
}

// SaveRegimeState upserts the classifier state
func (r *StateRepository) SaveRegimeState(ctx context.Context, s contracts.RegimeState) error {
	return r.save(ctx, stateRegime, s)
}

// LoadRegimeState returns ErrNotFound before the first detection
func (r *StateRepository) LoadRegimeState(ctx context.Context) (*contracts.RegimeState, error) {
	var s contracts.RegimeState
	if err := r.load(ctx, stateRegime, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveMapperState upserts the strategy mapper state
func (r *StateRepository) SaveMapperState(ctx context.Context, s contracts.MapperState) error {
	return r.save(ctx, stateMapper, s)
}

// LoadMapperState returns ErrNotFound before the first update
func (r *StateRepository) LoadMapperState(ctx context.Context) (*contracts.MapperState, error) {
	var s contracts.MapperState
	if err := r.load(ctx, stateMapper, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveDynamicState upserts the dynamic calculator state
func (r *StateRepository) SaveDynamicState(ctx context.Context, s contracts.DynamicState) error {
	return r.save(ctx, stateDynamic, s)
}

// LoadDynamicState returns ErrNotFound before the first update
func (r *StateRepository) LoadDynamicState(ctx context.Context) (*contracts.DynamicState, error) {
	var s contracts.DynamicState
	if err := r.load(ctx, stateDynamic, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveComparison records one delayed comparison result
func (r *StateRepository) SaveComparison(ctx context.Context, c contracts.ComparisonResult) error {
	query := `
		INSERT INTO governance.comparisons
			(change_id, previous_hit, new_hit, sample_count, evaluated_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.pool.Exec(ctx, query,
		c.ChangeID, c.PreviousHit, c.NewHit, c.SampleCount, c.EvaluatedAt,
	); err != nil {
		return fmt.Errorf("save comparison: %w", err)
	}
	return nil
}

// MemoryStateRepository is the in-process counterpart of StateRepository
type MemoryStateRepository struct {
	mu          sync.Mutex
	regime      *contracts.RegimeState
	mapper      *contracts.MapperState
	dynamic     *contracts.DynamicState
	comparisons []contracts.ComparisonResult
}

// NewMemoryStateRepository creates an empty repository
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{}
}

// SaveRegimeState stores a copy of s
func (r *MemoryStateRepository) SaveRegimeState(ctx context.Context, s contracts.RegimeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regime = &s
	return nil
}

// LoadRegimeState returns ErrNotFound before the first save
func (r *MemoryStateRepository) LoadRegimeState(ctx context.Context) (*contracts.RegimeState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.regime == nil {
		return nil, fmt.Errorf("regime state: %w", contracts.ErrNotFound)
	}
	s := *r.regime
	return &s, nil
}

// SaveMapperState stores a copy of s
func (r *MemoryStateRepository) SaveMapperState(ctx context.Context, s contracts.MapperState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Weights = s.Weights.Clone()
	s.Target = s.Target.Clone()
	r.mapper = &s
	return nil
}

// LoadMapperState returns ErrNotFound before the first save
func (r *MemoryStateRepository) LoadMapperState(ctx context.Context) (*contracts.MapperState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mapper == nil {
		return nil, fmt.Errorf("mapper state: %w", contracts.ErrNotFound)
	}
	s := *r.mapper
	s.Weights = s.Weights.Clone()
	s.Target = s.Target.Clone()
	return &s, nil
}

// SaveDynamicState stores a copy of s
func (r *MemoryStateRepository) SaveDynamicState(ctx context.Context, s contracts.DynamicState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Weights = s.Weights.Clone()
	r.dynamic = &s
	return nil
}

// LoadDynamicState returns ErrNotFound before the first save
func (r *MemoryStateRepository) LoadDynamicState(ctx context.Context) (*contracts.DynamicState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dynamic == nil {
		return nil, fmt.Errorf("dynamic state: %w", contracts.ErrNotFound)
	}
	s := *r.dynamic
	s.Weights = s.Weights.Clone()
	return &s, nil
}

// SaveComparison appends c
func (r *MemoryStateRepository) SaveComparison(ctx context.Context, c contracts.ComparisonResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comparisons = append(r.comparisons, c)
	return nil
}

// Comparisons returns the recorded comparison results
func (r *MemoryStateRepository) Comparisons() []contracts.ComparisonResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]contracts.ComparisonResult, len(r.comparisons))
	copy(out, r.comparisons)
	return out
}
