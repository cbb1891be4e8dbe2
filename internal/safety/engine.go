package safety

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/persist"
	"github.com/wonny/aegis/weightgov/pkg/config"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

const (
	// maxIterations caps the rebalance loop in Normalize
	maxIterations = 50

	// rebalanceEpsilon is the residual below which rebalancing stops
	rebalanceEpsilon = 1e-12

	// boundEpsilon absorbs float noise when checking [min, max]
	boundEpsilon = 1e-9
)

// Config holds the safety bounds
type Config struct {
	MinWeight     float64
	MaxWeight     float64
	SumTolerance  float64
	MaxChangeRate float64
	HistorySize   int
}

// DefaultConfig returns the default safety bounds
func DefaultConfig() Config {
	return Config{
		MinWeight:     0.05,
		MaxWeight:     0.40,
		SumTolerance:  0.001,
		MaxChangeRate: 0.10,
		HistorySize:   100,
	}
}

// ConfigFromBounds converts the env config bounds
func ConfigFromBounds(b config.SafetyBounds) Config {
	return Config{
		MinWeight:     b.MinWeight,
		MaxWeight:     b.MaxWeight,
		SumTolerance:  b.SumTolerance,
		MaxChangeRate: b.MaxChangeRate,
		HistorySize:   b.HistorySize,
	}
}

// Engine validates, normalizes and change-limits weight vectors and keeps
// the bounded change history.
// ⭐ SSOT: 컴포넌트 밖으로 나가는 모든 가중치 벡터는 이 엔진을 거침
type Engine struct {
	cfg     Config
	repo    contracts.ChangeHistoryRepository
	writer  *persist.Writer
	logger  *logger.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu      sync.RWMutex
	history []contracts.WeightChangeRecord // ring buffer
	head    int                            // next write position
	count   int
}

// NewEngine creates a safety engine. repo and writer may be nil
// (history then lives in memory only).
func NewEngine(cfg Config, repo contracts.ChangeHistoryRepository, writer *persist.Writer, log *logger.Logger, m *metrics.Registry) *Engine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Engine{
		cfg:     cfg,
		repo:    repo,
		writer:  writer,
		logger:  log.WithComponent("safety"),
		metrics: m,
		now:     time.Now,
		history: make([]contracts.WeightChangeRecord, cfg.HistorySize),
	}
}

// Config returns the active bounds
func (e *Engine) Config() Config {
	return e.cfg
}

// SetClock overrides the time source (tests)
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Validate checks v against the bounds. Pure.
func (e *Engine) Validate(v contracts.WeightVector) (bool, []contracts.ValidationError) {
	var errs []contracts.ValidationError

	for k := range v {
		if !contracts.IsKnownFactor(k) {
			errs = append(errs, contracts.ValidationError{Field: string(k), Message: "unknown factor"})
		}
	}

	sum := 0.0
	for _, f := range contracts.AllFactors {
		w, ok := v[f]
		switch {
		case !ok:
			errs = append(errs, contracts.ValidationError{Field: string(f), Message: "missing"})
			continue
		case math.IsNaN(w) || math.IsInf(w, 0):
			errs = append(errs, contracts.ValidationError{Field: string(f), Message: "not a finite number"})
			continue
		case w < 0:
			errs = append(errs, contracts.ValidationError{Field: string(f), Message: fmt.Sprintf("negative weight %.6f", w)})
		case w < e.cfg.MinWeight-boundEpsilon:
			errs = append(errs, contracts.ValidationError{Field: string(f), Message: fmt.Sprintf("%.6f below min %.4f", w, e.cfg.MinWeight)})
		case w > e.cfg.MaxWeight+boundEpsilon:
			errs = append(errs, contracts.ValidationError{Field: string(f), Message: fmt.Sprintf("%.6f above max %.4f", w, e.cfg.MaxWeight)})
		}
		sum += w
	}

	if math.IsNaN(sum) || math.Abs(sum-1.0) > e.cfg.SumTolerance {
		errs = append(errs, contracts.ValidationError{Field: "sum", Message: fmt.Sprintf("sum %.6f not within %.4f of 1.0", sum, e.cfg.SumTolerance)})
	}

	return len(errs) == 0, errs
}

// Normalize returns a vector that always passes Validate.
//  1. 무효값(누락, NaN, Inf, 음수)은 1/n 으로 대체
//  2. [min, max] 클램프
//  3. 경계에 걸린 키를 고정하고 나머지 키에만 비례 재분배 (최대 50회)
//  4. 잔차를 최대 가중치 키에 더함
func (e *Engine) Normalize(v contracts.WeightVector) contracts.WeightVector {
	n := float64(len(contracts.AllFactors))
	out := make(contracts.WeightVector, len(contracts.AllFactors))

	for _, f := range contracts.AllFactors {
		w, ok := v[f]
		if !ok || math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			w = 1.0 / n
		}
		out[f] = e.clamp(w)
	}

	for i := 0; i < maxIterations; i++ {
		need := 1.0 - out.Sum()
		if math.Abs(need) <= rebalanceEpsilon {
			break
		}

		// 부족하면 max에 걸린 키, 넘치면 min에 걸린 키를 고정
		pinnedSum, freeSum := 0.0, 0.0
		var free []contracts.Factor
		for _, f := range contracts.AllFactors {
			w := out[f]
			if (need > 0 && w >= e.cfg.MaxWeight) || (need < 0 && w <= e.cfg.MinWeight) {
				pinnedSum += w
				continue
			}
			free = append(free, f)
			freeSum += w
		}
		if len(free) == 0 {
			break
		}

		target := 1.0 - pinnedSum
		for _, f := range free {
			if freeSum > 0 {
				out[f] = e.clamp(out[f] * target / freeSum)
			} else {
				out[f] = e.clamp(target / float64(len(free)))
			}
		}
	}

	// 부동소수점 잔차 보정
	largest := contracts.AllFactors[0]
	for _, f := range contracts.AllFactors[1:] {
		if out[f] > out[largest] {
			largest = f
		}
	}
	out[largest] += 1.0 - out.Sum()

	if ok, errs := e.Validate(out); !ok {
		e.logger.WithField("errors", errs).Error("Normalize produced an invalid vector, using safe default")
		return e.SafeDefault()
	}
	return out
}

// ClampChanges limits each per-factor delta to ±MaxChangeRate.
// This is the pre-normalization intermediate of ApplyChangeLimit.
func (e *Engine) ClampChanges(previous, proposed contracts.WeightVector) contracts.WeightVector {
	out := make(contracts.WeightVector, len(contracts.AllFactors))
	for _, f := range contracts.AllFactors {
		prev, ok := previous[f]
		if !ok || math.IsNaN(prev) || math.IsInf(prev, 0) {
			prev = 1.0 / float64(len(contracts.AllFactors))
		}
		next, ok := proposed[f]
		if !ok || math.IsNaN(next) || math.IsInf(next, 0) {
			next = prev
		}
		delta := next - prev
		if delta > e.cfg.MaxChangeRate {
			delta = e.cfg.MaxChangeRate
		} else if delta < -e.cfg.MaxChangeRate {
			delta = -e.cfg.MaxChangeRate
		}
		out[f] = prev + delta
	}
	return out
}

// ApplyChangeLimit clamps per-factor deltas then normalizes.
// 정규화 후 미세한 초과는 허용 (soft bound)
func (e *Engine) ApplyChangeLimit(previous, proposed contracts.WeightVector) contracts.WeightVector {
	return e.Normalize(e.ClampChanges(previous, proposed))
}

// SafeDefault returns the uniform vector
func (e *Engine) SafeDefault() contracts.WeightVector {
	return contracts.UniformWeights()
}

// RecordChange appends to the ring buffer and persists the same record
// through the async writer. The returned record is a copy.
func (e *Engine) RecordChange(ctx context.Context, previous, next contracts.WeightVector, reason string, kind contracts.ChangeKind) contracts.WeightChangeRecord {
	valid, _ := e.Validate(next)
	rec := contracts.WeightChangeRecord{
		ID:       uuid.NewString(),
		At:       e.now().UTC(),
		Previous: previous.Clone(),
		New:      next.Clone(),
		Reason:   reason,
		Kind:     kind,
		Valid:    valid,
	}

	e.mu.Lock()
	e.push(rec)
	e.mu.Unlock()

	e.metrics.RecordWeightUpdate(string(kind))
	e.logger.WithFields(map[string]interface{}{
		"kind":   kind,
		"reason": reason,
		"valid":  valid,
	}).Info("Weight change recorded")

	if e.repo != nil {
		persisted := rec
		if err := e.writer.Enqueue("history", func(ctx context.Context) error {
			return e.repo.Append(ctx, persisted, e.cfg.HistorySize)
		}); err != nil {
			e.logger.WithError(err).Warn("Failed to persist change record")
			e.metrics.RecordPersistenceFailure("history")
		}
	}

	return rec
}

// push writes rec into the ring buffer. Caller holds mu.
func (e *Engine) push(rec contracts.WeightChangeRecord) {
	e.history[e.head] = rec
	e.head = (e.head + 1) % len(e.history)
	if e.count < len(e.history) {
		e.count++
	}
}

// at returns the i-th most recent record (0 = newest). Caller holds mu.
func (e *Engine) at(i int) contracts.WeightChangeRecord {
	size := len(e.history)
	return e.history[(e.head-1-i+size*2)%size]
}

// Rollback returns the Previous vector of the record `steps` entries back
// from the newest (steps=1 → newest record's Previous). Regime records
// are skipped; only the dynamic lineage is rolled back.
func (e *Engine) Rollback(steps int) (contracts.WeightVector, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if steps < 1 {
		return nil, fmt.Errorf("rollback steps must be >= 1, got %d: %w", steps, contracts.ErrInsufficientData)
	}
	seen := 0
	for i := 0; i < e.count; i++ {
		rec := e.at(i)
		if !rec.Kind.Rollbackable() {
			continue
		}
		if seen++; seen == steps {
			return rec.Previous.Clone(), nil
		}
	}
	return nil, fmt.Errorf("rollback %d steps with %d records: %w", steps, seen, contracts.ErrInsufficientData)
}

// LatestRollbackable returns the newest record of the dynamic lineage
func (e *Engine) LatestRollbackable() (contracts.WeightChangeRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := 0; i < e.count; i++ {
		if rec := e.at(i); rec.Kind.Rollbackable() {
			return rec, true
		}
	}
	return contracts.WeightChangeRecord{}, false
}

// History returns up to limit records, newest first (limit<=0 → all)
func (e *Engine) History(limit int) []contracts.WeightChangeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := e.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]contracts.WeightChangeRecord, n)
	for i := 0; i < n; i++ {
		out[i] = e.at(i)
	}
	return out
}

// Len returns the number of buffered records
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

// Restore reloads the ring buffer from the repository
func (e *Engine) Restore(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}

	records, err := e.repo.Recent(ctx, len(e.history))
	if err != nil {
		return fmt.Errorf("load change history: %w", err)
	}

	// 오래된 것부터 push
	sort.SliceStable(records, func(i, j int) bool { return records[i].At.Before(records[j].At) })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.head, e.count = 0, 0
	for _, rec := range records {
		e.push(rec)
	}

	e.logger.WithField("records", len(records)).Info("Change history restored")
	return nil
}

func (e *Engine) clamp(w float64) float64 {
	if w < e.cfg.MinWeight {
		return e.cfg.MinWeight
	}
	if w > e.cfg.MaxWeight {
		return e.cfg.MaxWeight
	}
	return w
}
