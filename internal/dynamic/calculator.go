package dynamic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/persist"
	"github.com/wonny/aegis/weightgov/internal/safety"
	"github.com/wonny/aegis/weightgov/internal/storage"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// Config controls the performance driven calculator
type Config struct {
	// Alpha is the EMA weight of the newly proposed vector (0,1]
	Alpha float64
	// MinSamples below which contributions are neutral
	MinSamples int
	// LookbackDays of committed outcomes used per update
	LookbackDays int
}

// DefaultConfig returns calculator defaults
func DefaultConfig() Config {
	return Config{
		Alpha:        0.3,
		MinSamples:   30,
		LookbackDays: 90,
	}
}

// Calculator derives factor weights from realized trade outcomes and
// smooths them with an EMA.
// ⭐ SSOT: 성과 기반 가중치의 현재 벡터는 이 구조체만 변경
type Calculator struct {
	cfg     Config
	engine  *safety.Engine
	store   *storage.Store
	state   contracts.WeightStateRepository
	writer  *persist.Writer
	logger  *logger.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu      sync.Mutex // 단일 writer
	current contracts.WeightVector

	snapshot  atomic.Pointer[contracts.WeightVector]
	available atomic.Bool
}

// NewCalculator creates a calculator starting from the safe default.
// store, state and writer may be nil.
func NewCalculator(cfg Config, engine *safety.Engine, store *storage.Store, state contracts.WeightStateRepository, writer *persist.Writer, log *logger.Logger, m *metrics.Registry) *Calculator {
	def := DefaultConfig()
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}

	c := &Calculator{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		state:   state,
		writer:  writer,
		logger:  log.WithComponent("dynamic"),
		metrics: m,
		now:     time.Now,
	}
	c.current = engine.SafeDefault()
	c.publish()
	return c
}

// Config returns the calculator settings
func (c *Calculator) Config() Config {
	return c.cfg
}

// SetClock overrides the time source (tests)
func (c *Calculator) SetClock(now func() time.Time) {
	c.now = now
}

// LookbackStart is the earliest exit date used by a performance update
func (c *Calculator) LookbackStart() time.Time {
	return c.now().UTC().AddDate(0, 0, -c.cfg.LookbackDays)
}

// Weights returns the current vector (copy)
func (c *Calculator) Weights() contracts.WeightVector {
	return (*c.snapshot.Load()).Clone()
}

// Available reports whether the vector came from a verified version or a
// committed update rather than the startup default.
func (c *Calculator) Available() bool {
	return c.available.Load()
}

// Restore loads the active version, verifying its checksum. On integrity
// failure it reactivates the newest verified version; with nothing usable
// it keeps the safe default.
func (c *Calculator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	active, err := c.store.GetActive(ctx)
	switch {
	case err == nil:
		c.Adopt(active.Weights)
		c.logger.WithField("version_id", active.ID).Info("Dynamic weights restored from active version")
		return nil

	case errors.Is(err, contracts.ErrIntegrity):
		c.logger.WithError(err).Warn("Active version failed integrity check, looking for a verified version")

	case errors.Is(err, contracts.ErrNotFound):
		c.logger.Info("No active weight version")

	default:
		return fmt.Errorf("load active version: %w", err)
	}

	latest, err := c.store.LatestVerified(ctx)
	if errors.Is(err, contracts.ErrNotFound) {
		c.logger.Warn("No verified weight version, using safe default")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find verified version: %w", err)
	}

	if err := c.store.SetActive(ctx, latest.ID); err != nil {
		return fmt.Errorf("reactivate %s: %w", latest.ID, err)
	}
	c.Adopt(latest.Weights)
	c.logger.WithField("version_id", latest.ID).Info("Dynamic weights restored from latest verified version")
	return nil
}

// Adopt replaces the current vector without recording a change or saving
// a version (restore, reactivation of a stored version)
func (c *Calculator) Adopt(v contracts.WeightVector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.engine.Normalize(v)
	c.available.Store(true)
	c.publish()
}

// UpdateEMA blends proposed into the current vector, then applies the change
// limit. EMA 먼저, 변화율 제한은 그 다음.
func (c *Calculator) UpdateEMA(ctx context.Context, proposed contracts.WeightVector, reason string) (*contracts.WeightChangeRecord, error) {
	if ok, errs := c.engine.Validate(proposed); !ok {
		c.logger.WithField("errors", errs).Warn("Proposed weights invalid, normalizing before EMA")
		proposed = c.engine.Normalize(proposed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blended := make(contracts.WeightVector, len(contracts.AllFactors))
	for _, f := range contracts.AllFactors {
		blended[f] = c.cfg.Alpha*proposed[f] + (1-c.cfg.Alpha)*c.current[f]
	}
	next := c.engine.ApplyChangeLimit(c.current, blended)

	return c.commit(ctx, next, reason, contracts.ChangeUpdate, nil), nil
}

// UpdateFromPerformance runs analysis, proposal and EMA. It returns a nil
// record when there are not enough samples to move the weights.
func (c *Calculator) UpdateFromPerformance(ctx context.Context, outcomes []contracts.TradeOutcome, factorScores []contracts.FactorScores, reason string) (*contracts.WeightChangeRecord, error) {
	contributions, err := c.AnalyzeContributions(outcomes, factorScores)
	if err != nil {
		return nil, err
	}
	if len(outcomes) < c.cfg.MinSamples {
		c.logger.WithFields(map[string]interface{}{
			"samples":     len(outcomes),
			"min_samples": c.cfg.MinSamples,
		}).Info("Not enough outcomes, weights unchanged")
		return nil, nil
	}

	proposed := c.ProposeWeights(contributions)
	return c.UpdateEMA(ctx, proposed, reason)
}

// UpdateFromOutcomes is UpdateFromPerformance over outcomes that carry
// their own entry scores.
func (c *Calculator) UpdateFromOutcomes(ctx context.Context, outcomes []contracts.TradeOutcome, reason string) (*contracts.WeightChangeRecord, error) {
	scores := make([]contracts.FactorScores, len(outcomes))
	for i, o := range outcomes {
		scores[i] = o.Scores
	}
	return c.UpdateFromPerformance(ctx, outcomes, scores, reason)
}

// Apply replaces the current vector (rollback, reset, manual override).
// The vector is normalized but not change-limited.
func (c *Calculator) Apply(ctx context.Context, v contracts.WeightVector, reason string, kind contracts.ChangeKind, pm *contracts.PerformanceMetrics) *contracts.WeightChangeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commit(ctx, c.engine.Normalize(v), reason, kind, pm)
}

// Reset returns to the safe default
func (c *Calculator) Reset(ctx context.Context, reason string) *contracts.WeightChangeRecord {
	return c.Apply(ctx, c.engine.SafeDefault(), reason, contracts.ChangeReset, nil)
}

// commit records the change, publishes the vector and enqueues the state
// and version writes. Caller holds mu.
func (c *Calculator) commit(ctx context.Context, next contracts.WeightVector, reason string, kind contracts.ChangeKind, pm *contracts.PerformanceMetrics) *contracts.WeightChangeRecord {
	rec := c.engine.RecordChange(ctx, c.current, next, reason, kind)
	c.current = next
	c.available.Store(true)
	c.publish()

	vec := next.Clone()
	at := rec.At
	if c.state != nil {
		if err := c.writer.Enqueue("dynamic_state", func(ctx context.Context) error {
			return c.state.SaveDynamicState(ctx, contracts.DynamicState{Weights: vec, UpdatedAt: at})
		}); err != nil {
			c.logger.WithError(err).Warn("Failed to enqueue dynamic state")
			c.metrics.RecordPersistenceFailure("dynamic_state")
		}
	}

	if c.store != nil {
		description := fmt.Sprintf("%s: %s", kind, reason)
		var saved string // 재시도 시 중복 저장 방지
		if err := c.writer.Enqueue("version", func(ctx context.Context) error {
			if saved == "" {
				v, err := c.store.SaveVersion(ctx, vec, description, pm)
				if err != nil {
					return err
				}
				saved = v.ID
			}
			return c.store.SetActive(ctx, saved)
		}); err != nil {
			c.logger.WithError(err).Warn("Failed to enqueue weight version")
			c.metrics.RecordPersistenceFailure("version")
		}
	}

	return &rec
}

// publish stores an immutable copy for readers. Caller holds mu.
func (c *Calculator) publish() {
	snap := c.current.Clone()
	c.snapshot.Store(&snap)
}
