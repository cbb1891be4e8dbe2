package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/dynamic"
	"github.com/wonny/aegis/weightgov/internal/persist"
	"github.com/wonny/aegis/weightgov/internal/provider"
	"github.com/wonny/aegis/weightgov/internal/regime"
	"github.com/wonny/aegis/weightgov/internal/safety"
	"github.com/wonny/aegis/weightgov/internal/storage"
	"github.com/wonny/aegis/weightgov/internal/strategy"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// Config controls orchestration policy
type Config struct {
	// Performance collapse floors; below either one the last change is rolled back
	RollbackMinWinRate   float64
	RollbackMinAvgReturn float64
	// RollbackMinSamples guards against rolling back on noise
	RollbackMinSamples int

	// ComparisonDelay before the before/after analysis of an update runs
	ComparisonDelay time.Duration

	// VersionKeep inactive versions survive Cleanup
	VersionKeep int
}

// DefaultConfig returns orchestration defaults
func DefaultConfig() Config {
	return Config{
		RollbackMinWinRate:   0.35,
		RollbackMinAvgReturn: -0.03,
		RollbackMinSamples:   30,
		ComparisonDelay:      72 * time.Hour,
		VersionKeep:          50,
	}
}

// Deferrer runs fn once after d unless stopped first
type Deferrer interface {
	After(name string, d time.Duration, fn func(ctx context.Context))
}

// Deps are the components the governor wires together.
// Collector, Outcomes, Comparisons, Delay, Store and Writer may be nil;
// the operations that need them then fail or are skipped.
type Deps struct {
	Engine      *safety.Engine
	Store       *storage.Store
	Classifier  *regime.Classifier
	Mapper      *strategy.Mapper
	Calculator  *dynamic.Calculator
	Collector   contracts.IndicatorCollector
	Outcomes    contracts.OutcomeRepository
	Comparisons contracts.ComparisonRepository
	Publisher   *provider.Publisher
	Delay       Deferrer
	// Writer is the async persist queue the components share
	Writer *persist.Writer
}

// RegimeCheckOptions tune one regime check
type RegimeCheckOptions struct {
	ForceRefresh   bool // bypass the indicator snapshot TTL
	ForceImmediate bool // snap to the new preset (skips confidence and cooldown)
}

// RegimeCheckResult is what one regime check produced
type RegimeCheckResult struct {
	Result   *contracts.RegimeResult `json:"result"`
	Decision strategy.Decision       `json:"decision"`
	Weights  contracts.WeightVector  `json:"weights"`
}

// PerformanceResult is what one performance update produced
type PerformanceResult struct {
	Metrics    contracts.PerformanceMetrics   `json:"metrics"`
	RolledBack bool                           `json:"rolled_back"`
	Change     *contracts.WeightChangeRecord `json:"change,omitempty"`
}

// Status is an operator view of the governor
type Status struct {
	Provider       string                  `json:"provider"`
	Available      bool                    `json:"available"`
	Weights        contracts.WeightVector  `json:"weights"`
	Regime         *contracts.RegimeState  `json:"regime,omitempty"`
	LastDetection  *contracts.RegimeResult `json:"last_detection,omitempty"`
	Mapper         contracts.MapperState   `json:"mapper"`
	DynamicWeights contracts.WeightVector  `json:"dynamic_weights"`
	HistoryLen     int                     `json:"history_len"`
}

// Governor owns the weight pipeline: classifier → mapper and outcomes →
// calculator, with the provider's vector published after every change.
// ⭐ SSOT: 가중치를 바꾸는 모든 작업은 이 구조체를 거침
type Governor struct {
	cfg  Config
	deps Deps

	logger  *logger.Logger
	metrics *metrics.Registry

	mu sync.Mutex // 단일 writer
}

// New creates a governor
func New(cfg Config, deps Deps, log *logger.Logger, m *metrics.Registry) (*Governor, error) {
	if deps.Engine == nil || deps.Classifier == nil || deps.Mapper == nil || deps.Calculator == nil || deps.Publisher == nil {
		return nil, errors.New("governor: engine, classifier, mapper, calculator and publisher are required")
	}

	def := DefaultConfig()
	if cfg.RollbackMinSamples <= 0 {
		cfg.RollbackMinSamples = def.RollbackMinSamples
	}
	if cfg.VersionKeep <= 0 {
		cfg.VersionKeep = def.VersionKeep
	}
	if cfg.ComparisonDelay < 0 {
		cfg.ComparisonDelay = 0
	}

	return &Governor{
		cfg:     cfg,
		deps:    deps,
		logger:  log.WithComponent("governor"),
		metrics: m,
	}, nil
}

// Provider returns the published provider
func (g *Governor) Provider() contracts.WeightProvider {
	return g.deps.Publisher.Provider()
}

// Publisher returns the snapshot publisher (websocket stream)
func (g *Governor) Publisher() *provider.Publisher {
	return g.deps.Publisher
}

// Store returns the version store (nil without one)
func (g *Governor) Store() *storage.Store {
	return g.deps.Store
}

// Engine returns the safety engine
func (g *Governor) Engine() *safety.Engine {
	return g.deps.Engine
}

// Restore reloads every component's persisted state, then publishes
func (g *Governor) Restore(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.deps.Engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore change history: %w", err)
	}
	if err := g.deps.Classifier.Restore(ctx); err != nil {
		return fmt.Errorf("restore regime state: %w", err)
	}
	if err := g.deps.Mapper.Restore(ctx); err != nil {
		return fmt.Errorf("restore mapper state: %w", err)
	}
	if err := g.deps.Calculator.Restore(ctx); err != nil {
		return fmt.Errorf("restore dynamic weights: %w", err)
	}

	snap := g.deps.Publisher.Publish(ctx)
	g.logger.WithFields(map[string]interface{}{
		"provider":  snap.Provider,
		"available": snap.Available,
	}).Info("Governor state restored")
	return nil
}

// RunRegimeCheck collects indicators, classifies and feeds the mapper
func (g *Governor) RunRegimeCheck(ctx context.Context, opts RegimeCheckOptions) (*RegimeCheckResult, error) {
	if g.deps.Collector == nil {
		return nil, fmt.Errorf("regime check: no indicator collector: %w", contracts.ErrInsufficientData)
	}

	snap, err := g.deps.Collector.Collect(ctx, opts.ForceRefresh)
	if err != nil {
		return nil, fmt.Errorf("collect indicators: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	result, err := g.deps.Classifier.Detect(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("detect regime: %w", err)
	}

	weights, decision, err := g.deps.Mapper.UpdateRegime(ctx, result, opts.ForceImmediate)
	if err != nil {
		return nil, fmt.Errorf("map regime: %w", err)
	}

	if decision.Moved() {
		g.deps.Publisher.Publish(ctx)
	}

	g.logger.WithFields(map[string]interface{}{
		"regime":     result.Regime,
		"confidence": fmt.Sprintf("%.3f", result.Confidence),
		"decision":   decision,
	}).Info("Regime check completed")

	return &RegimeCheckResult{Result: result, Decision: decision, Weights: weights}, nil
}

// RunPerformanceUpdate reads outcomes exited since `since` (zero → the
// calculator lookback), rolls back on a performance collapse and otherwise
// runs the dynamic update. A committed update schedules its comparison.
func (g *Governor) RunPerformanceUpdate(ctx context.Context, since time.Time) (*PerformanceResult, error) {
	if g.deps.Outcomes == nil {
		return nil, fmt.Errorf("performance update: no outcome repository: %w", contracts.ErrInsufficientData)
	}
	if since.IsZero() {
		since = g.deps.Calculator.LookbackStart()
	}

	outcomes, err := g.deps.Outcomes.OutcomesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	pm := Summarize(outcomes)

	g.mu.Lock()
	defer g.mu.Unlock()

	res := &PerformanceResult{Metrics: pm}

	// 붕괴 상태에서는 학습하지 않음 (롤백 대상이 없어도 보류)
	if g.Collapsed(pm) {
		rec, err := g.evaluate(ctx, pm)
		if err != nil {
			return nil, err
		}
		res.RolledBack = rec != nil
		res.Change = rec
		return res, nil
	}

	reason := fmt.Sprintf("performance update: %d outcomes since %s", len(outcomes), since.Format("2006-01-02"))
	rec, err := g.deps.Calculator.UpdateFromOutcomes(ctx, outcomes, reason)
	if err != nil {
		return nil, fmt.Errorf("dynamic update: %w", err)
	}
	if rec == nil {
		return res, nil
	}

	res.Change = rec
	g.deps.Publisher.Publish(ctx)
	g.scheduleComparison(*rec)

	g.logger.WithFields(map[string]interface{}{
		"change_id": rec.ID,
		"samples":   pm.SampleCount,
		"win_rate":  fmt.Sprintf("%.3f", pm.WinRate),
	}).Info("Dynamic weights updated")
	return res, nil
}

// EvaluatePerformance rolls back the last change when realized
// performance collapsed. Returns the rollback record or nil.
func (g *Governor) EvaluatePerformance(ctx context.Context, pm contracts.PerformanceMetrics) (*contracts.WeightChangeRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluate(ctx, pm)
}

// Collapsed reports whether pm is under either configured floor
func (g *Governor) Collapsed(pm contracts.PerformanceMetrics) bool {
	if pm.SampleCount < g.cfg.RollbackMinSamples {
		return false
	}
	return pm.WinRate < g.cfg.RollbackMinWinRate || pm.AvgReturn < g.cfg.RollbackMinAvgReturn
}

// evaluate is EvaluatePerformance with mu held. Only a live update is
// rolled back: once the newest dynamic change is a rollback, reset or
// activation, a still-collapsed window waits for the next update.
func (g *Governor) evaluate(ctx context.Context, pm contracts.PerformanceMetrics) (*contracts.WeightChangeRecord, error) {
	if !g.Collapsed(pm) {
		return nil, nil
	}
	latest, ok := g.deps.Engine.LatestRollbackable()
	if !ok {
		g.logger.Warn("Performance collapsed but there is no change to roll back")
		return nil, nil
	}
	if latest.Kind != contracts.ChangeUpdate {
		g.logger.WithFields(map[string]interface{}{
			"last_kind":   latest.Kind,
			"last_change": latest.ID,
		}).Warn("Performance still collapsed, last update already undone")
		return nil, nil
	}

	reason := fmt.Sprintf("performance collapse: win_rate=%.3f avg_return=%.4f", pm.WinRate, pm.AvgReturn)
	rec, err := g.rollback(ctx, 1, reason, &pm)
	if err != nil {
		return nil, err
	}
	g.logger.WithFields(map[string]interface{}{
		"win_rate":   pm.WinRate,
		"avg_return": pm.AvgReturn,
		"samples":    pm.SampleCount,
		"undone":     latest.ID,
	}).Warn("Weights rolled back after performance collapse")
	return rec, nil
}

// Rollback restores the vector from `steps` changes ago
func (g *Governor) Rollback(ctx context.Context, steps int, reason string) (*contracts.WeightChangeRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if reason == "" {
		reason = fmt.Sprintf("manual rollback %d step(s)", steps)
	}
	return g.rollback(ctx, steps, reason, nil)
}

func (g *Governor) rollback(ctx context.Context, steps int, reason string, pm *contracts.PerformanceMetrics) (*contracts.WeightChangeRecord, error) {
	v, err := g.deps.Engine.Rollback(steps)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	rec := g.deps.Calculator.Apply(ctx, v, reason, contracts.ChangeRollback, pm)
	g.deps.Publisher.Publish(ctx)
	return rec, nil
}

// Reset returns the dynamic vector to the safe default
func (g *Governor) Reset(ctx context.Context, reason string) *contracts.WeightChangeRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	if reason == "" {
		reason = "manual reset"
	}
	rec := g.deps.Calculator.Reset(ctx, reason)
	g.deps.Publisher.Publish(ctx)
	return rec
}

// ActivateVersion makes a stored version active and adopts it
func (g *Governor) ActivateVersion(ctx context.Context, id string) (*contracts.WeightChangeRecord, error) {
	if g.deps.Store == nil {
		return nil, fmt.Errorf("activate %s: no version store: %w", id, contracts.ErrNotFound)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// 큐에 남은 버전 저장/활성화가 이 활성화를 덮어쓰지 않도록 먼저 비움
	if err := g.deps.Writer.Flush(ctx); err != nil {
		return nil, fmt.Errorf("activate %s: drain pending writes: %w", id, err)
	}

	v, err := g.deps.Store.LoadVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.deps.Store.SetActive(ctx, id); err != nil {
		return nil, err
	}

	// Apply가 새 버전을 저장하지 않도록 재활성화는 기록만 남김
	rec := g.deps.Engine.RecordChange(ctx, g.deps.Calculator.Weights(), v.Weights, "activate version "+id, contracts.ChangeRollback)
	g.deps.Calculator.Adopt(v.Weights)
	g.deps.Publisher.Publish(ctx)
	return &rec, nil
}

// Cleanup prunes old inactive versions
func (g *Governor) Cleanup(ctx context.Context) (int, error) {
	if g.deps.Store == nil {
		return 0, nil
	}
	return g.deps.Store.Cleanup(ctx, g.cfg.VersionKeep)
}

// Status returns an operator view
func (g *Governor) Status(ctx context.Context) Status {
	p := g.deps.Publisher.Provider()
	return Status{
		Provider:       p.Name(),
		Available:      p.IsAvailable(ctx),
		Weights:        p.GetWeights(ctx),
		Regime:         g.deps.Classifier.State(),
		LastDetection:  g.deps.Classifier.Last(),
		Mapper:         g.deps.Mapper.State(),
		DynamicWeights: g.deps.Calculator.Weights(),
		HistoryLen:     g.deps.Engine.Len(),
	}
}

// scheduleComparison queues the read-only before/after analysis of rec
func (g *Governor) scheduleComparison(rec contracts.WeightChangeRecord) {
	if g.deps.Delay == nil || g.deps.Comparisons == nil {
		return
	}
	g.deps.Delay.After("comparison:"+rec.ID, g.cfg.ComparisonDelay, func(ctx context.Context) {
		if _, err := g.Compare(ctx, rec); err != nil {
			g.logger.WithError(err).WithField("change_id", rec.ID).Warn("Comparison analysis failed")
		}
	})
}

// Compare scores the previous and new vector of rec on outcomes that exited
// after the change and records the result. It never changes weights.
func (g *Governor) Compare(ctx context.Context, rec contracts.WeightChangeRecord) (*contracts.ComparisonResult, error) {
	if g.deps.Outcomes == nil || g.deps.Comparisons == nil {
		return nil, fmt.Errorf("compare: %w", contracts.ErrInsufficientData)
	}

	outcomes, err := g.deps.Outcomes.OutcomesSince(ctx, rec.At)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		g.logger.WithField("change_id", rec.ID).Info("No outcomes since change, comparison skipped")
		return nil, nil
	}

	result := contracts.ComparisonResult{
		ChangeID:    rec.ID,
		PreviousHit: HitRate(rec.Previous, outcomes),
		NewHit:      HitRate(rec.New, outcomes),
		SampleCount: len(outcomes),
		EvaluatedAt: time.Now().UTC(),
	}
	if err := g.deps.Comparisons.SaveComparison(ctx, result); err != nil {
		g.metrics.RecordPersistenceFailure("comparison")
		return nil, fmt.Errorf("save comparison: %w", err)
	}

	g.logger.WithFields(map[string]interface{}{
		"change_id":    rec.ID,
		"previous_hit": fmt.Sprintf("%.3f", result.PreviousHit),
		"new_hit":      fmt.Sprintf("%.3f", result.NewHit),
		"samples":      result.SampleCount,
	}).Info("Comparison analysis recorded")
	return &result, nil
}
