package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/persist"
	"github.com/wonny/aegis/weightgov/internal/safety"
	"github.com/wonny/aegis/weightgov/internal/strategyconfig"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// Decision describes what one UpdateRegime call did
type Decision string

const (
	DecisionBootstrap          Decision = "bootstrap"
	DecisionUnchanged          Decision = "unchanged"
	DecisionDeferredConfidence Decision = "deferred-confidence"
	DecisionDeferredCooldown   Decision = "deferred-cooldown"
	DecisionStarted            Decision = "started"
	DecisionAdvanced           Decision = "advanced"
	DecisionCompleted          Decision = "completed"
	DecisionSnapped            Decision = "snapped"
)

// Deferred reports whether the regime change was postponed
func (d Decision) Deferred() bool {
	return d == DecisionDeferredConfidence || d == DecisionDeferredCooldown
}

// Moved reports whether the weight vector changed
func (d Decision) Moved() bool {
	switch d {
	case DecisionBootstrap, DecisionStarted, DecisionAdvanced, DecisionCompleted, DecisionSnapped:
		return true
	}
	return false
}

// Config controls the mapper
type Config struct {
	// SmoothTransition=false snaps every regime change
	SmoothTransition bool
}

// Mapper maps regime classifications to factor weight presets and
// interpolates between presets over several updates.
// ⭐ SSOT: 레짐 기반 가중치 상태는 이 구조체만 소유
type Mapper struct {
	cfg      Config
	presets  map[contracts.Regime]contracts.WeightVector
	defaults strategyconfig.TransitionDefaults
	engine   *safety.Engine
	repo     contracts.MapperStateRepository
	writer   *persist.Writer
	logger   *logger.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	mu    sync.Mutex // UpdateRegime 직렬화 (단일 writer)
	rules map[[2]contracts.Regime]contracts.TransitionRule
	state contracts.MapperState

	snapshot atomic.Pointer[contracts.MapperState] // lock-free 읽기용
}

// NewMapper creates a mapper from the strategy file. Every preset must pass
// the safety engine's validation. repo and writer may be nil.
func NewMapper(cfg Config, sc *strategyconfig.Config, engine *safety.Engine, repo contracts.MapperStateRepository, writer *persist.Writer, log *logger.Logger, m *metrics.Registry) (*Mapper, error) {
	if sc == nil {
		sc = strategyconfig.Default()
	}

	presets := make(map[contracts.Regime]contracts.WeightVector, len(contracts.AllRegimes))
	for _, r := range contracts.AllRegimes {
		p := sc.Preset(r)
		if p == nil {
			return nil, fmt.Errorf("preset %s: %w", r, contracts.ErrNotFound)
		}
		if ok, errs := engine.Validate(p); !ok {
			return nil, fmt.Errorf("preset %s: %w", r, contracts.ValidationErrors(errs))
		}
		presets[r] = p
	}

	mp := &Mapper{
		cfg:      cfg,
		presets:  presets,
		defaults: sc.Defaults,
		engine:   engine,
		repo:     repo,
		writer:   writer,
		logger:   log.WithComponent("strategy"),
		metrics:  m,
		now:      time.Now,
		rules:    make(map[[2]contracts.Regime]contracts.TransitionRule, len(sc.Transitions)),
	}
	for _, rule := range sc.Transitions {
		if err := mp.RegisterRule(rule); err != nil {
			return nil, err
		}
	}
	mp.publish()
	return mp, nil
}

// SetClock overrides the time source (tests)
func (mp *Mapper) SetClock(now func() time.Time) {
	mp.now = now
}

// RegisterRule adds or replaces the rule for (rule.From, rule.To)
func (mp *Mapper) RegisterRule(rule contracts.TransitionRule) error {
	if !rule.From.IsValid() || !rule.To.IsValid() || rule.From == rule.To {
		return fmt.Errorf("rule %s->%s: %w", rule.From, rule.To, contracts.ErrValidation)
	}
	if math.IsNaN(rule.Speed) || rule.Speed <= 0 || rule.Speed > 1 {
		return fmt.Errorf("rule %s->%s: speed %.3f not in (0,1]: %w", rule.From, rule.To, rule.Speed, contracts.ErrValidation)
	}
	if math.IsNaN(rule.MinConfidence) || rule.MinConfidence < 0 || rule.MinConfidence > 1 {
		return fmt.Errorf("rule %s->%s: min confidence %.3f not in [0,1]: %w", rule.From, rule.To, rule.MinConfidence, contracts.ErrValidation)
	}

	mp.mu.Lock()
	mp.rules[[2]contracts.Regime{rule.From, rule.To}] = rule
	mp.mu.Unlock()
	return nil
}

// Rule returns the rule for from→to, falling back to the defaults
func (mp *Mapper) Rule(from, to contracts.Regime) contracts.TransitionRule {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.rule(from, to)
}

func (mp *Mapper) rule(from, to contracts.Regime) contracts.TransitionRule {
	if r, ok := mp.rules[[2]contracts.Regime{from, to}]; ok {
		return r
	}
	return contracts.TransitionRule{
		From:          from,
		To:            to,
		Speed:         mp.defaults.Speed,
		MinConfidence: mp.defaults.MinConfidence,
		Cooldown:      mp.defaults.Cooldown,
	}
}

// Preset returns a copy of the preset for r
func (mp *Mapper) Preset(r contracts.Regime) contracts.WeightVector {
	return mp.presets[r].Clone()
}

// Weights returns the current vector (nil before the first regime)
func (mp *Mapper) Weights() contracts.WeightVector {
	s := mp.snapshot.Load()
	if s == nil || s.Weights == nil {
		return nil
	}
	return s.Weights.Clone()
}

// State returns a copy of the mapper state
func (mp *Mapper) State() contracts.MapperState {
	s := mp.snapshot.Load()
	if s == nil {
		return contracts.MapperState{}
	}
	return copyState(*s)
}

// Ready reports whether a regime has been adopted
func (mp *Mapper) Ready() bool {
	s := mp.snapshot.Load()
	return s != nil && s.Current != ""
}

// Restore reloads the persisted state at startup
func (mp *Mapper) Restore(ctx context.Context) error {
	if mp.repo == nil {
		return nil
	}

	s, err := mp.repo.LoadMapperState(ctx)
	if errors.Is(err, contracts.ErrNotFound) {
		mp.logger.Info("No persisted mapper state, first regime will bootstrap")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load mapper state: %w", err)
	}
	if !s.Current.IsValid() {
		return fmt.Errorf("mapper state regime %q: %w", s.Current, contracts.ErrValidation)
	}

	restored := copyState(*s)
	if ok, _ := mp.engine.Validate(restored.Weights); !ok {
		mp.logger.Warn("Persisted mapper weights invalid, normalizing")
		restored.Weights = mp.engine.Normalize(restored.Weights)
	}
	if restored.Pending != "" && (!restored.Pending.IsValid() || restored.Target == nil || restored.Speed <= 0) {
		mp.logger.WithField("pending", restored.Pending).Warn("Dropping incomplete persisted transition")
		restored.Pending, restored.Target, restored.Speed, restored.Progress = "", nil, 0, 1
	}

	mp.mu.Lock()
	mp.state = restored
	mp.publish()
	mp.mu.Unlock()

	mp.logger.WithFields(map[string]interface{}{
		"regime":   restored.Current,
		"pending":  restored.Pending,
		"progress": restored.Progress,
	}).Info("Mapper state restored")
	return nil
}

// UpdateRegime applies one classification result and returns the new
// current vector. Deferred transitions return the vector unchanged.
func (mp *Mapper) UpdateRegime(ctx context.Context, result *contracts.RegimeResult, forceImmediate bool) (contracts.WeightVector, Decision, error) {
	if result == nil || !result.Regime.IsValid() {
		return nil, "", fmt.Errorf("update regime: invalid result: %w", contracts.ErrValidation)
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	now := mp.now().UTC()
	s := &mp.state
	log := mp.logger.WithFields(map[string]interface{}{
		"regime":     result.Regime,
		"confidence": fmt.Sprintf("%.3f", result.Confidence),
	})

	// 최초 채택 전에는 provider가 안전 기본값을 서빙함
	prev := s.Weights.Clone()
	if prev == nil {
		prev = mp.engine.SafeDefault()
	}

	var decision Decision
	switch {
	case s.Current == "":
		// 최초 레짐은 신뢰도와 무관하게 채택
		s.Current = result.Regime
		s.Weights = mp.engine.Normalize(mp.presets[result.Regime])
		s.Progress = 1
		s.LastTransitionAt = now
		decision = DecisionBootstrap

	case result.Regime == mp.effective():
		if !s.InTransition() {
			return s.Weights.Clone(), DecisionUnchanged, nil
		}
		decision = mp.step()

	default:
		from := mp.effective()
		rule := mp.rule(from, result.Regime)

		if !forceImmediate && result.Confidence < rule.MinConfidence {
			log.WithFields(map[string]interface{}{
				"from":           from,
				"min_confidence": rule.MinConfidence,
			}).Info("Regime transition deferred: confidence below threshold")
			mp.metrics.RecordDeferred("confidence")
			return s.Weights.Clone(), DecisionDeferredConfidence, nil
		}
		if !forceImmediate && rule.Cooldown > 0 && now.Sub(s.LastTransitionAt) < rule.Cooldown {
			log.WithFields(map[string]interface{}{
				"from":     from,
				"cooldown": rule.Cooldown.String(),
			}).Info("Regime transition deferred: cooldown")
			mp.metrics.RecordDeferred("cooldown")
			return s.Weights.Clone(), DecisionDeferredCooldown, nil
		}

		target := mp.presets[result.Regime]
		s.LastTransitionAt = now

		if forceImmediate || !mp.cfg.SmoothTransition {
			s.Weights = mp.engine.Normalize(mp.engine.ApplyChangeLimit(s.Weights, target))
			s.Current = result.Regime
			s.Pending, s.Target, s.Speed, s.Progress = "", nil, 0, 1
			decision = DecisionSnapped
			break
		}

		// 전환 중 새 레짐이 오면 현재(부분 전환된) 벡터에서 다시 시작
		s.Pending = result.Regime
		s.Target = target.Clone()
		s.Speed = rule.Speed
		s.Progress = 0
		if d := mp.step(); d == DecisionCompleted {
			decision = d
		} else {
			decision = DecisionStarted
		}
		log = log.WithFields(map[string]interface{}{"from": from, "speed": rule.Speed})
	}

	mp.publish()
	mp.persist()
	// 이력에는 남기되 Rollback 대상(dynamic lineage)에서는 제외
	mp.engine.RecordChange(ctx, prev, s.Weights,
		fmt.Sprintf("regime %s: %s (confidence %.3f)", decision, result.Regime, result.Confidence),
		contracts.ChangeRegime)

	mp.metrics.SetTransitionProgress(s.Progress)
	log.WithFields(map[string]interface{}{
		"decision": decision,
		"current":  s.Current,
		"progress": fmt.Sprintf("%.2f", s.Progress),
	}).Info("Regime weights updated")

	return s.Weights.Clone(), decision, nil
}

// effective is the regime the mapper is heading to. Caller holds mu.
func (mp *Mapper) effective() contracts.Regime {
	if mp.state.InTransition() {
		return mp.state.Pending
	}
	return mp.state.Current
}

// step advances the in-flight transition by one interpolation step.
// Caller holds mu.
func (mp *Mapper) step() Decision {
	s := &mp.state
	s.Progress = math.Min(1, s.Progress+s.Speed)

	interpolated := make(contracts.WeightVector, len(contracts.AllFactors))
	for _, f := range contracts.AllFactors {
		cur := s.Weights[f]
		interpolated[f] = cur + (s.Target[f]-cur)*s.Progress
	}
	s.Weights = mp.engine.Normalize(interpolated)

	if s.Progress >= 1 {
		s.Current = s.Pending
		s.Pending, s.Target, s.Speed, s.Progress = "", nil, 0, 1
		return DecisionCompleted
	}
	return DecisionAdvanced
}

// publish stores an immutable copy for readers. Caller holds mu
// (or is the constructor).
func (mp *Mapper) publish() {
	snap := copyState(mp.state)
	mp.snapshot.Store(&snap)
}

// persist enqueues the state write. Caller holds mu.
func (mp *Mapper) persist() {
	if mp.repo == nil {
		return
	}
	snap := copyState(mp.state)
	if err := mp.writer.Enqueue("mapper_state", func(ctx context.Context) error {
		return mp.repo.SaveMapperState(ctx, snap)
	}); err != nil {
		mp.logger.WithError(err).Warn("Failed to enqueue mapper state")
		mp.metrics.RecordPersistenceFailure("mapper_state")
	}
}

func copyState(s contracts.MapperState) contracts.MapperState {
	out := s
	if s.Weights != nil {
		out.Weights = s.Weights.Clone()
	}
	if s.Target != nil {
		out.Target = s.Target.Clone()
	}
	return out
}
