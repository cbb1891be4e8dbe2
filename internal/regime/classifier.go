package regime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// Config controls the classifier side effects
type Config struct {
	// NotifyMinConfidence gates transition events to the notifier
	NotifyMinConfidence float64
	// NotifyTimeout bounds one notifier call
	NotifyTimeout time.Duration
}

// DefaultConfig returns classifier defaults
func DefaultConfig() Config {
	return Config{
		NotifyMinConfidence: 0.7,
		NotifyTimeout:       5 * time.Second,
	}
}

// Classifier scores indicator snapshots against the five regime
// hypotheses and keeps the persisted {regime, duration} state.
// ⭐ SSOT: 현재 레짐 상태는 이 구조체만 소유
type Classifier struct {
	cfg      Config
	repo     contracts.RegimeStateRepository
	notifier contracts.Notifier
	logger   *logger.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	mu    sync.Mutex
	state *contracts.RegimeState

	last atomic.Pointer[contracts.RegimeResult]
}

// NewClassifier creates a classifier. notifier may be nil.
func NewClassifier(cfg Config, repo contracts.RegimeStateRepository, notifier contracts.Notifier, log *logger.Logger, m *metrics.Registry) *Classifier {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultConfig().NotifyTimeout
	}
	return &Classifier{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		logger:   log.WithComponent("regime"),
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests)
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
}

// Restore reloads the persisted state at startup
func (c *Classifier) Restore(ctx context.Context) error {
	s, err := c.repo.LoadRegimeState(ctx)
	if errors.Is(err, contracts.ErrNotFound) {
		c.logger.Info("No persisted regime state, first detection will initialize")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load regime state: %w", err)
	}

	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.logger.WithFields(map[string]interface{}{
		"regime":   s.Regime,
		"duration": s.Duration,
	}).Info("Regime state restored")
	return nil
}

// State returns the current persisted state (nil before the first detection)
func (c *Classifier) State() *contracts.RegimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	s := *c.state
	return &s
}

// Last returns the most recent detection result (nil before the first)
func (c *Classifier) Last() *contracts.RegimeResult {
	return c.last.Load()
}

// Detect classifies snap. A stale (cached) snapshot is accepted as is.
func (c *Classifier) Detect(ctx context.Context, snap *contracts.MarketIndicatorSnapshot) (*contracts.RegimeResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("detect: nil snapshot: %w", contracts.ErrInsufficientData)
	}

	scores := ScoreAll(snap)
	regime, confidence := Select(scores)
	now := c.now().UTC()

	c.mu.Lock()
	result := &contracts.RegimeResult{
		Regime:     regime,
		Confidence: confidence,
		Scores:     scores,
		DetectedAt: now,
		SnapshotAt: snap.Timestamp,
	}

	switch {
	case c.state == nil:
		// 최초 감지
		result.Duration = 1
	case c.state.Regime != regime:
		result.Previous = c.state.Regime
		result.Changed = true
		result.Duration = 1
	default:
		result.Previous = c.state.Regime
		result.Duration = c.state.Duration + 1
	}

	next := contracts.RegimeState{
		Regime:     regime,
		Duration:   result.Duration,
		Confidence: confidence,
		UpdatedAt:  now,
	}
	c.state = &next
	c.mu.Unlock()

	// 반환 전에 저장, 실패는 기록만 하고 분류는 성공 처리
	if err := c.repo.SaveRegimeState(ctx, next); err != nil {
		c.logger.WithError(err).Error("Failed to persist regime state")
		c.metrics.RecordPersistenceFailure("regime_state")
	}

	c.last.Store(result)
	c.metrics.RecordRegime(string(result.Previous), string(regime), confidence, result.Changed, contracts.RegimeNames())

	log := c.logger.WithFields(map[string]interface{}{
		"regime":     regime,
		"confidence": fmt.Sprintf("%.3f", confidence),
		"duration":   result.Duration,
		"cached":     snap.Cached,
	})
	if result.Changed {
		log.WithField("previous", result.Previous).Info("Regime changed")
		c.notify(ctx, result)
	} else {
		log.Debug("Regime detected")
	}

	return result, nil
}

// notify delivers the transition event; failures never fail Detect
func (c *Classifier) notify(ctx context.Context, result *contracts.RegimeResult) {
	if c.notifier == nil || result.Confidence < c.cfg.NotifyMinConfidence {
		return
	}

	event := contracts.RegimeTransitionEvent{
		From:       result.Previous,
		To:         result.Regime,
		Confidence: result.Confidence,
		At:         result.DetectedAt,
	}

	nctx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()

	if err := c.notifier.NotifyRegimeChange(nctx, event); err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"from": event.From,
			"to":   event.To,
		}).Warn("Regime change notification failed")
		c.metrics.RecordNotificationFailure("regime")
	}
}
