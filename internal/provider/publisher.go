package provider

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/persist"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
	"github.com/wonny/aegis/weightgov/pkg/redis"
)

// WeightsTopic is the pub/sub topic carrying published snapshots
const WeightsTopic = "weights"

// Snapshot is one published view of the effective weights
type Snapshot struct {
	Provider    string             `json:"provider"`
	Available   bool               `json:"available"`
	Weights     map[string]float64 `json:"weights"`
	PublishedAt time.Time          `json:"published_at"`
}

// Publisher mirrors the provider's vector into Redis for out-of-process
// scorers and fans it out to in-process subscribers (websocket stream).
// Redis writes go through the persist writer; only the fan-out is inline.
type Publisher struct {
	provider contracts.WeightProvider
	cache    *redis.Cache
	writer   *persist.Writer
	logger   *logger.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	mu     sync.RWMutex
	last   *Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// NewPublisher creates a publisher. cache may be nil (no Redis mirror);
// a nil writer mirrors inline.
func NewPublisher(p contracts.WeightProvider, cache *redis.Cache, writer *persist.Writer, log *logger.Logger, m *metrics.Registry) *Publisher {
	return &Publisher{
		provider: p,
		cache:    cache,
		writer:   writer,
		logger:   log.WithComponent("provider"),
		metrics:  m,
		now:      time.Now,
		subs:     make(map[int]chan Snapshot),
	}
}

// Provider returns the wrapped provider
func (p *Publisher) Provider() contracts.WeightProvider {
	return p.provider
}

// Publish reads the provider and pushes the snapshot everywhere.
// The Redis mirror is queued, so Publish never waits on Redis.
func (p *Publisher) Publish(ctx context.Context) Snapshot {
	snap := Snapshot{
		Provider:    p.provider.Name(),
		Available:   p.provider.IsAvailable(ctx),
		Weights:     p.provider.GetWeights(ctx).ToMap(),
		PublishedAt: p.now().UTC(),
	}

	p.metrics.SetWeights(snap.Weights)

	p.mirror(snap)

	p.mu.Lock()
	p.last = &snap
	for _, ch := range p.subs {
		// 느린 구독자는 이전 스냅샷을 버리고 최신만 받음
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
	p.mu.Unlock()

	p.logger.WithField("provider", snap.Provider).Debug("Weights published")
	return snap
}

// mirror queues the Redis cache write and pub/sub event for snap
func (p *Publisher) mirror(snap Snapshot) {
	if p.cache == nil {
		return
	}
	err := p.writer.Enqueue("redis_weights", func(ctx context.Context) error {
		if err := p.cache.Set(ctx, redis.CurrentWeightsKey(), snap, redis.TTLDaily); err != nil {
			return err
		}
		// 이벤트는 best effort (캐시 키가 기준)
		if err := p.cache.Publish(ctx, WeightsTopic, snap); err != nil {
			p.logger.WithError(err).Warn("Failed to publish weights event")
		}
		return nil
	})
	if err != nil {
		p.logger.WithError(err).Warn("Failed to cache published weights")
		p.metrics.RecordPersistenceFailure("redis_weights")
	}
}

// Last returns the most recently published snapshot (nil before the first)
func (p *Publisher) Last() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil
	}
	s := *p.last
	return &s
}

// Subscribe returns a channel holding at most the latest snapshot and a
// cancel func that closes it.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	if p.last != nil {
		ch <- *p.last
	}
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			close(ch)
			p.mu.Unlock()
		})
	}
	return ch, cancel
}
