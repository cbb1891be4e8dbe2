package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wonny/aegis/weightgov/pkg/logger"
)

// DelayQueue runs one-shot jobs after a delay. Stop drops every pending job.
// Scheduling the same name again replaces the pending job.
type DelayQueue struct {
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewDelayQueue creates an empty queue
func NewDelayQueue(log *logger.Logger) *DelayQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &DelayQueue{
		logger: log.WithComponent("delay_queue"),
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]*time.Timer),
	}
}

// After schedules fn to run once after d
func (q *DelayQueue) After(name string, d time.Duration, fn func(ctx context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		q.logger.WithField("job", name).Warn("Delay queue stopped, job dropped")
		return
	}
	if old, ok := q.timers[name]; ok && old.Stop() {
		q.wg.Done()
	}

	q.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer q.wg.Done()

		q.mu.Lock()
		// 교체된 타이머는 실행하지 않음
		if q.stopped || q.timers[name] != t {
			q.mu.Unlock()
			return
		}
		delete(q.timers, name)
		q.mu.Unlock()

		q.logger.WithField("job", name).Debug("Delayed job running")
		fn(q.ctx)
	})
	q.timers[name] = t

	q.logger.WithFields(map[string]interface{}{
		"job":   name,
		"delay": d.String(),
	}).Debug("Delayed job scheduled")
}

// Pending returns the names of jobs not yet run, sorted
func (q *DelayQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.timers))
	for name := range q.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop drops pending jobs, cancels running ones and waits for them
func (q *DelayQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	dropped := 0
	for name, t := range q.timers {
		if t.Stop() {
			q.wg.Done()
			dropped++
		}
		delete(q.timers, name)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	if dropped > 0 {
		q.logger.WithField("dropped", dropped).Info("Delay queue stopped, pending jobs dropped")
	}
}
