package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// ErrClosed is returned by Enqueue after Close
var ErrClosed = errors.New("persist writer closed")

// Func is one persistence write
type Func func(ctx context.Context) error

type job struct {
	target string
	fn     Func
	done   chan struct{} // non-nil for flush markers
}

// Writer runs persistence writes on a single goroutine in FIFO order.
// ⭐ SSOT: 가중치/이력/상태 저장은 이 큐를 통해서만 비동기로 수행
//
// A nil *Writer executes writes inline (tests, CLI one-shots).
type Writer struct {
	jobs       chan job
	maxRetries uint64
	timeout    time.Duration
	initial    time.Duration
	logger     *logger.Logger
	metrics    *metrics.Registry

	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
}

// Config controls the writer
type Config struct {
	Buffer       int
	MaxRetries   int
	WriteTimeout time.Duration
	InitialDelay time.Duration
}

// DefaultConfig returns the writer defaults
func DefaultConfig() Config {
	return Config{
		Buffer:       256,
		MaxRetries:   5,
		WriteTimeout: 5 * time.Second,
		InitialDelay: 200 * time.Millisecond,
	}
}

// NewWriter creates and starts a writer
func NewWriter(cfg Config, log *logger.Logger, m *metrics.Registry) *Writer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	w := &Writer{
		jobs:       make(chan job, cfg.Buffer),
		maxRetries: uint64(cfg.MaxRetries),
		timeout:    cfg.WriteTimeout,
		initial:    cfg.InitialDelay,
		logger:     log.WithComponent("persist"),
		metrics:    m,
		stopped:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules a write. It never blocks: when the buffer is full the
// write is dropped, logged and counted.
func (w *Writer) Enqueue(target string, fn Func) error {
	if w == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return fn(ctx)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	select {
	case w.jobs <- job{target: target, fn: fn}:
		w.metrics.SetQueueDepth(len(w.jobs))
		return nil
	default:
		w.logger.WithField("target", target).Error("Persist queue full, dropping write")
		w.metrics.RecordPersistenceFailure(target)
		return errors.New("persist queue full")
	}
}

// Flush blocks until every write enqueued before the call has been attempted
func (w *Writer) Flush(ctx context.Context) error {
	if w == nil {
		return nil
	}

	done := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	select {
	case w.jobs <- job{done: done}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and drains the queue
func (w *Writer) Close(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	select {
	case <-w.stopped:
		w.logger.Info("Persist writer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.stopped)

	for j := range w.jobs {
		w.metrics.SetQueueDepth(len(w.jobs))
		if j.done != nil {
			close(j.done)
			continue
		}
		w.execute(j)
	}
}

// execute runs one write with exponential backoff
func (w *Writer) execute(j job) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.initial
	exp.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(exp, w.maxRetries)

	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		return j.fn(ctx)
	}

	notify := func(err error, delay time.Duration) {
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"target":  j.target,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Persist write failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"target":   j.target,
			"attempts": attempt,
		}).Error("Persist write abandoned")
		w.metrics.RecordPersistenceFailure(j.target)
	}
}
