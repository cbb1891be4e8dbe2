package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/httputil"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// ErrRateLimited is returned when events arrive faster than the limiter allows
var ErrRateLimited = errors.New("notification rate limited")

// WebhookConfig controls rate limiting and circuit breaking
type WebhookConfig struct {
	// Rate is the sustained events per second, Burst the bucket size
	Rate  rate.Limit
	Burst int

	// Circuit breaker
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	Interval            time.Duration
}

// DefaultWebhookConfig returns webhook defaults
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Rate:                rate.Every(10 * time.Second),
		Burst:               3,
		ConsecutiveFailures: 3,
		OpenTimeout:         60 * time.Second,
		Interval:            60 * time.Second,
	}
}

// Webhook POSTs transition events as JSON
type Webhook struct {
	url     string
	client  *httputil.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
	metrics *metrics.Registry
}

// NewWebhook creates a webhook notifier
func NewWebhook(url string, client *httputil.Client, cfg WebhookConfig, log *logger.Logger, m *metrics.Registry) *Webhook {
	wlog := log.WithComponent("notify").WithField("channel", "webhook")

	st := gobreaker.Settings{
		Name:     "notify-webhook",
		Interval: cfg.Interval,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			wlog.WithFields(map[string]interface{}{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Webhook circuit breaker state changed")
		},
	}

	return &Webhook{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  wlog,
		metrics: m,
	}
}

// State returns the circuit breaker state
func (w *Webhook) State() gobreaker.State {
	return w.breaker.State()
}

func (w *Webhook) NotifyRegimeChange(ctx context.Context, e contracts.RegimeTransitionEvent) error {
	if !w.limiter.Allow() {
		w.metrics.RecordNotificationFailure("webhook")
		return fmt.Errorf("webhook: %w", ErrRateLimited)
	}

	_, err := w.breaker.Execute(func() (interface{}, error) {
		return nil, w.client.PostJSON(ctx, w.url, NewPayload(e))
	})
	if err != nil {
		w.metrics.RecordNotificationFailure("webhook")
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
