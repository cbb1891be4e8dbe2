package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/config"
	"github.com/wonny/aegis/weightgov/pkg/httputil"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// Payload is the JSON body sent to webhooks
type Payload struct {
	Event      string  `json:"event"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
	At         string  `json:"at"`
}

// NewPayload converts a transition event
func NewPayload(e contracts.RegimeTransitionEvent) Payload {
	return Payload{
		Event:      "regime_change",
		From:       string(e.From),
		To:         string(e.To),
		Confidence: e.Confidence,
		At:         e.At.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Message renders the event as one human readable line
func Message(e contracts.RegimeTransitionEvent) string {
	from := string(e.From)
	if from == "" {
		from = "none"
	}
	return fmt.Sprintf("[weightgov] regime change %s -> %s (confidence %.2f) at %s",
		from, e.To, e.Confidence, e.At.UTC().Format("2006-01-02 15:04 MST"))
}

// Log writes the event to the structured log
type Log struct {
	logger *logger.Logger
}

// NewLog creates a log notifier
func NewLog(log *logger.Logger) *Log {
	return &Log{logger: log.WithComponent("notify")}
}

// NotifyRegimeChange never fails
func (l *Log) NotifyRegimeChange(ctx context.Context, e contracts.RegimeTransitionEvent) error {
	l.logger.WithFields(map[string]interface{}{
		"from":       e.From,
		"to":         e.To,
		"confidence": e.Confidence,
	}).Info("Regime transition event")
	return nil
}

// Multi fans an event out to several channels. Every channel is tried;
// the errors are joined.
type Multi struct {
	notifiers []contracts.Notifier
}

// NewMulti creates a fan-out notifier
func NewMulti(notifiers ...contracts.Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Len returns the number of channels
func (m *Multi) Len() int {
	return len(m.notifiers)
}

func (m *Multi) NotifyRegimeChange(ctx context.Context, e contracts.RegimeTransitionEvent) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.NotifyRegimeChange(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the configured channels: always the log, plus the
// webhook and Telegram when configured.
func FromConfig(cfg config.NotifyConfig, client *httputil.Client, log *logger.Logger, m *metrics.Registry) (*Multi, error) {
	notifiers := []contracts.Notifier{NewLog(log)}

	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhook(cfg.WebhookURL, client, DefaultWebhookConfig(), log, m))
	}

	if cfg.TelegramToken != "" {
		tg, err := NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log, m)
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		notifiers = append(notifiers, tg)
	}

	return NewMulti(notifiers...), nil
}
