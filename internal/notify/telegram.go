package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/metrics"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends transition events to one chat
type Telegram struct {
	bot     Sender
	chatID  int64
	logger  *logger.Logger
	metrics *metrics.Registry
}

// NewTelegram connects the bot (token is checked against the API)
func NewTelegram(token string, chatID int64, log *logger.Logger, m *metrics.Registry) (*Telegram, error) {
	if chatID == 0 {
		return nil, errors.New("TELEGRAM_CHAT_ID is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return NewTelegramWithSender(bot, chatID, log, m), nil
}

// NewTelegramWithSender uses an existing sender (tests, shared bots)
func NewTelegramWithSender(bot Sender, chatID int64, log *logger.Logger, m *metrics.Registry) *Telegram {
	return &Telegram{
		bot:     bot,
		chatID:  chatID,
		logger:  log.WithComponent("notify").WithField("channel", "telegram"),
		metrics: m,
	}
}

func (t *Telegram) NotifyRegimeChange(ctx context.Context, e contracts.RegimeTransitionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, Message(e))
	if _, err := t.bot.Send(msg); err != nil {
		t.metrics.RecordNotificationFailure("telegram")
		return fmt.Errorf("telegram: %w", err)
	}

	t.logger.WithField("to", e.To).Debug("Telegram notification sent")
	return nil
}
