package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/models"
)

// Sender delivers a message to a chat. Satisfied by the tgbotapi
// adapter and by test fakes.
type Sender interface {
	Send(chatID int64, text string) error
}

// Telegram posts sync run outcomes to a Telegram chat. Delivery is best
// effort: a failed send is logged and never fails the run that produced
// the report. Repeated auth-required notices are suppressed and overall
// volume is throttled so a broken credential cannot flood the chat.
type Telegram struct {
	sender   Sender
	chatID   int64
	logger   *logging.Logger
	suppress *Suppressor
	throttle *Throttler
}

// NewTelegram builds a notifier from configuration. When notifications
// are disabled it returns nil, which callers treat as "no notifier".
func NewTelegram(cfg config.TelegramConfig, logger *logging.Logger) (*Telegram, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{
		sender:   &botSender{bot: bot},
		chatID:   cfg.ChatID,
		logger:   logger,
		suppress: NewSuppressor(30 * time.Minute),
		throttle: NewThrottler(30, 10),
	}, nil
}

// NewTelegramWithSender wires a notifier onto an existing sender.
func NewTelegramWithSender(sender Sender, chatID int64, logger *logging.Logger) *Telegram {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Telegram{
		sender:   sender,
		chatID:   chatID,
		logger:   logger,
		suppress: NewSuppressor(30 * time.Minute),
		throttle: NewThrottler(30, 10),
	}
}

// NotifyReport posts a one-line run summary, with error details when the
// run was not clean.
func (t *Telegram) NotifyReport(ctx context.Context, report *models.Report) {
	var b strings.Builder
	if report.Succeeded() {
		b.WriteString("✅ ")
	} else {
		b.WriteString("⚠️ ")
	}
	b.WriteString(report.Summary())

	if len(report.Errors) > 0 {
		b.WriteString("\n")
		for i, msg := range report.Errors {
			if i == 3 {
				fmt.Fprintf(&b, "… and %d more", len(report.Errors)-i)
				break
			}
			b.WriteString("• ")
			b.WriteString(msg)
			b.WriteString("\n")
		}
	}

	t.send(ctx, b.String())
}

// NotifyAuthRequired escalates a rejected credential. This is the one
// notification an operator must act on, but it fires on every failed
// run, so repeats inside the suppression window are dropped.
func (t *Telegram) NotifyAuthRequired(ctx context.Context, provider, reason string) {
	key := "auth-required:" + provider
	if t.suppress.Suppressed(key) {
		t.logger.DebugWithContext(ctx, "auth notification suppressed", "provider", provider)
		return
	}
	t.send(ctx, fmt.Sprintf("🔑 %s authorization required: %s\nRe-run the authorize flow to restore syncing.", provider, reason))
	t.suppress.Record(key)
}

func (t *Telegram) send(ctx context.Context, text string) {
	if !t.throttle.Allow() {
		t.logger.WarnWithContext(ctx, "telegram notification throttled",
			"retry_after", t.throttle.RetryAfter().String())
		return
	}
	if err := t.sender.Send(t.chatID, text); err != nil {
		t.logger.WarnWithContext(ctx, "telegram notification failed", "error", err.Error())
	}
}

// botSender adapts tgbotapi to the Sender interface.
type botSender struct {
	bot *tgbotapi.BotAPI
}

func (s *botSender) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := s.bot.Send(msg)
	return err
}
