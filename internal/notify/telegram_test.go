package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/firmsync/firmsync/internal/models"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(chatID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func cleanReport() *models.Report {
	now := time.Now().UTC()
	return &models.Report{
		Entity:     models.EntityExchanges,
		State:      models.RunReporting,
		Fetched:    100,
		Created:    100,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func TestNotifyReportClean(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramWithSender(sender, 42, nil)

	n.NotifyReport(context.Background(), cleanReport())

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "fetched=100") {
		t.Fatalf("unexpected message: %s", sender.sent[0])
	}
	if !strings.HasPrefix(sender.sent[0], "✅") {
		t.Fatalf("clean run should be marked ok: %s", sender.sent[0])
	}
}

func TestNotifyReportWithErrorsTruncates(t *testing.T) {
	report := cleanReport()
	report.Failed = 5
	report.Errors = []string{"e1", "e2", "e3", "e4", "e5"}

	sender := &fakeSender{}
	n := NewTelegramWithSender(sender, 42, nil)
	n.NotifyReport(context.Background(), report)

	msg := sender.sent[0]
	if !strings.HasPrefix(msg, "⚠️") {
		t.Fatalf("failed run should be flagged: %s", msg)
	}
	if !strings.Contains(msg, "and 2 more") {
		t.Fatalf("expected truncation marker: %s", msg)
	}
}

func TestNotifyAuthRequired(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramWithSender(sender, 42, nil)

	n.NotifyAuthRequired(context.Background(), "practicehub", "refresh token rejected")

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "authorization required") {
		t.Fatalf("unexpected message: %s", sender.sent[0])
	}
}

func TestNotifyAuthRequiredSuppressesRepeats(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramWithSender(sender, 42, nil)

	n.NotifyAuthRequired(context.Background(), "practicehub", "refresh token rejected")
	n.NotifyAuthRequired(context.Background(), "practicehub", "refresh token rejected")
	n.NotifyAuthRequired(context.Background(), "practicehub", "refresh token rejected")

	if len(sender.sent) != 1 {
		t.Fatalf("expected repeats suppressed, got %d messages", len(sender.sent))
	}
}

func TestNotifyThrottled(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramWithSender(sender, 42, nil)
	n.throttle = NewThrottler(1, 2)

	for i := 0; i < 5; i++ {
		n.NotifyReport(context.Background(), cleanReport())
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected throttle to cap at bucket size, got %d", len(sender.sent))
	}
}

func TestSendFailureDoesNotPanic(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	n := NewTelegramWithSender(sender, 42, nil)
	n.NotifyReport(context.Background(), cleanReport())
}
