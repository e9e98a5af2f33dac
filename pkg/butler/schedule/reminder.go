// Package schedule – reminder.go delivers due reminders. Delivery is
// at-least-once: storage and transport are not transactional together, so
// a failure between them causes redelivery on the next tick rather than a
// lost reminder.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/songmeo/ButlerDuck/pkg/butler/store"
)

// DefaultReminderInterval is the period of the reminder scan.
const DefaultReminderInterval = time.Minute

// ReminderStore is the slice of the chat store the scheduler needs.
type ReminderStore interface {
	DueReminders(ctx context.Context, asOf time.Time) ([]store.Reminder, error)
	MarkNotified(ctx context.Context, id int64) error
	AppendText(ctx context.Context, chatID, userID, tgMessageID int64, text string) (int64, error)
}

// Sender delivers outbound text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, replyTo int64) error
}

// ReminderScheduler periodically delivers reminders whose deadline passed.
type ReminderScheduler struct {
	store    ReminderStore
	sender   Sender
	interval time.Duration

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewReminderScheduler creates a reminder scheduler.
func NewReminderScheduler(st ReminderStore, sender Sender, interval time.Duration, logger *slog.Logger) *ReminderScheduler {
	if interval <= 0 {
		interval = DefaultReminderInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		store:    st,
		sender:   sender,
		interval: interval,
		logger:   logger.With("component", "reminder_scheduler"),
	}
}

// Start begins the periodic scan.
func (s *ReminderScheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every "+s.interval.String(), func() { s.Tick(s.ctx) }); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info("reminder scheduler started", "interval", s.interval.String())
	return nil
}

// Stop halts the scan loop.
func (s *ReminderScheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("reminder scheduler stopped")
}

// Tick delivers every due reminder: persist the agent-authored message,
// send it, then mark the reminder notified. A failure at any step logs and
// moves on; the reminder stays due and is retried on the next tick.
func (s *ReminderScheduler) Tick(ctx context.Context) {
	due, err := s.store.DueReminders(ctx, time.Now())
	if err != nil {
		s.logger.Error("querying due reminders failed", "error", err)
		return
	}

	for _, r := range due {
		text := fmt.Sprintf("Reminder: %s", r.Action)

		if _, err := s.store.AppendText(ctx, r.ChatID, store.AgentUserID, 0, text); err != nil {
			s.logger.Error("persisting reminder message failed",
				"reminder_id", r.ID,
				"chat_id", r.ChatID,
				"error", err,
			)
			continue
		}

		if err := s.sender.SendText(ctx, r.ChatID, text, 0); err != nil {
			s.logger.Error("delivering reminder failed",
				"reminder_id", r.ID,
				"chat_id", r.ChatID,
				"error", err,
			)
			continue
		}

		if err := s.store.MarkNotified(ctx, r.ID); err != nil {
			// Delivered but not marked: it will be redelivered next tick.
			s.logger.Error("marking reminder notified failed",
				"reminder_id", r.ID,
				"error", err,
			)
			continue
		}

		s.logger.Info("reminder delivered",
			"reminder_id", r.ID,
			"chat_id", r.ChatID,
			"action", r.Action,
		)
	}
}
