package schedule

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/songmeo/ButlerDuck/pkg/butler/store"
)

type recordingSender struct {
	sent []string
	fail bool
}

func (s *recordingSender) SendText(_ context.Context, chatID int64, text string, _ int64) error {
	if s.fail {
		return errors.New("network down")
	}
	s.sent = append(s.sent, fmt.Sprintf("%d:%s", chatID, text))
	return nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "butler.db"), dir, "ButlerBot", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTickDeliversDueReminders(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	sender := &recordingSender{}

	past := time.Now().UTC().Add(-time.Minute)
	if _, err := st.CreateReminder(ctx, 7, "water the plants", past); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if _, err := st.CreateReminder(ctx, 7, "call mom", past.Add(time.Second)); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if _, err := st.CreateReminder(ctx, 7, "far future", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	sched := NewReminderScheduler(st, sender, time.Minute, nil)
	sched.Tick(ctx)

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %v", len(sender.sent), sender.sent)
	}
	if !strings.Contains(sender.sent[0], "water the plants") {
		t.Errorf("oldest deadline first, got %q", sender.sent[0])
	}

	// Delivered reminders are marked and not redelivered.
	sched.Tick(ctx)
	if len(sender.sent) != 2 {
		t.Errorf("reminders redelivered after marking: %v", sender.sent)
	}

	// The future reminder is still pending.
	due, err := st.DueReminders(ctx, time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(due) != 1 || due[0].Action != "far future" {
		t.Errorf("expected only the future reminder pending, got %v", due)
	}
}

func TestTickPersistsAgentMessage(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	sender := &recordingSender{}

	if _, err := st.CreateReminder(ctx, 9, "stretch", time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	NewReminderScheduler(st, sender, time.Minute, nil).Tick(ctx)

	rows, err := st.History(ctx, 9, store.DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one history row, got %d", len(rows))
	}
	if rows[0].UserID != store.AgentUserID {
		t.Errorf("reminder message author = %d, want %d", rows[0].UserID, store.AgentUserID)
	}
	if rows[0].Text != "Reminder: stretch" {
		t.Errorf("reminder text = %q", rows[0].Text)
	}
}

func TestTickFailedSendStaysDue(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	sender := &recordingSender{fail: true}

	if _, err := st.CreateReminder(ctx, 3, "pay rent", time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	sched := NewReminderScheduler(st, sender, time.Minute, nil)
	sched.Tick(ctx)

	due, err := st.DueReminders(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("failed delivery must stay due, got %d pending", len(due))
	}

	// Once the transport recovers the reminder goes out.
	sender.fail = false
	sched.Tick(ctx)
	if len(sender.sent) != 1 {
		t.Errorf("expected delivery after recovery, got %v", sender.sent)
	}
}
