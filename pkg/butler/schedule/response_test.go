package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBurstTriggersExactlyOneTurn(t *testing.T) {
	var turns atomic.Int64
	var wg sync.WaitGroup

	s := NewResponseScheduler(30*time.Millisecond, time.Second, func(_ context.Context, chatID int64) {
		turns.Add(1)
		wg.Done()
	}, nil)
	s.ctx = context.Background()

	// A burst of 100 messages within the quiet window.
	for i := 0; i < 100; i++ {
		s.Observe(1, false)
	}

	// Still inside the quiet window: no trigger.
	s.scan()
	if got := turns.Load(); got != 0 {
		t.Fatalf("turn triggered inside quiet window: %d", got)
	}

	time.Sleep(50 * time.Millisecond)
	wg.Add(1)
	s.scan()
	wg.Wait()

	// Re-scanning does not re-trigger: the batch is handled.
	s.scan()
	s.scan()
	time.Sleep(10 * time.Millisecond)

	if got := turns.Load(); got != 1 {
		t.Errorf("expected exactly 1 turn, got %d", got)
	}
}

func TestNewMessageRearmsChat(t *testing.T) {
	var turns atomic.Int64
	var wg sync.WaitGroup

	s := NewResponseScheduler(10*time.Millisecond, time.Second, func(context.Context, int64) {
		turns.Add(1)
		wg.Done()
	}, nil)
	s.ctx = context.Background()

	s.Observe(1, false)
	time.Sleep(20 * time.Millisecond)
	wg.Add(1)
	s.scan()
	wg.Wait()

	// A newer inbound message makes the chat eligible again.
	s.Observe(1, false)
	time.Sleep(20 * time.Millisecond)
	wg.Add(1)
	s.scan()
	wg.Wait()

	if got := turns.Load(); got != 2 {
		t.Errorf("expected 2 turns, got %d", got)
	}
}

func TestAgentMessageDoesNotTrigger(t *testing.T) {
	var turns atomic.Int64

	s := NewResponseScheduler(10*time.Millisecond, time.Second, func(context.Context, int64) {
		turns.Add(1)
	}, nil)
	s.ctx = context.Background()

	s.Observe(1, true) // the bot's own reply
	time.Sleep(20 * time.Millisecond)
	s.scan()
	time.Sleep(10 * time.Millisecond)

	if got := turns.Load(); got != 0 {
		t.Errorf("agent-authored message must not trigger a turn, got %d", got)
	}
}

func TestPerChatMutualExclusion(t *testing.T) {
	release := make(chan struct{})
	started := make(chan int64, 8)

	s := NewResponseScheduler(time.Millisecond, time.Second, func(_ context.Context, chatID int64) {
		started <- chatID
		<-release
	}, nil)
	s.ctx = context.Background()

	s.Observe(1, false)
	s.Observe(2, false)
	time.Sleep(5 * time.Millisecond)

	// Both chats start concurrently.
	s.scan()
	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("expected two concurrent turns")
		}
	}
	if !seen[1] || !seen[2] {
		t.Errorf("expected turns for both chats, got %v", seen)
	}

	// While chat 1's turn is in flight, new activity must not start a
	// second concurrent turn for it.
	s.Observe(1, false)
	time.Sleep(5 * time.Millisecond)
	s.scan()
	select {
	case id := <-started:
		t.Fatalf("second concurrent turn started for chat %d", id)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
}
