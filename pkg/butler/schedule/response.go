// Package schedule implements the two background drivers of the bot: the
// response scheduler that decides when a chat gets a reply, and the reminder
// scheduler that delivers due reminders. Both run periodic scans on
// robfig/cron.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultQuietWindow is how long a chat must be inactive before its
	// buffered messages are eligible for a reply. Replying to every message
	// of a rapid-fire burst would produce one reply per message.
	DefaultQuietWindow = 5 * time.Second

	// DefaultScanInterval is the period of the response scan.
	DefaultScanInterval = time.Second
)

// TurnFunc runs one conversation turn for a chat. It is invoked off the
// scan loop so a slow model call never blocks other chats.
type TurnFunc func(ctx context.Context, chatID int64)

// chatState tracks the newest observed message of one chat.
type chatState struct {
	// seq increments on every observed message; handledSeq is the seq the
	// last completed turn saw. seq > handledSeq means there is unhandled
	// input.
	seq        uint64
	handledSeq uint64
	lastAt     time.Time
	fromAgent  bool
	running    bool
}

// ResponseScheduler debounces bursts: a chat gets exactly one turn per
// batch of messages, once the chat has been quiet long enough. Mutual
// exclusion is scoped per chat id; turns for different chats run
// concurrently.
type ResponseScheduler struct {
	quiet    time.Duration
	interval time.Duration
	turn     TurnFunc

	cron  *cron.Cron
	chats map[int64]*chatState
	mu    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewResponseScheduler creates a response scheduler that triggers turns via
// the given TurnFunc.
func NewResponseScheduler(quiet, interval time.Duration, turn TurnFunc, logger *slog.Logger) *ResponseScheduler {
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseScheduler{
		quiet:    quiet,
		interval: interval,
		turn:     turn,
		chats:    make(map[int64]*chatState),
		logger:   logger.With("component", "response_scheduler"),
	}
}

// Observe records chat activity. Called on every appended message, both
// inbound and agent-authored.
func (s *ResponseScheduler) Observe(chatID int64, fromAgent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.chats[chatID]
	if !ok {
		st = &chatState{}
		s.chats[chatID] = st
	}
	st.seq++
	st.lastAt = time.Now()
	st.fromAgent = fromAgent
}

// Start begins the periodic scan.
func (s *ResponseScheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every "+s.interval.String(), s.scan); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info("response scheduler started",
		"quiet_window", s.quiet.String(),
		"scan_interval", s.interval.String(),
	)
	return nil
}

// Stop halts the scan loop. In-flight turns finish on their own.
func (s *ResponseScheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("response scheduler stopped")
}

// scan examines every tracked chat and triggers at most one turn per chat.
func (s *ResponseScheduler) scan() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for chatID, st := range s.chats {
		if st.running || st.fromAgent || st.seq == st.handledSeq {
			continue
		}
		if now.Sub(st.lastAt) < s.quiet {
			continue
		}
		st.running = true
		go s.runTurn(chatID, st.seq)
	}
}

// runTurn executes one turn and marks the observed batch handled, whether
// the turn succeeded or not. A message that arrived mid-turn bumps seq past
// the recorded value and re-arms the chat.
func (s *ResponseScheduler) runTurn(chatID int64, seq uint64) {
	defer func() {
		s.mu.Lock()
		st := s.chats[chatID]
		st.running = false
		if st.handledSeq < seq {
			st.handledSeq = seq
		}
		s.mu.Unlock()
	}()

	s.logger.Debug("triggering turn", "chat_id", chatID)
	s.turn(s.ctx, chatID)
}
