// Package bot wires the Telegram transport, the store, the agent and the
// schedulers into a running butler.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/songmeo/ButlerDuck/pkg/butler/agent"
	"github.com/songmeo/ButlerDuck/pkg/butler/config"
	"github.com/songmeo/ButlerDuck/pkg/butler/llm"
	"github.com/songmeo/ButlerDuck/pkg/butler/schedule"
	"github.com/songmeo/ButlerDuck/pkg/butler/store"
	"github.com/songmeo/ButlerDuck/pkg/butler/telegram"
	"github.com/songmeo/ButlerDuck/pkg/butler/tools"
)

const (
	// dbRetryAttempts and dbRetryDelay cover slow database startup,
	// typically when the data directory lives on a container volume.
	dbRetryAttempts = 5
	dbRetryDelay    = 2 * time.Second
)

// Transport is the messaging surface the bot runs on.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Updates() <-chan telegram.Inbound
	SendText(ctx context.Context, chatID int64, text string, replyTo int64) error
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// Brain decides what, if anything, to say in a chat.
type Brain interface {
	Turn(ctx context.Context, chatID int64) (agent.Outcome, error)
}

// Bot is the assembled butler.
type Bot struct {
	name      string
	st        *store.Store
	transport Transport
	brain     Brain
	responses *schedule.ResponseScheduler
	reminders *schedule.ReminderScheduler
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Bot from configuration: opens the store, connects the
// LLM client, registers the tools and creates the schedulers.
func New(cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.OpenWithRetry(cfg.Database.Path, cfg.Database.ImageDir, cfg.Name,
		dbRetryAttempts, dbRetryDelay, logger)
	if err != nil {
		return nil, fmt.Errorf("bot: opening store: %w", err)
	}

	model := llm.New(cfg.API.BaseURL, cfg.API.APIKey, cfg.Model, logger)

	registry := tools.NewRegistry(logger)
	evalDef, evalHandler := tools.NewEvaluate()
	if err := registry.Register(evalDef, evalHandler); err != nil {
		st.Close()
		return nil, fmt.Errorf("bot: registering evaluate: %w", err)
	}
	remDef, remHandler := tools.NewSetReminder(st)
	if err := registry.Register(remDef, remHandler); err != nil {
		st.Close()
		return nil, fmt.Errorf("bot: registering set_reminder: %w", err)
	}

	assembler := agent.NewAssembler(st, cfg.Name, logger)
	brain := agent.New(model, registry, assembler, cfg.Name, logger)
	if cfg.Agent.MaxToolRounds > 0 {
		brain.SetMaxToolRounds(cfg.Agent.MaxToolRounds)
	}

	transport := telegram.New(cfg.Telegram, logger)

	b := &Bot{
		name:      cfg.Name,
		st:        st,
		transport: transport,
		brain:     brain,
		logger:    logger.With("component", "bot"),
	}
	b.responses = schedule.NewResponseScheduler(cfg.Scheduler.QuietWindow(),
		cfg.Scheduler.ScanInterval(), b.runTurn, logger)
	b.reminders = schedule.NewReminderScheduler(st, transport,
		cfg.Scheduler.ReminderInterval(), logger)

	return b, nil
}

// Start connects the transport and starts the schedulers and the
// inbound message loop.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.transport.Connect(b.ctx); err != nil {
		return fmt.Errorf("bot: connecting transport: %w", err)
	}
	b.responses.Start(b.ctx)
	b.reminders.Start(b.ctx)

	b.wg.Add(1)
	go b.loop()

	b.logger.Info("bot: started", "name", b.name)
	return nil
}

// Stop shuts everything down and closes the store.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.responses.Stop()
	b.reminders.Stop()
	_ = b.transport.Disconnect()
	b.wg.Wait()
	if err := b.st.Close(); err != nil {
		b.logger.Warn("bot: closing store", "error", err)
	}
	b.logger.Info("bot: stopped")
}

// loop consumes inbound messages until the context is cancelled.
func (b *Bot) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case in := <-b.transport.Updates():
			b.handleInbound(b.ctx, in)
		}
	}
}

// ---------- Inbound Handling ----------

// handleInbound persists an incoming message and marks its chat pending.
// Persistence always happens before any reply is considered, so the
// history a response is built from includes the message it answers.
func (b *Bot) handleInbound(ctx context.Context, in telegram.Inbound) {
	if reply, ok := b.commandReply(in); ok {
		if err := b.transport.SendText(ctx, in.ChatID, reply, in.MessageID); err != nil {
			b.logger.Warn("bot: command reply failed", "chat_id", in.ChatID, "error", err)
		}
		return
	}

	if err := b.st.EnsureUser(ctx, in.UserID, in.Username); err != nil {
		b.logger.Error("bot: ensure user", "user_id", in.UserID, "error", err)
		return
	}

	if in.PhotoFileID != "" {
		b.storePhoto(ctx, in)
	} else if _, err := b.st.AppendText(ctx, in.ChatID, in.UserID, in.MessageID, in.Text); err != nil {
		b.logger.Error("bot: append message", "chat_id", in.ChatID, "error", err)
		return
	}

	b.responses.Observe(in.ChatID, false)
}

// storePhoto downloads a photo, saves it and records it in the history.
// A failed download still keeps the caption so the conversation stays
// coherent.
func (b *Bot) storePhoto(ctx context.Context, in telegram.Inbound) {
	data, err := b.transport.FetchFile(ctx, in.PhotoFileID)
	if err != nil {
		b.logger.Warn("bot: photo download failed", "chat_id", in.ChatID, "error", err)
		if in.Text != "" {
			if _, err := b.st.AppendText(ctx, in.ChatID, in.UserID, in.MessageID, in.Text); err != nil {
				b.logger.Error("bot: append caption", "chat_id", in.ChatID, "error", err)
			}
		}
		return
	}

	imageID, err := b.st.StoreImage(ctx, data)
	if err != nil {
		b.logger.Error("bot: store image", "chat_id", in.ChatID, "error", err)
		return
	}
	if _, err := b.st.AppendImage(ctx, in.ChatID, in.UserID, in.MessageID, imageID); err != nil {
		b.logger.Error("bot: append image", "chat_id", in.ChatID, "error", err)
		return
	}
	if in.Text != "" {
		if _, err := b.st.AppendText(ctx, in.ChatID, in.UserID, in.MessageID, in.Text); err != nil {
			b.logger.Error("bot: append caption", "chat_id", in.ChatID, "error", err)
		}
	}
}

// commandReply answers /start and /help. Commands are answered directly
// and never enter the conversation history.
func (b *Bot) commandReply(in telegram.Inbound) (string, bool) {
	cmd := in.Text
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		cmd = cmd[:i]
	}
	// Commands may carry the bot name, e.g. /help@ButlerBot.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/start":
		return fmt.Sprintf("Hi %s!", in.Username), true
	case "/help":
		return "Help!", true
	}
	return "", false
}

// ---------- Responses ----------

// runTurn asks the brain for a response to a chat and delivers it.
// Replies are persisted before sending so the history never lags what
// was said.
func (b *Bot) runTurn(ctx context.Context, chatID int64) {
	outcome, err := b.brain.Turn(ctx, chatID)
	if err != nil {
		b.logger.Error("bot: turn failed", "chat_id", chatID, "error", err)
		return
	}

	switch outcome.Kind {
	case agent.OutcomeSilent:
		b.logger.Debug("bot: staying silent", "chat_id", chatID)

	case agent.OutcomeReply:
		if _, err := b.st.AppendText(ctx, chatID, store.AgentUserID, 0, outcome.Text); err != nil {
			b.logger.Error("bot: persisting reply", "chat_id", chatID, "error", err)
			return
		}
		b.responses.Observe(chatID, true)
		if err := b.transport.SendText(ctx, chatID, outcome.Text, 0); err != nil {
			b.logger.Warn("bot: sending reply", "chat_id", chatID, "error", err)
		}

	case agent.OutcomeApology:
		// Tooling broke; tell the chat but keep the apology out of
		// the history.
		if err := b.transport.SendText(ctx, chatID, outcome.Text, 0); err != nil {
			b.logger.Warn("bot: sending apology", "chat_id", chatID, "error", err)
		}
	}
}
