// Package agent – context.go builds the model-ready prompt from persisted
// chat history. The assembled context is deterministic: identical history
// always yields an identical message list.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/songmeo/ButlerDuck/pkg/butler/llm"
	"github.com/songmeo/ButlerDuck/pkg/butler/store"
)

// NoReplyToken is the reserved sentinel the model answers with when it has
// nothing to say. A terminal response equal to it produces no reply.
const NoReplyToken = "-"

// systemPromptFormat is the fixed system block. Filled with the bot name
// (three times) and the sentinel.
const systemPromptFormat = `Each message in the conversation below is prefixed with the username and their unique identifier, like this: "username (123456789): MESSAGE...". ` +
	`You play the role of the user called %s, or simply Bot; your username and unique identifier are %s and 0. ` +
	`You are observing the users' conversation and normally you do not interfere unless you are explicitly called by name (e.g., 'bot,' '%s,' etc.). ` +
	`Explicit mentions include cases where your name or identifier appears anywhere in the message. ` +
	`If you are not explicitly addressed, always respond with %s. ` +
	`When answering, use plain text only; don't use LaTeX or Markdown.`

// HistoryProvider is the slice of the chat store the assembler reads.
type HistoryProvider interface {
	History(ctx context.Context, chatID int64, limit int) ([]store.HistoryRow, error)
}

// Assembler turns stored history into role-tagged content blocks.
type Assembler struct {
	history HistoryProvider
	botName string
	limit   int
	logger  *slog.Logger
}

// NewAssembler creates a context assembler over the given history source.
func NewAssembler(history HistoryProvider, botName string, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		history: history,
		botName: botName,
		limit:   store.DefaultHistoryLimit,
		logger:  logger.With("component", "assembler"),
	}
}

// SystemPrompt returns the fixed system block for this bot.
func (a *Assembler) SystemPrompt() string {
	return fmt.Sprintf(systemPromptFormat, a.botName, a.botName, a.botName, NoReplyToken)
}

// Build assembles the full prompt for one chat: the system block followed by
// one message per history row, oldest first. Rows authored by the agent
// (user id 0) get role "assistant", everything else "user". Image rows
// become inline base64 blocks; unreadable image files are skipped with a
// warning rather than failing the whole turn.
func (a *Assembler) Build(ctx context.Context, chatID int64) ([]llm.Message, error) {
	rows, err := a.history.History(ctx, chatID, a.limit)
	if err != nil {
		return nil, fmt.Errorf("agent: loading history: %w", err)
	}

	messages := make([]llm.Message, 0, len(rows)+1)
	messages = append(messages, llm.TextMessage("system", a.SystemPrompt()))

	for _, row := range rows {
		role := "user"
		if row.UserID == store.AgentUserID {
			role = "assistant"
		}

		if row.ImagePath != "" {
			data, err := os.ReadFile(row.ImagePath)
			if err != nil {
				a.logger.Warn("skipping unreadable image",
					"chat_id", chatID,
					"path", row.ImagePath,
					"error", err,
				)
				continue
			}
			messages = append(messages, llm.ImageMessage(data))
			continue
		}

		messages = append(messages, llm.TextMessage(role,
			fmt.Sprintf("%s (%d): %s", row.Username, row.UserID, row.Text)))
	}

	return messages, nil
}
