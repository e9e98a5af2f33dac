// Package agent implements the conversation turn state machine: call the
// model with the assembled context, run a bounded tool-execution loop when
// the model requests it, and classify the terminal response as a reply or
// deliberate silence.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/songmeo/ButlerDuck/pkg/butler/llm"
	"github.com/songmeo/ButlerDuck/pkg/butler/tools"
)

const (
	// DefaultMaxToolRounds is the hard cap on model→tool→model cycles in a
	// single turn. An adversarial tool chain would otherwise loop forever.
	DefaultMaxToolRounds = 5

	// DefaultCallTimeout bounds a single model call within the turn.
	DefaultCallTimeout = 60 * time.Second

	// toolApology is what the user sees when the model requested a tool the
	// registry does not know.
	toolApology = "There is a problem with our tools! Please try again later."

	// budgetExceededResult is fed back to the model once the tool round cap
	// is hit, so it wraps up instead of requesting more calls.
	budgetExceededResult = "Error: tool budget exceeded; answer with what you have"
)

// Model is the completion collaborator the agent drives.
type Model interface {
	Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error)
}

// ToolExecutor is the slice of the tool registry the agent needs.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, call llm.ToolCall) (string, error)
}

// OutcomeKind classifies how a turn ended.
type OutcomeKind int

const (
	// OutcomeReply carries text to persist as an agent message and deliver.
	OutcomeReply OutcomeKind = iota

	// OutcomeSilent means the model answered with the no-reply sentinel;
	// nothing is persisted or delivered.
	OutcomeSilent

	// OutcomeApology carries a user-facing failure text that is delivered
	// but never persisted; this attempt left no trace in the history.
	OutcomeApology
)

// Outcome is the single terminal result of a turn.
type Outcome struct {
	Kind OutcomeKind
	Text string
}

// Agent runs conversation turns for one bot identity.
type Agent struct {
	model         Model
	tools         ToolExecutor
	assembler     *Assembler
	botName       string
	maxToolRounds int
	callTimeout   time.Duration
	logger        *slog.Logger
}

// New creates a conversation agent.
func New(model Model, executor ToolExecutor, assembler *Assembler, botName string, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		model:         model,
		tools:         executor,
		assembler:     assembler,
		botName:       botName,
		maxToolRounds: DefaultMaxToolRounds,
		callTimeout:   DefaultCallTimeout,
		logger:        logger.With("component", "agent"),
	}
}

// SetMaxToolRounds overrides the tool round cap (values < 1 are ignored).
func (a *Agent) SetMaxToolRounds(n int) {
	if n >= 1 {
		a.maxToolRounds = n
	}
}

// Turn runs one complete conversation turn for a chat. It assembles the
// context, invokes the model, resolves tool rounds, and returns exactly one
// outcome. A model or storage failure aborts the turn with an error and
// leaves no partial state behind.
func (a *Agent) Turn(ctx context.Context, chatID int64) (Outcome, error) {
	messages, err := a.assembler.Build(ctx, chatID)
	if err != nil {
		return Outcome{}, err
	}

	defs := a.tools.Definitions()

	resp, err := a.complete(ctx, messages, defs)
	if err != nil {
		return Outcome{}, fmt.Errorf("agent: model call: %w", err)
	}

	for round := 1; len(resp.ToolCalls) > 0; round++ {
		assistantMsg := llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}

		if round > a.maxToolRounds {
			// Budget exhausted: answer every pending call with a terminal
			// failure and force a final text by withholding the tools.
			a.logger.Warn("tool budget exceeded", "chat_id", chatID, "rounds", round-1)
			messages = a.truncated(assistantMsg, budgetResults(resp.ToolCalls))
			resp, err = a.complete(ctx, messages, nil)
			if err != nil {
				return Outcome{}, fmt.Errorf("agent: final model call: %w", err)
			}
			break
		}

		results := make([]llm.Message, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			content, err := a.tools.Execute(ctx, call)
			if errors.Is(err, tools.ErrUnknownTool) {
				a.logger.Error("model requested unknown tool",
					"chat_id", chatID,
					"tool", call.Function.Name,
				)
				return Outcome{Kind: OutcomeApology, Text: toolApology}, nil
			}
			if err != nil {
				return Outcome{}, fmt.Errorf("agent: tool %s: %w", call.Function.Name, err)
			}
			results = append(results, llm.ToolResultMessage(call.ID, content))
		}

		// Deliberate truncation: the next call sees only the assistant
		// tool-call message and its results, not the original history.
		// This bounds prompt growth across tool rounds.
		messages = a.truncated(assistantMsg, results)

		resp, err = a.complete(ctx, messages, defs)
		if err != nil {
			return Outcome{}, fmt.Errorf("agent: model call after tool round %d: %w", round, err)
		}
	}

	text := strings.TrimPrefix(resp.Content, fmt.Sprintf("%s (0): ", a.botName))
	if text == NoReplyToken {
		a.logger.Info("the bot has nothing to say", "chat_id", chatID)
		return Outcome{Kind: OutcomeSilent}, nil
	}
	return Outcome{Kind: OutcomeReply, Text: text}, nil
}

// complete runs one model call under the per-call timeout.
func (a *Agent) complete(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	return a.model.Complete(callCtx, messages, defs)
}

// truncated builds the tool-round prompt: assistant message plus results.
func (a *Agent) truncated(assistant llm.Message, results []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(results)+1)
	out = append(out, assistant)
	out = append(out, results...)
	return out
}

// budgetResults answers every pending tool call with the terminal
// budget-exceeded result.
func budgetResults(calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))
	for i, call := range calls {
		results[i] = llm.ToolResultMessage(call.ID, budgetExceededResult)
	}
	return results
}
