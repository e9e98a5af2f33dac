package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/songmeo/ButlerDuck/pkg/butler/llm"
	"github.com/songmeo/ButlerDuck/pkg/butler/store"
	"github.com/songmeo/ButlerDuck/pkg/butler/tools"
)

// fakeHistory serves canned history rows.
type fakeHistory struct {
	rows []store.HistoryRow
	err  error
}

func (f *fakeHistory) History(context.Context, int64, int) ([]store.HistoryRow, error) {
	return f.rows, f.err
}

// scriptedModel returns responses in order and records every request.
type scriptedModel struct {
	responses []*llm.Response
	requests  [][]llm.Message
	toolDefs  [][]llm.ToolDefinition
}

func (m *scriptedModel) Complete(_ context.Context, messages []llm.Message, defs []llm.ToolDefinition) (*llm.Response, error) {
	m.requests = append(m.requests, messages)
	m.toolDefs = append(m.toolDefs, defs)
	if len(m.requests) > len(m.responses) {
		return nil, fmt.Errorf("model called %d times, scripted %d", len(m.requests), len(m.responses))
	}
	return m.responses[len(m.requests)-1], nil
}

func newTestAgent(t *testing.T, model Model, reg *tools.Registry) *Agent {
	t.Helper()
	if reg == nil {
		reg = tools.NewRegistry(nil)
	}
	hist := &fakeHistory{rows: []store.HistoryRow{
		{UserID: 1, Username: "alice", Text: "bot, hello"},
	}}
	asm := NewAssembler(hist, "ButlerBot", nil)
	return New(model, reg, asm, "ButlerBot", nil)
}

func TestTurnSentinelYieldsSilent(t *testing.T) {
	model := &scriptedModel{responses: []*llm.Response{{Content: NoReplyToken}}}
	a := newTestAgent(t, model, nil)

	out, err := a.Turn(context.Background(), 1)
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if out.Kind != OutcomeSilent {
		t.Errorf("expected Silent, got %v (%q)", out.Kind, out.Text)
	}
}

func TestTurnSentinelWithPrefixYieldsSilent(t *testing.T) {
	model := &scriptedModel{responses: []*llm.Response{{Content: "ButlerBot (0): -"}}}
	a := newTestAgent(t, model, nil)

	out, err := a.Turn(context.Background(), 1)
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if out.Kind != OutcomeSilent {
		t.Errorf("expected Silent, got %v (%q)", out.Kind, out.Text)
	}
}

func TestTurnStripsSelfPrefix(t *testing.T) {
	model := &scriptedModel{responses: []*llm.Response{{Content: "ButlerBot (0): hello alice"}}}
	a := newTestAgent(t, model, nil)

	out, err := a.Turn(context.Background(), 1)
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if out.Kind != OutcomeReply || out.Text != "hello alice" {
		t.Errorf("expected stripped reply, got %v %q", out.Kind, out.Text)
	}
}

func TestTurnToolRoundTruncatesContext(t *testing.T) {
	reg := tools.NewRegistry(nil)
	def, handler := tools.NewEvaluate()
	if err := reg.Register(def, handler); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	call := llm.ToolCall{
		ID:   "call_1",
		Type: "function",
		Function: llm.FunctionCall{
			Name:      "evaluate",
			Arguments: `{"expression":"123 + 456"}`,
		},
	}
	model := &scriptedModel{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{call}},
		{Content: "The answer is 579."},
	}}
	a := newTestAgent(t, model, reg)

	out, err := a.Turn(context.Background(), 1)
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if out.Kind != OutcomeReply || out.Text != "The answer is 579." {
		t.Errorf("unexpected outcome: %v %q", out.Kind, out.Text)
	}

	if len(model.requests) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(model.requests))
	}
	// The second call carries only the assistant tool-call message and the
	// tool result, not the original history.
	second := model.requests[1]
	if len(second) != 2 {
		t.Fatalf("expected truncated context of 2 messages, got %d", len(second))
	}
	if second[0].Role != "assistant" || len(second[0].ToolCalls) != 1 {
		t.Errorf("first message should be the assistant tool call: %+v", second[0])
	}
	if second[1].Role != "tool" || second[1].ToolCallID != "call_1" {
		t.Errorf("second message should be the tool result: %+v", second[1])
	}
	if second[1].Content != "579" {
		t.Errorf("expected tool result 579, got %v", second[1].Content)
	}
}

func TestTurnUnknownToolYieldsApology(t *testing.T) {
	call := llm.ToolCall{
		ID:       "call_1",
		Function: llm.FunctionCall{Name: "rm_rf", Arguments: "{}"},
	}
	model := &scriptedModel{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{call}},
	}}
	a := newTestAgent(t, model, nil)

	out, err := a.Turn(context.Background(), 1)
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if out.Kind != OutcomeApology {
		t.Errorf("expected Apology, got %v", out.Kind)
	}
	if out.Text == "" {
		t.Error("apology should carry user-facing text")
	}
	if len(model.requests) != 1 {
		t.Errorf("model should not be called again after an unknown tool, got %d calls", len(model.requests))
	}
}

func TestTurnToolBudgetCap(t *testing.T) {
	reg := tools.NewRegistry(nil)
	def, handler := tools.NewEvaluate()
	if err := reg.Register(def, handler); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// The model requests a tool on every round until forced to stop.
	loopResp := func(id string) *llm.Response {
		return &llm.Response{ToolCalls: []llm.ToolCall{{
			ID:       id,
			Function: llm.FunctionCall{Name: "evaluate", Arguments: `{"expression":"1 + 1"}`},
		}}}
	}
	responses := []*llm.Response{}
	for i := 0; i < 6; i++ {
		responses = append(responses, loopResp(fmt.Sprintf("call_%d", i)))
	}
	responses = append(responses, &llm.Response{Content: "gave up counting"})
	model := &scriptedModel{responses: responses}

	a := newTestAgent(t, model, reg)
	out, err := a.Turn(context.Background(), 1)
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if out.Kind != OutcomeReply || out.Text != "gave up counting" {
		t.Errorf("unexpected outcome: %v %q", out.Kind, out.Text)
	}

	// 1 initial + 5 tool rounds + 1 forced final = 7 calls.
	if len(model.requests) != 7 {
		t.Fatalf("expected 7 model calls, got %d", len(model.requests))
	}
	// The forced final call must not offer tools.
	if len(model.toolDefs[6]) != 0 {
		t.Error("final call after budget exhaustion should carry no tool declarations")
	}
	// Its tool result must be the terminal budget message.
	final := model.requests[6]
	if len(final) != 2 || final[1].Content != budgetExceededResult {
		t.Errorf("expected budget-exceeded tool result, got %+v", final)
	}
}

func TestTurnModelErrorAborts(t *testing.T) {
	model := &scriptedModel{} // no scripted responses: first call errors
	a := newTestAgent(t, model, nil)

	if _, err := a.Turn(context.Background(), 1); err == nil {
		t.Fatal("expected turn to fail on model error")
	}
}
