package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"recipe-assistant/internal/conversation"
	"recipe-assistant/internal/inventory"
	"recipe-assistant/internal/llm"
	"recipe-assistant/internal/shared"
)

type mockStep struct {
	text  []string
	calls []string
	err   error
}

// MockChatModel replays a script of steps. Once the script is exhausted it
// repeats always, or answers with an empty step.
type MockChatModel struct {
	script   []mockStep
	always   *mockStep
	requests []llm.ChatRequest
}

func (m *MockChatModel) StreamStep(ctx context.Context, req llm.ChatRequest, onText func(string) error) (llm.ChatStep, error) {
	m.requests = append(m.requests, req)
	n := len(m.requests)

	var s mockStep
	if n <= len(m.script) {
		s = m.script[n-1]
	} else if m.always != nil {
		s = *m.always
	}

	var step llm.ChatStep
	for _, chunk := range s.text {
		if err := onText(chunk); err != nil {
			return llm.ChatStep{}, err
		}
	}
	if s.err != nil {
		return llm.ChatStep{}, s.err
	}
	if len(s.text) > 0 {
		step.Parts = append(step.Parts, conversation.TextPart(strings.Join(s.text, "")))
	}
	for i, name := range s.calls {
		step.Parts = append(step.Parts, conversation.InvocationPart(conversation.ToolInvocation{
			ID:    fmt.Sprintf("call-%d-%d", n, i),
			Name:  name,
			Input: json.RawMessage(`{"query":"soup"}`),
		}))
	}
	step.Usage = shared.TokenUsage{PromptTokens: 8, CompletionTokens: 2, TotalTokens: 10, Model: "mock"}
	return step, nil
}

type mockTools struct {
	mu     sync.Mutex
	calls  []string
	invoke func(ctx context.Context, inv conversation.ToolInvocation) conversation.ToolResult
}

func (m *mockTools) Declarations() []llm.ToolDeclaration {
	return []llm.ToolDeclaration{{Name: "search_recipes", Parameters: json.RawMessage(`{"type":"object"}`)}}
}

func (m *mockTools) Invoke(ctx context.Context, inv conversation.ToolInvocation) conversation.ToolResult {
	m.mu.Lock()
	m.calls = append(m.calls, inv.Name)
	m.mu.Unlock()
	if m.invoke != nil {
		return m.invoke(ctx, inv)
	}
	return conversation.ToolResult{InvocationID: inv.ID, Name: inv.Name, Output: json.RawMessage(`{"recipes":[]}`)}
}

type staticInventory []inventory.Item

func (s staticInventory) List(ctx context.Context) []inventory.Item { return s }

type mockRecorder struct {
	mu    sync.Mutex
	metas []shared.AgentMeta
}

func (m *mockRecorder) RecordMeta(meta shared.AgentMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas = append(m.metas, meta)
	return nil
}

type eventLog struct {
	events []Event
}

func (e *eventLog) emit(ev Event) error {
	e.events = append(e.events, ev)
	return nil
}

func (e *eventLog) types() string {
	var out []string
	for _, ev := range e.events {
		out = append(out, string(ev.Type))
	}
	return strings.Join(out, ",")
}

func quiet() Option {
	return WithLogger(log.New(io.Discard, "", 0))
}

func newConversation() *conversation.Conversation {
	return conversation.New(conversation.UserTurn("find me a soup"))
}

func TestRunCompletesWithoutTools(t *testing.T) {
	model := &MockChatModel{script: []mockStep{{text: []string{"Hello", ", cook!"}}}}
	tools := &mockTools{}
	rec := &mockRecorder{}
	conv := newConversation()
	events := &eventLog{}

	res, err := NewLoop(model, tools, WithUsageRecorder(rec), quiet()).Run(context.Background(), conv, events.emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Finish != FinishCompleted || res.Steps != 1 {
		t.Errorf("Expected completed after 1 step, got %s after %d", res.Finish, res.Steps)
	}
	if got := events.types(); got != "text-delta,text-delta,finish" {
		t.Errorf("Unexpected event sequence %s", got)
	}
	if res.Text() != "Hello, cook!" {
		t.Errorf("Unexpected final text %q", res.Text())
	}
	if len(conv.Turns) != 2 || conv.Turns[1].Role != conversation.RoleAssistant {
		t.Errorf("Expected assistant turn appended, got %+v", conv.Turns)
	}
	if len(rec.metas) != 1 || rec.metas[0].AgentName != "ChatAgent" {
		t.Errorf("Expected one ChatAgent usage record, got %+v", rec.metas)
	}
	if len(tools.calls) != 0 {
		t.Errorf("Expected no tool calls, got %v", tools.calls)
	}
}

func TestRunStopsAtStepLimit(t *testing.T) {
	model := &MockChatModel{always: &mockStep{calls: []string{"search_recipes"}}}
	tools := &mockTools{}
	conv := newConversation()

	res, err := NewLoop(model, tools, quiet()).Run(context.Background(), conv, func(Event) error { return nil })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Steps != 5 || len(model.requests) != 5 {
		t.Errorf("Expected 5 generation steps, got %d (%d model calls)", res.Steps, len(model.requests))
	}
	if res.Finish != FinishStepLimit {
		t.Errorf("Expected step-limit finish, got %s", res.Finish)
	}
	if last := res.States[len(res.States)-1]; last != StateDone {
		t.Errorf("Expected Done as final state, got %s", last)
	}
	if len(tools.calls) != 5 {
		t.Errorf("Expected the tools of every step to run, got %d calls", len(tools.calls))
	}
	if !res.Turn.Complete() {
		t.Error("Expected every invocation in the final turn to have a result")
	}
	if res.Usage.TotalTokens != 50 {
		t.Errorf("Expected usage summed over steps, got %d", res.Usage.TotalTokens)
	}
}

func TestRunCustomStepBound(t *testing.T) {
	model := &MockChatModel{always: &mockStep{calls: []string{"search_recipes"}}}
	res, _ := NewLoop(model, &mockTools{}, WithMaxSteps(2), quiet()).Run(context.Background(), newConversation(), func(Event) error { return nil })
	if res.Steps != 2 || res.Finish != FinishStepLimit {
		t.Errorf("Expected step-limit after 2 steps, got %s after %d", res.Finish, res.Steps)
	}
}

func TestRunFeedsToolResultsBack(t *testing.T) {
	model := &MockChatModel{script: []mockStep{
		{text: []string{"Let me look."}, calls: []string{"search_recipes"}},
		{text: []string{"Here are a few ideas."}},
	}}
	events := &eventLog{}
	conv := newConversation()

	res, err := NewLoop(model, &mockTools{}, quiet()).Run(context.Background(), conv, events.emit)
	if err != nil {
		t.Fatal(err)
	}
	if got := events.types(); got != "text-delta,tool-invocation,tool-result,text-delta,finish" {
		t.Errorf("Unexpected event sequence %s", got)
	}
	if res.Finish != FinishCompleted || res.Steps != 2 {
		t.Errorf("Expected completed after 2 steps, got %s after %d", res.Finish, res.Steps)
	}

	second := model.requests[1]
	last := second.Turns[len(second.Turns)-1]
	if last.Role != conversation.RoleAssistant || len(last.Parts) != 3 || last.Parts[2].Kind != conversation.PartToolResult {
		t.Errorf("Expected the tool result to be fed back, got %+v", last)
	}
	if last.Parts[2].Result.InvocationID != last.Parts[1].Invocation.ID {
		t.Error("Tool result is not correlated with its invocation")
	}
	if len(conv.Turns) != 2 || len(conv.Turns[1].Parts) != 4 {
		t.Errorf("Expected one assistant turn with 4 parts, got %+v", conv.Turns)
	}

	wantStates := []State{StateGenerating, StateAwaitingTool, StateToolExecuting, StateGenerating, StateDone}
	if fmt.Sprint(res.States) != fmt.Sprint(wantStates) {
		t.Errorf("Expected states %v, got %v", wantStates, res.States)
	}
}

func TestRunExecutesStepToolsConcurrently(t *testing.T) {
	model := &MockChatModel{script: []mockStep{
		{calls: []string{"manage_shopping_list", "manage_pantry"}},
		{text: []string{"Done."}},
	}}

	var arrived sync.WaitGroup
	arrived.Add(2)
	tools := &mockTools{invoke: func(ctx context.Context, inv conversation.ToolInvocation) conversation.ToolResult {
		arrived.Done()
		both := make(chan struct{})
		go func() {
			arrived.Wait()
			close(both)
		}()
		select {
		case <-both:
			return conversation.ToolResult{InvocationID: inv.ID, Name: inv.Name, Output: json.RawMessage(`{"items":[]}`)}
		case <-time.After(2 * time.Second):
			return conversation.ToolResult{InvocationID: inv.ID, Name: inv.Name, IsError: true, Output: json.RawMessage(`{"error":"timeout"}`)}
		}
	}}
	events := &eventLog{}

	res, err := NewLoop(model, tools, quiet()).Run(context.Background(), newConversation(), events.emit)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range res.Turn.Parts {
		if p.Kind == conversation.PartToolResult && p.Result.IsError {
			t.Fatalf("Tools of one step did not run concurrently: %s", p.Result.Output)
		}
	}
	if got := events.types(); got != "tool-invocation,tool-invocation,tool-result,tool-result,text-delta,finish" {
		t.Errorf("Expected results after the barrier, got %s", got)
	}
	if len(model.requests) != 2 || !res.Turn.Complete() {
		t.Errorf("Expected both results before the next step")
	}
}

func TestRunCancelledDuringTools(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := &MockChatModel{script: []mockStep{
		{text: []string{"Adding eggs."}, calls: []string{"manage_shopping_list"}},
		{text: []string{"never"}},
	}}
	var toolCtxErr error
	finished := false
	tools := &mockTools{invoke: func(toolCtx context.Context, inv conversation.ToolInvocation) conversation.ToolResult {
		cancel()
		time.Sleep(10 * time.Millisecond)
		toolCtxErr = toolCtx.Err()
		finished = true
		return conversation.ToolResult{InvocationID: inv.ID, Name: inv.Name, Output: json.RawMessage(`{"items":[]}`)}
	}}
	events := &eventLog{}
	conv := newConversation()

	res, err := NewLoop(model, tools, quiet()).Run(ctx, conv, events.emit)
	if err != nil {
		t.Fatal(err)
	}
	if res.Finish != FinishCancelled {
		t.Errorf("Expected cancelled, got %s", res.Finish)
	}
	if !finished || toolCtxErr != nil {
		t.Errorf("Expected the started tool to complete on an uncancelled context (err=%v)", toolCtxErr)
	}
	if len(model.requests) != 1 {
		t.Errorf("Expected no further generation, got %d model calls", len(model.requests))
	}
	if got := events.types(); got != "text-delta,tool-invocation,finish" {
		t.Errorf("Expected discarded results, got %s", got)
	}
	turn := conv.Turns[len(conv.Turns)-1]
	for _, p := range turn.Parts {
		if p.Kind != conversation.PartText {
			t.Errorf("Expected only text in the cancelled turn, got %s", p.Kind)
		}
	}
	if turn.Text() != "Adding eggs." {
		t.Errorf("Unexpected partial text %q", turn.Text())
	}
}

func TestRunEmitFailureCountsAsDisconnect(t *testing.T) {
	model := &MockChatModel{always: &mockStep{text: []string{"a", "b"}, calls: []string{"search_recipes"}}}
	tools := &mockTools{}
	calls := 0

	res, err := NewLoop(model, tools, quiet()).Run(context.Background(), newConversation(), func(Event) error {
		calls++
		return errors.New("broken pipe")
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Finish != FinishCancelled {
		t.Errorf("Expected cancelled, got %s", res.Finish)
	}
	if calls != 1 {
		t.Errorf("Expected no emits after the first failure, got %d", calls)
	}
	if len(tools.calls) != 0 {
		t.Errorf("Expected no tool execution after disconnect, got %v", tools.calls)
	}
	if res.Text() != "a" {
		t.Errorf("Expected the streamed prefix to be kept, got %q", res.Text())
	}
}

func TestRunModelError(t *testing.T) {
	model := &MockChatModel{script: []mockStep{{err: errors.New("503 overloaded")}}}
	events := &eventLog{}
	conv := newConversation()

	res, err := NewLoop(model, &mockTools{}, quiet()).Run(context.Background(), conv, events.emit)
	if err == nil {
		t.Fatal("Expected error")
	}
	if res.Finish != FinishError || events.types() != "finish" {
		t.Errorf("Expected a single error finish event, got %s / %s", res.Finish, events.types())
	}
	if len(conv.Turns) != 1 {
		t.Errorf("Expected no assistant turn for an empty failed step")
	}
}

func TestRunRejectsInvalidConversation(t *testing.T) {
	conv := conversation.New(conversation.UserTurn("hi"), conversation.Turn{Role: conversation.RoleAssistant, Parts: []conversation.Part{conversation.TextPart("hello")}})
	model := &MockChatModel{}
	_, err := NewLoop(model, &mockTools{}, quiet()).Run(context.Background(), conv, func(Event) error { return nil })
	if err == nil {
		t.Error("Expected error for a conversation ending with the assistant")
	}
	if len(model.requests) != 0 {
		t.Error("Expected no model call")
	}
}

func TestSystemInstructions(t *testing.T) {
	model := &MockChatModel{script: []mockStep{{calls: []string{"search_recipes"}}, {text: []string{"ok"}}}}
	milk := "2L"
	loop := NewLoop(model, &mockTools{},
		WithInventories(staticInventory{{Name: "Milk", Quantity: &milk}}, staticInventory{}),
		WithLocation("Germany"),
		WithClock(func() time.Time { return time.Date(2026, 10, 15, 18, 30, 0, 0, time.UTC) }),
		quiet(),
	)
	if _, err := loop.Run(context.Background(), newConversation(), func(Event) error { return nil }); err != nil {
		t.Fatal(err)
	}

	system := model.requests[0].System
	for _, want := range []string{
		"You are a helpful cooking assistant with access to the user's personal recipe book and shopping list.",
		"Thursday, 15 October 2026 18:30 UTC",
		"Location: Germany",
		"- Milk (2L)",
		"Do not list, repeat or describe the returned recipes",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("Expected system prompt to contain %q", want)
		}
	}
	if model.requests[1].System != system {
		t.Error("Expected instructions to be rendered once per request")
	}
	if len(model.requests[0].Tools) != 1 {
		t.Error("Expected tool declarations in the request")
	}
}
