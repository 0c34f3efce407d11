package agent

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"recipe-assistant/internal/conversation"
	"recipe-assistant/internal/inventory"
	"recipe-assistant/internal/llm"
	"recipe-assistant/internal/shared"

	"golang.org/x/sync/errgroup"
)

//go:embed system_prompt.md
var systemPrompt string

var systemTemplate = template.Must(template.New("system").Parse(systemPrompt))

const (
	DefaultMaxSteps = 5
	agentName       = "ChatAgent"
)

// errDisconnected marks a failed emit. The caller is gone, which counts as cancellation.
var errDisconnected = errors.New("event consumer disconnected")

// ToolInvoker is the tool side of the loop, e.g. *tools.Registry.
type ToolInvoker interface {
	Declarations() []llm.ToolDeclaration
	Invoke(ctx context.Context, inv conversation.ToolInvocation) conversation.ToolResult
}

// InventoryReader provides the inventory rendered into the instructions.
type InventoryReader interface {
	List(ctx context.Context) []inventory.Item
}

// Observer receives one call per finished run.
type Observer interface {
	ObserveRun(reason string, steps int, latency time.Duration)
}

// Result summarises one run.
type Result struct {
	Steps  int
	Finish FinishReason
	// States is the sequence of states visited, ending in StateDone.
	States []State
	Usage  shared.TokenUsage
	// Turn is the assistant turn appended to the conversation.
	Turn conversation.Turn
}

// Text is the final answer text of the run.
func (r Result) Text() string {
	return r.Turn.Text()
}

// Loop runs the bounded generate, call tools, feed back cycle for one request at a time.
// It holds no per-request state and can serve concurrent requests.
type Loop struct {
	model       llm.ChatModel
	tools       ToolInvoker
	shopping    InventoryReader
	pantry      InventoryReader
	maxSteps    int
	maxParallel int
	location    string
	now         func() time.Time
	recorder    shared.UsageRecorder
	observer    Observer
	log         *log.Logger
}

type Option func(*Loop)

// WithMaxSteps bounds the number of generation steps per request.
func WithMaxSteps(n int) Option {
	return func(l *Loop) { l.maxSteps = n }
}

// WithMaxParallelTools limits concurrent tool executions within a step. Zero means no limit.
func WithMaxParallelTools(n int) Option {
	return func(l *Loop) { l.maxParallel = n }
}

func WithInventories(shopping, pantry InventoryReader) Option {
	return func(l *Loop) {
		l.shopping = shopping
		l.pantry = pantry
	}
}

func WithLocation(location string) Option {
	return func(l *Loop) { l.location = location }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

func WithUsageRecorder(r shared.UsageRecorder) Option {
	return func(l *Loop) { l.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observer = o }
}

func WithLogger(logger *log.Logger) Option {
	return func(l *Loop) { l.log = logger }
}

// NewLoop creates a new Loop.
func NewLoop(model llm.ChatModel, tools ToolInvoker, opts ...Option) *Loop {
	l := &Loop{
		model:    model,
		tools:    tools,
		maxSteps: DefaultMaxSteps,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxSteps <= 0 {
		l.maxSteps = DefaultMaxSteps
	}
	if l.log == nil {
		l.log = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	return l
}

// run is the state of one Run call.
type run struct {
	loop   *Loop
	ctx    context.Context
	emit   func(Event) error
	result Result
	gone   bool
}

func (r *run) enter(s State) {
	r.result.States = append(r.result.States, s)
}

// send emits ev unless the consumer already failed once.
func (r *run) send(ev Event) error {
	if r.gone {
		return errDisconnected
	}
	if err := r.emit(ev); err != nil {
		r.gone = true
		r.loop.log.Printf("Event consumer failed, treating as disconnect: %v", err)
		return errDisconnected
	}
	return nil
}

func (r *run) cancelled() bool {
	return r.gone || r.ctx.Err() != nil
}

// Run answers the last user turn of conv. Text is streamed through emit as it is
// generated; tool invocations and results are emitted as discrete events. The
// assistant turn is appended to conv before Run returns, and a finish event is
// always the last event. Run only returns an error when the conversation is
// invalid or the model fails; reaching the step bound is a normal finish.
func (l *Loop) Run(ctx context.Context, conv *conversation.Conversation, emit func(Event) error) (Result, error) {
	start := time.Now()
	r := &run{loop: l, ctx: ctx, emit: emit}

	reason, err := l.run(r, conv)
	r.result.Finish = reason
	r.enter(StateDone)
	if len(r.result.Turn.Parts) > 0 {
		conv.Append(r.result.Turn)
	}
	_ = r.send(Event{Type: EventFinish, Step: r.result.Steps, Finish: reason})

	if l.observer != nil {
		l.observer.ObserveRun(string(reason), r.result.Steps, time.Since(start))
	}
	l.log.Printf("Run finished: reason=%s steps=%d tokens=%d", reason, r.result.Steps, r.result.Usage.TotalTokens)
	return r.result, err
}

func (l *Loop) run(r *run, conv *conversation.Conversation) (FinishReason, error) {
	if err := conv.Validate(); err != nil {
		return FinishError, fmt.Errorf("invalid conversation: %w", err)
	}

	system, err := l.instructions(r.ctx)
	if err != nil {
		return FinishError, err
	}

	turn := &r.result.Turn
	turn.Role = conversation.RoleAssistant
	history := conv.Turns[:len(conv.Turns):len(conv.Turns)]
	req := llm.ChatRequest{System: system, Tools: l.tools.Declarations()}

	for {
		if r.cancelled() {
			return FinishCancelled, nil
		}

		r.result.Steps++
		step := r.result.Steps
		r.enter(StateGenerating)

		req.Turns = history
		if len(turn.Parts) > 0 {
			req.Turns = append(history, *turn)
		}

		var streamed strings.Builder
		stepStart := time.Now()
		out, err := l.model.StreamStep(r.ctx, req, func(chunk string) error {
			streamed.WriteString(chunk)
			return r.send(Event{Type: EventTextDelta, Step: step, Text: chunk})
		})
		if err != nil {
			// Keep what the user already saw.
			if streamed.Len() > 0 {
				turn.Parts = append(turn.Parts, conversation.TextPart(streamed.String()))
			}
			if r.cancelled() || errors.Is(err, errDisconnected) {
				return FinishCancelled, nil
			}
			return FinishError, fmt.Errorf("failed to generate step %d: %w", step, err)
		}
		r.result.Usage.Add(out.Usage)
		l.record(out.Usage, time.Since(stepStart))

		invocations := out.Invocations()
		if len(invocations) == 0 {
			turn.Parts = append(turn.Parts, out.Parts...)
			return FinishCompleted, nil
		}

		r.enter(StateAwaitingTool)
		for i := range invocations {
			if err := r.send(Event{Type: EventToolInvocation, Step: step, Invocation: &invocations[i]}); err != nil {
				turn.Parts = append(turn.Parts, textParts(out.Parts)...)
				return FinishCancelled, nil
			}
		}

		r.enter(StateToolExecuting)
		results := l.executeTools(r.ctx, invocations)

		if r.cancelled() {
			// Tools that started have finished, but their results are not kept.
			turn.Parts = append(turn.Parts, textParts(out.Parts)...)
			return FinishCancelled, nil
		}
		for i := range results {
			if err := r.send(Event{Type: EventToolResult, Step: step, Result: &results[i]}); err != nil {
				turn.Parts = append(turn.Parts, textParts(out.Parts)...)
				return FinishCancelled, nil
			}
		}

		turn.Parts = append(turn.Parts, out.Parts...)
		for _, res := range results {
			turn.Parts = append(turn.Parts, conversation.ResultPart(res))
		}

		if step >= l.maxSteps {
			return FinishStepLimit, nil
		}
	}
}

// executeTools runs the invocations of one step concurrently and waits for all of
// them. Started tools run to completion even if ctx is cancelled; tools that have
// not started yet when ctx is cancelled are skipped.
func (l *Loop) executeTools(ctx context.Context, invocations []conversation.ToolInvocation) []conversation.ToolResult {
	results := make([]conversation.ToolResult, len(invocations))
	toolCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	if l.maxParallel > 0 {
		g.SetLimit(l.maxParallel)
	}
	for i, inv := range invocations {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = conversation.ToolResult{InvocationID: inv.ID, Name: inv.Name, IsError: true,
					Output: []byte(`{"error":"cancelled"}`)}
				return nil
			}
			results[i] = l.tools.Invoke(toolCtx, inv)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type systemPromptData struct {
	Now          string
	Location     string
	ShoppingList string
	Pantry       string
}

// instructions renders the system prompt. The inventories are read once per request.
func (l *Loop) instructions(ctx context.Context) (string, error) {
	data := systemPromptData{
		Now:          l.now().Format("Monday, 2 January 2006 15:04 MST"),
		Location:     l.location,
		ShoppingList: "(not available)",
		Pantry:       "(not available)",
	}
	if data.Location == "" {
		data.Location = "unknown"
	}
	if l.shopping != nil {
		data.ShoppingList = inventory.FormatList(l.shopping.List(ctx))
	}
	if l.pantry != nil {
		data.Pantry = inventory.FormatList(l.pantry.List(ctx))
	}

	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return buf.String(), nil
}

func (l *Loop) record(usage shared.TokenUsage, latency time.Duration) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordMeta(shared.AgentMeta{AgentName: agentName, Usage: usage, Latency: latency}); err != nil {
		l.log.Printf("Failed to record chat usage: %v", err)
	}
}

func textParts(parts []conversation.Part) []conversation.Part {
	var out []conversation.Part
	for _, p := range parts {
		if p.Kind == conversation.PartText {
			out = append(out, p)
		}
	}
	return out
}
