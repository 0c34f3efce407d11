package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"recipe-assistant/internal/conversation"
	"recipe-assistant/internal/llm"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidInput wraps schema validation failures of tool input.
var ErrInvalidInput = errors.New("invalid tool input")

// Tool is a callable tool exposed to the chat model.
type Tool struct {
	Name        string
	Description string
	// InputSchema is a JSON schema document. Input is validated against it before Execute runs.
	InputSchema json.RawMessage
	// FailureMessage is what the model sees when Execute fails. The cause is only logged.
	FailureMessage string
	Execute        func(ctx context.Context, input json.RawMessage) (any, error)
}

// Observer receives one call per tool invocation.
type Observer interface {
	ObserveToolCall(tool, outcome string, latency time.Duration)
}

// Invocation outcomes reported to the Observer.
const (
	OutcomeOK           = "ok"
	OutcomeInvalidInput = "invalid_input"
	OutcomeFailed       = "failed"
	OutcomeUnknownTool  = "unknown_tool"
)

type registeredTool struct {
	Tool
	schema *jsonschema.Schema
}

// Registry holds the tools of one agent. It is immutable after construction and
// safe for concurrent Invoke calls.
type Registry struct {
	tools    map[string]*registeredTool
	order    []string
	observer Observer
	log      *log.Logger
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry compiles every tool schema. Duplicate names, missing executors and
// schemas that do not compile are rejected.
func NewRegistry(tools []Tool, opts ...Option) (*Registry, error) {
	r := &Registry{tools: make(map[string]*registeredTool, len(tools))}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}

	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool name must be provided")
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name)
		}
		if t.Execute == nil {
			return nil, fmt.Errorf("tool %q has no executor", t.Name)
		}
		compiled, err := compileSchema(t.Name, t.InputSchema)
		if err != nil {
			return nil, err
		}
		if t.FailureMessage == "" {
			t.FailureMessage = t.Name + " failed"
		}
		r.tools[t.Name] = &registeredTool{Tool: t, schema: compiled}
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("tool %q has no input schema", name)
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return compiled, nil
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Declarations describes the tools to the chat model.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	out := make([]llm.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolDeclaration{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return out
}

// Validate checks input against the schema of the named tool.
func (r *Registry) Validate(name string, input json.RawMessage) error {
	t, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	return validateInput(t.schema, input)
}

// Invoke validates and executes one invocation. It never fails: unknown tools,
// invalid input and execution errors all become error results the model can read.
func (r *Registry) Invoke(ctx context.Context, inv conversation.ToolInvocation) conversation.ToolResult {
	start := time.Now()
	result, outcome := r.invoke(ctx, inv)
	if r.observer != nil {
		r.observer.ObserveToolCall(inv.Name, outcome, time.Since(start))
	}
	return result
}

func (r *Registry) invoke(ctx context.Context, inv conversation.ToolInvocation) (conversation.ToolResult, string) {
	t, ok := r.tools[inv.Name]
	if !ok {
		r.log.Printf("Model called unknown tool %q", inv.Name)
		return errorResult(inv, map[string]any{"error": "unknown tool"}), OutcomeUnknownTool
	}

	if err := validateInput(t.schema, inv.Input); err != nil {
		r.log.Printf("Rejected input for %s: %v", inv.Name, err)
		return errorResult(inv, map[string]any{"error": "invalid input", "details": validationDetails(err)}), OutcomeInvalidInput
	}

	input := inv.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	out, err := t.Execute(ctx, input)
	if err != nil {
		r.log.Printf("Tool %s failed: %v", inv.Name, err)
		return errorResult(inv, map[string]any{"error": t.FailureMessage}), OutcomeFailed
	}

	payload, err := json.Marshal(out)
	if err != nil {
		r.log.Printf("Failed to marshal %s output: %v", inv.Name, err)
		return errorResult(inv, map[string]any{"error": t.FailureMessage}), OutcomeFailed
	}
	return conversation.ToolResult{InvocationID: inv.ID, Name: inv.Name, Output: payload}, OutcomeOK
}

func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// validationDetails flattens schema errors into "location: message" lines.
func validationDetails(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var details []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			details = append(details, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return details
}

func errorResult(inv conversation.ToolInvocation, body map[string]any) conversation.ToolResult {
	payload, _ := json.Marshal(body)
	return conversation.ToolResult{InvocationID: inv.ID, Name: inv.Name, Output: payload, IsError: true}
}
