package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"recipe-assistant/internal/llm"
	"recipe-assistant/internal/shared"
)

//go:embed planner_prompt.md
var plannerPrompt string

var plannerTemplate = template.Must(template.New("planner").Parse(plannerPrompt))

// ErrPlanning is returned when a message could not be turned into a valid intent.
var ErrPlanning = errors.New("query planning failed")

const agentName = "QueryPlanner"

type plannerPromptData struct {
	Message string
}

// Planner turns free-text search requests into validated retrieval intents.
type Planner struct {
	textGen  llm.TextGenerator
	recorder shared.UsageRecorder
	log      *log.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithUsageRecorder records token usage of every planning call.
func WithUsageRecorder(r shared.UsageRecorder) Option {
	return func(p *Planner) { p.recorder = r }
}

// WithLogger sets the planner logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Planner) { p.log = l }
}

// NewPlanner creates a new Planner instance.
func NewPlanner(textGen llm.TextGenerator, opts ...Option) *Planner {
	p := &Planner{textGen: textGen}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = log.Default()
	}
	return p
}

// Plan asks the model for a retrieval intent and validates it twice: against the
// JSON schema and against the mode rules of RetrievalIntent. Any failure wraps ErrPlanning.
func (p *Planner) Plan(ctx context.Context, message string) (RetrievalIntent, error) {
	if strings.TrimSpace(message) == "" {
		return RetrievalIntent{}, fmt.Errorf("%w: empty message", ErrPlanning)
	}

	start := time.Now()
	prompt, err := buildPlannerPrompt(plannerPromptData{Message: message})
	if err != nil {
		return RetrievalIntent{}, fmt.Errorf("%w: failed to build prompt: %w", ErrPlanning, err)
	}

	resp, err := p.textGen.GenerateContent(ctx, prompt)
	if err != nil {
		return RetrievalIntent{}, fmt.Errorf("%w: %w", ErrPlanning, err)
	}
	p.record(resp.Usage, time.Since(start))

	intent, err := ParseIntent(resp.Content)
	if err != nil {
		p.log.Printf("Planner output rejected: %v. Response: %s", err, resp.Content)
		return RetrievalIntent{}, err
	}
	return intent, nil
}

// ParseIntent decodes and validates a model answer.
func ParseIntent(content string) (RetrievalIntent, error) {
	raw := []byte(stripCodeFence(content))
	if err := ValidateIntentDocument(raw); err != nil {
		return RetrievalIntent{}, fmt.Errorf("%w: schema violation: %w", ErrPlanning, err)
	}

	var intent RetrievalIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return RetrievalIntent{}, fmt.Errorf("%w: failed to parse intent: %w", ErrPlanning, err)
	}
	if err := intent.Validate(); err != nil {
		return RetrievalIntent{}, fmt.Errorf("%w: %w", ErrPlanning, err)
	}
	return intent, nil
}

func (p *Planner) record(usage shared.TokenUsage, latency time.Duration) {
	if p.recorder == nil {
		return
	}
	meta := shared.AgentMeta{AgentName: agentName, Usage: usage, Latency: latency}
	if err := p.recorder.RecordMeta(meta); err != nil {
		p.log.Printf("Failed to record planner usage: %v", err)
	}
}

func buildPlannerPrompt(data plannerPromptData) (string, error) {
	var buf bytes.Buffer
	if err := plannerTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// stripCodeFence removes a surrounding ``` or ```json fence some models add in JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
