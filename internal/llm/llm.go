package llm

import (
	"context"
	"encoding/json"

	"recipe-assistant/internal/conversation"
	"recipe-assistant/internal/shared"
)

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator produces a single completion for a prompt. Implementations used by
// the query planner are configured to answer with JSON only.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// EmbeddingGenerator is an interface for generating vector embeddings from text.
// Implementations must return an error rather than an empty or zero vector.
type EmbeddingGenerator interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ToolDeclaration describes a callable tool to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	// Parameters is a JSON schema document for the tool input.
	Parameters json.RawMessage
}

// ChatRequest is one generation step over the full conversation so far.
type ChatRequest struct {
	System string
	Turns  []conversation.Turn
	Tools  []ToolDeclaration
}

// ChatStep is what the model produced in one step: text and tool-invocation parts.
type ChatStep struct {
	Parts []conversation.Part
	Usage shared.TokenUsage
}

// Invocations returns the tool invocations of the step in order.
func (s ChatStep) Invocations() []conversation.ToolInvocation {
	var out []conversation.ToolInvocation
	for _, p := range s.Parts {
		if p.Kind == conversation.PartToolInvocation {
			out = append(out, *p.Invocation)
		}
	}
	return out
}

// ChatModel runs one streamed generation step with tool calling.
// onText is called for every text chunk as it arrives; an error from onText aborts the step.
type ChatModel interface {
	StreamStep(ctx context.Context, req ChatRequest, onText func(chunk string) error) (ChatStep, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}
