package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"recipe-assistant/internal/config"
	"recipe-assistant/internal/conversation"
	"recipe-assistant/internal/shared"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient implements TextGenerator, EmbeddingGenerator and ChatModel on the Gemini API.
type GeminiClient struct {
	client         *genai.Client
	chatModel      string
	plannerModel   string
	embeddingModel string
	responseSchema *genai.Schema
}

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient) error

// WithResponseSchema constrains GenerateContent output to the given JSON schema.
func WithResponseSchema(schema json.RawMessage) GeminiOption {
	return func(c *GeminiClient) error {
		s, err := SchemaFromJSON(schema)
		if err != nil {
			return fmt.Errorf("failed to convert response schema: %w", err)
		}
		c.responseSchema = s
		return nil
	}
}

// NewGeminiClient creates a new Gemini API client.
func NewGeminiClient(ctx context.Context, cfg *config.Config, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c := &GeminiClient{
		client:         client,
		chatModel:      cfg.ChatModel,
		plannerModel:   cfg.PlannerModel,
		embeddingModel: cfg.EmbeddingModel,
	}
	if cfg.UseGroqPlanner() {
		c.plannerModel = config.DefaultGeminiPlannerModel
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			client.Close()
			return nil, err
		}
	}
	return c, nil
}

// GenerateContent asks the planner model for a JSON answer to prompt.
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	model := c.client.GenerativeModel(c.plannerModel)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"
	if c.responseSchema != nil {
		model.ResponseSchema = c.responseSchema
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ContentResponse{}, fmt.Errorf("no content generated")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return ContentResponse{}, fmt.Errorf("generated content is not text")
	}

	return ContentResponse{
		Content: sb.String(),
		Usage:   usageFrom(resp.UsageMetadata, c.plannerModel),
	}, nil
}

// GenerateEmbedding embeds text with the configured embedding model.
func (c *GeminiClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	em := c.client.EmbeddingModel(c.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return res.Embedding.Values, nil
}

// StreamStep runs one chat generation with the declared tools, streaming text through onText.
func (c *GeminiClient) StreamStep(ctx context.Context, req ChatRequest, onText func(string) error) (ChatStep, error) {
	model := c.client.GenerativeModel(c.chatModel)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			params, err := SchemaFromJSON(t.Parameters)
			if err != nil {
				return ChatStep{}, fmt.Errorf("failed to convert schema for tool %s: %w", t.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents, err := toGeminiContents(req.Turns)
	if err != nil {
		return ChatStep{}, err
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return ChatStep{}, fmt.Errorf("conversation must end with user content, got %q", last.Role)
	}

	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	iter := cs.SendMessageStream(ctx, last.Parts...)

	var (
		step ChatStep
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			step.Parts = append(step.Parts, conversation.TextPart(text.String()))
			text.Reset()
		}
	}

	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return ChatStep{}, fmt.Errorf("failed to stream content: %w", err)
		}
		if resp.UsageMetadata != nil {
			step.Usage = usageFrom(resp.UsageMetadata, c.chatModel)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				if p == "" {
					continue
				}
				text.WriteString(string(p))
				if err := onText(string(p)); err != nil {
					return ChatStep{}, err
				}
			case genai.FunctionCall:
				flush()
				args, err := json.Marshal(p.Args)
				if err != nil {
					return ChatStep{}, fmt.Errorf("failed to marshal arguments of %s: %w", p.Name, err)
				}
				step.Parts = append(step.Parts, conversation.InvocationPart(conversation.ToolInvocation{
					ID:    uuid.NewString(),
					Name:  p.Name,
					Input: args,
				}))
			}
		}
	}
	flush()

	return step, nil
}

// Close closes the underlying Gemini client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// toGeminiContents flattens turns into Gemini contents. Within an assistant turn,
// text and calls belong to the model and tool results are sent back as user content.
func toGeminiContents(turns []conversation.Turn) ([]*genai.Content, error) {
	var contents []*genai.Content
	push := func(role string, part genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{part}})
	}

	for _, turn := range turns {
		for _, p := range turn.Parts {
			switch p.Kind {
			case conversation.PartText:
				if p.Text == "" {
					continue
				}
				role := "user"
				if turn.Role == conversation.RoleAssistant {
					role = "model"
				}
				push(role, genai.Text(p.Text))
			case conversation.PartToolInvocation:
				args := map[string]any{}
				if len(p.Invocation.Input) > 0 {
					if err := json.Unmarshal(p.Invocation.Input, &args); err != nil {
						return nil, fmt.Errorf("invalid input for %s: %w", p.Invocation.Name, err)
					}
				}
				push("model", genai.FunctionCall{Name: p.Invocation.Name, Args: args})
			case conversation.PartToolResult:
				push("user", genai.FunctionResponse{Name: p.Result.Name, Response: responseMap(p.Result.Output)})
			}
		}
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("conversation has no content")
	}
	return contents, nil
}

func responseMap(raw json.RawMessage) map[string]any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"result": string(raw)}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": v}
}

func usageFrom(meta *genai.UsageMetadata, model string) shared.TokenUsage {
	if meta == nil {
		return shared.TokenUsage{Model: model}
	}
	return shared.TokenUsage{
		PromptTokens:     int(meta.PromptTokenCount),
		CompletionTokens: int(meta.CandidatesTokenCount),
		TotalTokens:      int(meta.TotalTokenCount),
		Model:            model,
	}
}

// SchemaFromJSON converts the subset of JSON schema Gemini understands
// (type, description, enum, properties, required, items) into a genai.Schema.
// A type list containing "null" marks the schema nullable.
func SchemaFromJSON(raw json.RawMessage) (*genai.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return schemaFromMap(doc)
}

func schemaFromMap(doc map[string]any) (*genai.Schema, error) {
	s := &genai.Schema{}

	var typeName string
	switch t := doc["type"].(type) {
	case string:
		typeName = t
	case []any:
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				s.Nullable = true
			} else if typeName == "" {
				typeName = name
			}
		}
	}
	switch typeName {
	case "object":
		s.Type = genai.TypeObject
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	default:
		return nil, fmt.Errorf("unsupported schema type %q", typeName)
	}

	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := doc["enum"].([]any); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
		if len(s.Enum) > 0 {
			s.Format = "enum"
		}
	}
	if req, ok := doc["required"].([]any); ok {
		for _, v := range req {
			if str, ok := v.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %s is not an object", name)
			}
			child, err := schemaFromMap(m)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			s.Properties[name] = child
		}
	}
	if items, ok := doc["items"].(map[string]any); ok {
		child, err := schemaFromMap(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = child
	}
	return s, nil
}
