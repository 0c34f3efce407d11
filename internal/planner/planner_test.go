package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"recipe-assistant/internal/llm"
	"recipe-assistant/internal/recipe"
	"recipe-assistant/internal/shared"
)

type MockTextGenerator struct {
	Content    string
	Err        error
	LastPrompt string
}

func (m *MockTextGenerator) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	m.LastPrompt = prompt
	if m.Err != nil {
		return llm.ContentResponse{}, m.Err
	}
	return llm.ContentResponse{
		Content: m.Content,
		Usage:   shared.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120, Model: "mock"},
	}, nil
}

type mockRecorder struct {
	metas []shared.AgentMeta
}

func (m *mockRecorder) RecordMeta(meta shared.AgentMeta) error {
	m.metas = append(m.metas, meta)
	return nil
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantMode  Mode
		wantQuery string
		check     func(t *testing.T, f recipe.Filters)
	}{
		{
			name:     "Structured",
			content:  `{"filters": {"min_protein_grams": 25, "max_calories": null}, "semantic_query": null, "mode": "structured"}`,
			wantMode: ModeStructured,
			check: func(t *testing.T, f recipe.Filters) {
				if f.MinProteinGrams == nil || *f.MinProteinGrams != 25 {
					t.Errorf("Expected min protein 25, got %v", f.MinProteinGrams)
				}
				if f.MaxCalories != nil {
					t.Errorf("Expected no calorie filter, got %d", *f.MaxCalories)
				}
			},
		},
		{
			name:      "Semantic",
			content:   `{"filters": {}, "semantic_query": "something with carrots", "mode": "semantic"}`,
			wantMode:  ModeSemantic,
			wantQuery: "something with carrots",
		},
		{
			name:      "HybridInCodeFence",
			content:   "```json\n{\"filters\": {\"max_calories\": 600}, \"semantic_query\": \"quick Italian dinner\", \"mode\": \"hybrid\"}\n```",
			wantMode:  ModeHybrid,
			wantQuery: "quick Italian dinner",
			check: func(t *testing.T, f recipe.Filters) {
				if f.MaxCalories == nil || *f.MaxCalories != 600 {
					t.Errorf("Expected max calories 600, got %v", f.MaxCalories)
				}
				if f.MaxTotalTimeMinutes != nil {
					t.Errorf("Expected no time filter for 'quick', got %d", *f.MaxTotalTimeMinutes)
				}
			},
		},
		{
			name:     "FiltersOmitted",
			content:  `{"mode": "structured"}`,
			wantMode: ModeStructured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &MockTextGenerator{Content: tt.content}
			rec := &mockRecorder{}
			p := NewPlanner(gen, WithUsageRecorder(rec))

			intent, err := p.Plan(context.Background(), "a request")
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			if intent.Mode != tt.wantMode {
				t.Errorf("Expected mode %s, got %s", tt.wantMode, intent.Mode)
			}
			if intent.Query() != tt.wantQuery {
				t.Errorf("Expected query %q, got %q", tt.wantQuery, intent.Query())
			}
			if tt.check != nil {
				tt.check(t, intent.Filters)
			}
			if len(rec.metas) != 1 || rec.metas[0].AgentName != "QueryPlanner" || rec.metas[0].Usage.TotalTokens != 120 {
				t.Errorf("Expected one QueryPlanner usage record, got %+v", rec.metas)
			}
		})
	}
}

func TestPlanRejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"NotJSON", "I think you want pasta"},
		{"UnknownMode", `{"semantic_query": null, "mode": "fuzzy"}`},
		{"StructuredWithQuery", `{"filters": {"max_calories": 500}, "semantic_query": "pasta", "mode": "structured"}`},
		{"SemanticWithoutQuery", `{"filters": {}, "semantic_query": null, "mode": "semantic"}`},
		{"HybridBlankQuery", `{"filters": {"max_calories": 500}, "semantic_query": "   ", "mode": "hybrid"}`},
		{"NegativeCalories", `{"filters": {"max_calories": -5}, "semantic_query": null, "mode": "structured"}`},
		{"FractionalMinutes", `{"filters": {"max_total_time_minutes": 20.5}, "semantic_query": null, "mode": "structured"}`},
		{"UnknownField", `{"filters": {}, "semantic_query": null, "mode": "structured", "cuisine": "thai"}`},
		{"MissingMode", `{"filters": {}, "semantic_query": "soup"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(&MockTextGenerator{Content: tt.content})
			_, err := p.Plan(context.Background(), "a request")
			if !errors.Is(err, ErrPlanning) {
				t.Errorf("Expected ErrPlanning, got %v", err)
			}
		})
	}
}

func TestPlanErrors(t *testing.T) {
	t.Run("EmptyMessage", func(t *testing.T) {
		gen := &MockTextGenerator{Content: `{"mode": "structured"}`}
		_, err := NewPlanner(gen).Plan(context.Background(), "  ")
		if !errors.Is(err, ErrPlanning) {
			t.Errorf("Expected ErrPlanning, got %v", err)
		}
		if gen.LastPrompt != "" {
			t.Error("Expected no model call for an empty message")
		}
	})

	t.Run("ModelFailure", func(t *testing.T) {
		cause := errors.New("quota exceeded")
		_, err := NewPlanner(&MockTextGenerator{Err: cause}).Plan(context.Background(), "soup")
		if !errors.Is(err, ErrPlanning) || !errors.Is(err, cause) {
			t.Errorf("Expected ErrPlanning wrapping the cause, got %v", err)
		}
	})
}

func TestPlannerPrompt(t *testing.T) {
	gen := &MockTextGenerator{Content: `{"mode": "structured"}`}
	if _, err := NewPlanner(gen).Plan(context.Background(), `dinner for "two" & <kids>`); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gen.LastPrompt, `dinner for "two" & <kids>`) {
		t.Error("Expected the message to be embedded verbatim in the prompt")
	}
	if !strings.Contains(gen.LastPrompt, "prep time plus cook time") {
		t.Error("Expected the total time rule in the prompt")
	}
}

func TestIntentConstructors(t *testing.T) {
	cal := 600
	if _, err := NewHybrid("quick Italian dinner", recipe.Filters{MaxCalories: &cal}); err != nil {
		t.Errorf("Expected valid hybrid intent, got %v", err)
	}
	if _, err := NewSemantic(""); err == nil {
		t.Error("Expected error for empty semantic query")
	}
	zero := 0
	if _, err := NewStructured(recipe.Filters{MinProteinGrams: &zero}); err == nil {
		t.Error("Expected error for zero protein floor")
	}
	if err := (RetrievalIntent{Mode: ModeStructured}).Validate(); err != nil {
		t.Errorf("Expected filterless structured intent to be valid, got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  ```json{\"a\":1}```  ": `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
