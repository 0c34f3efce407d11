package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"recipe-assistant/internal/llm"
	"recipe-assistant/internal/planner"
	"recipe-assistant/internal/recipe"
)

// ErrEmbedding is returned when the semantic query could not be embedded.
// Search never falls back to filter-only results in that case.
var ErrEmbedding = errors.New("embedding generation failed")

// RecipeSearcher is the storage side of a hybrid search.
// A nil embedding means no similarity ranking.
type RecipeSearcher interface {
	HybridSearch(ctx context.Context, embedding []float32, filters recipe.Filters, limit int) ([]recipe.Match, error)
}

// Observer receives one call per executed search.
type Observer interface {
	ObserveSearch(mode string, results int, latency time.Duration, err error)
}

// Executor runs retrieval intents against a RecipeSearcher.
type Executor struct {
	embedder   llm.EmbeddingGenerator
	store      RecipeSearcher
	dimensions int
	observer   Observer
	log        *log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDimensions rejects embeddings whose length differs from n.
func WithDimensions(n int) Option {
	return func(e *Executor) { e.dimensions = n }
}

func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates a new Executor.
func NewExecutor(embedder llm.EmbeddingGenerator, store RecipeSearcher, opts ...Option) *Executor {
	e := &Executor{embedder: embedder, store: store}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return e
}

// Search returns at most limit matches for the intent. Storage failures degrade to an
// empty result; embedding failures are returned wrapped in ErrEmbedding.
func (e *Executor) Search(ctx context.Context, intent planner.RetrievalIntent, limit int) (matches []recipe.Match, err error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval intent: %w", err)
	}

	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveSearch(string(intent.Mode), len(matches), time.Since(start), err)
		}
	}()

	var embedding []float32
	if intent.SemanticQuery != nil {
		embedding, err = e.embed(ctx, *intent.SemanticQuery)
		if err != nil {
			return nil, err
		}
	}

	matches, err = e.store.HybridSearch(ctx, embedding, intent.Filters, limit)
	if err != nil {
		e.log.Printf("Hybrid search failed (mode=%s), returning no matches: %v", intent.Mode, err)
		return []recipe.Match{}, nil
	}
	if matches == nil {
		matches = []recipe.Match{}
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (e *Executor) embed(ctx context.Context, query string) ([]float32, error) {
	embedding, err := e.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(embedding) == 0 || llm.IsZeroVector(embedding) {
		return nil, fmt.Errorf("%w: empty or zero vector", ErrEmbedding)
	}
	if e.dimensions > 0 && len(embedding) != e.dimensions {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrEmbedding, e.dimensions, len(embedding))
	}
	return embedding, nil
}
