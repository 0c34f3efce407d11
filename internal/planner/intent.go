package planner

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"recipe-assistant/internal/recipe"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed intent_schema.json
var intentSchemaBytes []byte

var (
	intentSchemaOnce     sync.Once
	intentSchemaCompiled *jsonschema.Schema
	intentSchemaErr      error
)

type Mode string

const (
	ModeStructured Mode = "structured"
	ModeSemantic   Mode = "semantic"
	ModeHybrid     Mode = "hybrid"
)

// RetrievalIntent describes how a single search request should be executed.
// It is built fresh for every request and never persisted.
type RetrievalIntent struct {
	Filters       recipe.Filters `json:"filters"`
	SemanticQuery *string        `json:"semantic_query"`
	Mode          Mode           `json:"mode"`
}

// NewStructured builds a filter-only intent.
func NewStructured(filters recipe.Filters) (RetrievalIntent, error) {
	i := RetrievalIntent{Filters: filters, Mode: ModeStructured}
	return i, i.Validate()
}

// NewSemantic builds a similarity-only intent.
func NewSemantic(query string) (RetrievalIntent, error) {
	i := RetrievalIntent{SemanticQuery: &query, Mode: ModeSemantic}
	return i, i.Validate()
}

// NewHybrid builds an intent that filters and ranks by similarity.
func NewHybrid(query string, filters recipe.Filters) (RetrievalIntent, error) {
	i := RetrievalIntent{Filters: filters, SemanticQuery: &query, Mode: ModeHybrid}
	return i, i.Validate()
}

// Query returns the semantic query or an empty string.
func (i RetrievalIntent) Query() string {
	if i.SemanticQuery == nil {
		return ""
	}
	return *i.SemanticQuery
}

// Validate enforces the mode and semantic query pairing and the filter ranges.
func (i RetrievalIntent) Validate() error {
	switch i.Mode {
	case ModeStructured:
		if i.SemanticQuery != nil {
			return fmt.Errorf("structured intent must not carry a semantic query")
		}
	case ModeSemantic, ModeHybrid:
		if i.SemanticQuery == nil || strings.TrimSpace(*i.SemanticQuery) == "" {
			return fmt.Errorf("%s intent needs a semantic query", i.Mode)
		}
	default:
		return fmt.Errorf("unknown mode %q", i.Mode)
	}
	return i.Filters.Validate()
}

// IntentSchema returns the JSON schema model output is validated against.
func IntentSchema() json.RawMessage {
	return append(json.RawMessage(nil), intentSchemaBytes...)
}

// ValidateIntentDocument checks raw JSON against the intent schema.
func ValidateIntentDocument(data []byte) error {
	intentSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("intent.json", bytes.NewReader(intentSchemaBytes)); err != nil {
			intentSchemaErr = fmt.Errorf("add intent schema: %w", err)
			return
		}
		intentSchemaCompiled, intentSchemaErr = compiler.Compile("intent.json")
	})
	if intentSchemaErr != nil {
		return intentSchemaErr
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("unmarshal intent json: %w", err)
	}
	return intentSchemaCompiled.Validate(payload)
}
