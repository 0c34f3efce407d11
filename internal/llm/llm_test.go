package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recipe-assistant/internal/config"
	"recipe-assistant/internal/conversation"

	"github.com/google/generative-ai-go/genai"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (m *countingEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedEmbeddingGenerator(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache", "embeddings.json")
	real := &countingEmbedder{}

	gen, err := NewCachedEmbeddingGenerator(real, path, "text-embedding-004")
	if err != nil {
		t.Fatalf("NewCachedEmbeddingGenerator failed: %v", err)
	}
	if _, err := gen.GenerateEmbedding(ctx, "soup"); err != nil {
		t.Fatal(err)
	}
	if _, err := gen.GenerateEmbedding(ctx, "soup"); err != nil {
		t.Fatal(err)
	}
	if real.calls != 1 {
		t.Errorf("Expected 1 call to the real generator, got %d", real.calls)
	}
	if err := gen.SaveCache(); err != nil {
		t.Fatalf("SaveCache failed: %v", err)
	}

	reloaded, err := NewCachedEmbeddingGenerator(&countingEmbedder{err: errors.New("offline")}, path, "text-embedding-004")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	emb, err := reloaded.GenerateEmbedding(ctx, "soup")
	if err != nil || len(emb) != 2 || emb[0] != 4 {
		t.Errorf("Expected cached embedding after reload, got %v (%v)", emb, err)
	}
	if _, err := reloaded.GenerateEmbedding(ctx, "stew"); err == nil {
		t.Error("Expected error from the real generator on cache miss")
	}
}

func TestCachedEmbeddingGeneratorModelChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "embeddings.json")

	gen, err := NewCachedEmbeddingGenerator(&countingEmbedder{}, path, "text-embedding-004")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gen.GenerateEmbedding(ctx, "soup"); err != nil {
		t.Fatal(err)
	}
	if err := gen.SaveCache(); err != nil {
		t.Fatal(err)
	}

	real := &countingEmbedder{}
	switched, err := NewCachedEmbeddingGenerator(real, path, "gemini-embedding-001")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if switched.Len() != 0 {
		t.Errorf("Expected vectors of another model to be dropped, got %d", switched.Len())
	}
	if _, err := switched.GenerateEmbedding(ctx, "soup"); err != nil {
		t.Fatal(err)
	}
	if real.calls != 1 {
		t.Errorf("Expected a fresh embedding after the model change, got %d calls", real.calls)
	}
	if err := switched.SaveCache(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var stored embeddingCacheFile
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.Model != "gemini-embedding-001" || len(stored.Vectors) != 1 {
		t.Errorf("Unexpected cache file %+v", stored)
	}
	if _, ok := stored.Vectors[cacheKey("soup")]; !ok {
		t.Error("Expected vectors to be keyed by the text hash")
	}
}

func TestCachedEmbeddingGeneratorCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCachedEmbeddingGenerator(&countingEmbedder{}, path, "text-embedding-004"); err == nil {
		t.Error("Expected an error for an unreadable cache file")
	}
}

func TestVectorCodecAndSimilarity(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("Round trip mismatch at %d: %f != %f", i, in[i], out[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for truncated blob")
	}

	if s := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(s-1) > 1e-9 {
		t.Errorf("Expected 1, got %f", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Errorf("Expected 0, got %f", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); s != 0 {
		t.Errorf("Expected 0 for mismatched dimensions, got %f", s)
	}
	if !IsZeroVector([]float32{0, 0}) || IsZeroVector([]float32{0, 0.1}) {
		t.Error("IsZeroVector misclassified input")
	}
}

func TestSchemaFromJSON(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"mode": {"type": "string", "enum": ["structured", "semantic", "hybrid"]},
			"semantic_query": {"type": ["string", "null"], "description": "text to embed"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"filters": {"type": "object", "properties": {"max_calories": {"type": ["integer", "null"]}}}
		},
		"required": ["mode"],
		"additionalProperties": false
	}`)

	s, err := SchemaFromJSON(raw)
	if err != nil {
		t.Fatalf("SchemaFromJSON failed: %v", err)
	}
	if s.Type != genai.TypeObject || len(s.Required) != 1 {
		t.Fatalf("Unexpected root schema: %+v", s)
	}
	mode := s.Properties["mode"]
	if mode.Type != genai.TypeString || len(mode.Enum) != 3 || mode.Format != "enum" {
		t.Errorf("Unexpected mode schema: %+v", mode)
	}
	q := s.Properties["semantic_query"]
	if q.Type != genai.TypeString || !q.Nullable || q.Description != "text to embed" {
		t.Errorf("Unexpected semantic_query schema: %+v", q)
	}
	if s.Properties["tags"].Items.Type != genai.TypeString {
		t.Error("Expected array items to be converted")
	}
	if !s.Properties["filters"].Properties["max_calories"].Nullable {
		t.Error("Expected nested nullable integer")
	}

	if _, err := SchemaFromJSON(json.RawMessage(`{"type": "date"}`)); err == nil {
		t.Error("Expected error for unsupported type")
	}
}

func TestToGeminiContents(t *testing.T) {
	turns := []conversation.Turn{
		conversation.UserTurn("find soup"),
		{Role: conversation.RoleAssistant, Parts: []conversation.Part{
			conversation.TextPart("Searching."),
			conversation.InvocationPart(conversation.ToolInvocation{ID: "1", Name: "search_recipes", Input: json.RawMessage(`{"query":"soup"}`)}),
			conversation.ResultPart(conversation.ToolResult{InvocationID: "1", Name: "search_recipes", Output: json.RawMessage(`{"recipes":[]}`)}),
			conversation.TextPart("Nothing found."),
		}},
		conversation.UserTurn("try stew"),
	}

	contents, err := toGeminiContents(turns)
	if err != nil {
		t.Fatalf("toGeminiContents failed: %v", err)
	}
	roles := make([]string, len(contents))
	for i, c := range contents {
		roles[i] = c.Role
	}
	if strings.Join(roles, ",") != "user,model,user,model,user" {
		t.Fatalf("Unexpected role sequence: %v", roles)
	}
	if _, ok := contents[1].Parts[1].(genai.FunctionCall); !ok {
		t.Error("Expected function call in the model content")
	}
	fr, ok := contents[2].Parts[0].(genai.FunctionResponse)
	if !ok || fr.Name != "search_recipes" {
		t.Errorf("Expected function response, got %#v", contents[2].Parts[0])
	}
	if _, ok := fr.Response["recipes"]; !ok {
		t.Error("Expected object output to be passed through")
	}

	if m := responseMap(json.RawMessage(`[1,2]`)); m["result"] == nil {
		t.Error("Expected non-object output to be wrapped")
	}
}

func TestGroqClientGenerateContent(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Write([]byte(`{"model":"llama","choices":[{"message":{"content":"{\"mode\":\"structured\"}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer server.Close()

	gen := NewGroqClient(&config.Config{GroqAPIKey: "key", PlannerModel: "llama-3.3-70b-versatile"}).(*groqClient)
	gen.endpoint = server.URL

	resp, err := gen.GenerateContent(context.Background(), "plan this")
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}
	if resp.Content != `{"mode":"structured"}` {
		t.Errorf("Unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 || resp.Usage.Model != "llama" {
		t.Errorf("Unexpected usage %+v", resp.Usage)
	}
	if gotAuth != "Bearer key" {
		t.Errorf("Unexpected auth header %q", gotAuth)
	}
	if format, _ := gotBody["response_format"].(map[string]any); format["type"] != "json_object" {
		t.Errorf("Expected JSON mode, got %v", gotBody["response_format"])
	}

	t.Run("ErrorStatus", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer failing.Close()
		gen.endpoint = failing.URL
		if _, err := gen.GenerateContent(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "status=429") {
			t.Errorf("Expected status error, got %v", err)
		}
	})
}
