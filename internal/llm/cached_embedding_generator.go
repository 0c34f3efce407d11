package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// embeddingCacheFile is the on-disk layout. Vectors are keyed by a hash of the
// embedding text and only reused while the model stays the same.
type embeddingCacheFile struct {
	Model   string               `json:"model"`
	Vectors map[string][]float32 `json:"vectors"`
}

// CachedEmbeddingGenerator serves recipe embeddings from a JSON file when the
// text and the model are unchanged, and asks the wrapped generator otherwise.
type CachedEmbeddingGenerator struct {
	next  EmbeddingGenerator
	path  string
	model string

	mu      sync.Mutex
	vectors map[string][]float32
	dirty   bool
}

// NewCachedEmbeddingGenerator loads path if it exists. A file written for a
// different model is ignored and overwritten on the next save.
func NewCachedEmbeddingGenerator(next EmbeddingGenerator, path, model string) (*CachedEmbeddingGenerator, error) {
	c := &CachedEmbeddingGenerator{
		next:    next,
		path:    path,
		model:   model,
		vectors: make(map[string][]float32),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Printf("Embedding cache not found, starting empty: %s", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	var stored embeddingCacheFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode embedding cache %s: %w", path, err)
	}
	if stored.Model != model {
		log.Printf("Embedding cache %s was built with %q, not %q; starting empty", path, stored.Model, model)
		c.dirty = true
		return c, nil
	}
	if stored.Vectors != nil {
		c.vectors = stored.Vectors
	}
	log.Printf("Loaded %d cached embeddings for %s", len(c.vectors), model)
	return c, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GenerateEmbedding does not hold the lock while the wrapped generator runs.
func (c *CachedEmbeddingGenerator) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	c.mu.Lock()
	cached, ok := c.vectors[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	embedding, err := c.next.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.vectors[key] = embedding
	c.dirty = true
	c.mu.Unlock()
	return embedding, nil
}

// Len reports how many vectors are cached.
func (c *CachedEmbeddingGenerator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.vectors)
}

// SaveCache writes the cache through a temp file and a rename. It is a no-op
// when nothing changed since the last load or save.
func (c *CachedEmbeddingGenerator) SaveCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.Marshal(embeddingCacheFile{Model: c.model, Vectors: c.vectors})
	if err != nil {
		return fmt.Errorf("failed to encode embedding cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace embedding cache: %w", err)
	}

	c.dirty = false
	log.Printf("Saved %d embeddings to %s", len(c.vectors), c.path)
	return nil
}
