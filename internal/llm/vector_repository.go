package llm

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// VectorRepository stores recipe embeddings as little-endian float32 blobs in sqlite.
type VectorRepository struct {
	db execer
}

func NewVectorRepository(d *sql.DB) *VectorRepository {
	return &VectorRepository{db: d}
}

// WithTx returns a new VectorRepository that uses the provided transaction.
func (r *VectorRepository) WithTx(tx *sql.Tx) *VectorRepository {
	return &VectorRepository{db: tx}
}

func (r *VectorRepository) Save(ctx context.Context, recipeID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("refusing to store empty embedding for recipe %s", recipeID)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recipe_embeddings (recipe_id, embedding) VALUES (?, ?)
		ON CONFLICT(recipe_id) DO UPDATE SET embedding = excluded.embedding`,
		recipeID, EncodeVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

func (r *VectorRepository) Get(ctx context.Context, recipeID string) ([]float32, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx, `SELECT embedding FROM recipe_embeddings WHERE recipe_id = ?`, recipeID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Embedding not found
		}
		return nil, fmt.Errorf("failed to get embedding by recipe ID: %w", err)
	}

	embedding, err := DecodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return embedding, nil
}

// EncodeVector converts a slice of float32 to a byte slice.
func EncodeVector(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(floats)) // 4 bytes per float32
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(f))
	}
	return buf
}

// DecodeVector converts a byte slice back to a slice of float32.
func DecodeVector(bytes []byte) ([]float32, error) {
	if len(bytes) == 0 {
		return nil, nil
	}
	if len(bytes)%4 != 0 {
		return nil, fmt.Errorf("byte slice length is not a multiple of 4")
	}
	floats := make([]float32, len(bytes)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(bytes[i*4 : (i+1)*4]))
	}
	return floats, nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// IsZeroVector reports whether every component is zero.
func IsZeroVector(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
