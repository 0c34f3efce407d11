package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"recipe-assistant/internal/llm"
)

const recipeColumns = `r.id, r.name, r.is_favourite, r.rating, r.courses, r.categories, r.source, r.yield,
	r.prep_time_minutes, r.cook_time_minutes, r.ingredients, r.directions, r.notes,
	r.nut_calories, r.nut_protein, r.nut_total_fat, r.nut_saturated_fat, r.nut_total_carb,
	r.nut_dietary_fiber, r.nut_sugars, r.nut_sodium, r.nut_serving_size, r.photo_urls`

// Repository is a sqlite-backed repository for recipes and their embeddings.
type Repository struct {
	db      *sql.DB
	vectors *llm.VectorRepository
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{
		db:      d,
		vectors: llm.NewVectorRepository(d),
	}
}

// Save upserts a recipe by id together with its embedding, if any.
func (r *Repository) Save(ctx context.Context, rec Recipe, embedding []float32) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	arrays := make([]string, 0, 5)
	for _, s := range [][]string{rec.Courses, rec.Categories, rec.Ingredients, rec.Directions, rec.PhotoURLs} {
		b, err := json.Marshal(nonNil(s))
		if err != nil {
			return fmt.Errorf("failed to marshal recipe lists: %w", err)
		}
		arrays = append(arrays, string(b))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipes (id, name, is_favourite, rating, courses, categories, source, yield,
			prep_time_minutes, cook_time_minutes, ingredients, directions, notes,
			nut_calories, nut_protein, nut_total_fat, nut_saturated_fat, nut_total_carb,
			nut_dietary_fiber, nut_sugars, nut_sodium, nut_serving_size, photo_urls, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, is_favourite = excluded.is_favourite, rating = excluded.rating,
			courses = excluded.courses, categories = excluded.categories, source = excluded.source,
			yield = excluded.yield, prep_time_minutes = excluded.prep_time_minutes,
			cook_time_minutes = excluded.cook_time_minutes, ingredients = excluded.ingredients,
			directions = excluded.directions, notes = excluded.notes,
			nut_calories = excluded.nut_calories, nut_protein = excluded.nut_protein,
			nut_total_fat = excluded.nut_total_fat, nut_saturated_fat = excluded.nut_saturated_fat,
			nut_total_carb = excluded.nut_total_carb, nut_dietary_fiber = excluded.nut_dietary_fiber,
			nut_sugars = excluded.nut_sugars, nut_sodium = excluded.nut_sodium,
			nut_serving_size = excluded.nut_serving_size, photo_urls = excluded.photo_urls,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Name, rec.IsFavourite, rec.Rating, arrays[0], arrays[1], rec.Source, rec.Yield,
		rec.PrepTimeMinutes, rec.CookTimeMinutes, arrays[2], arrays[3], rec.Notes,
		rec.Calories, rec.Protein, rec.TotalFat, rec.SaturatedFat, rec.TotalCarb,
		rec.DietaryFiber, rec.Sugars, rec.Sodium, rec.ServingSize, arrays[4],
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe %s: %w", rec.ID, err)
	}

	if len(embedding) > 0 {
		if err := r.vectors.WithTx(tx).Save(ctx, rec.ID, embedding); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recipe %s: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a recipe by its ID.
func (r *Repository) Get(ctx context.Context, id string) (*Recipe, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM recipes r WHERE r.id = ?`, id)
	rec, err := scanRecipe(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Recipe not found
		}
		return nil, fmt.Errorf("failed to get recipe by ID: %w", err)
	}
	return &rec, nil
}

// List retrieves all recipes ordered by name.
func (r *Repository) List(ctx context.Context) ([]Recipe, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recipeColumns+` FROM recipes r ORDER BY r.name COLLATE NOCASE, r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []Recipe
	for rows.Next() {
		rec, err := scanRecipe(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		recipes = append(recipes, rec)
	}
	return recipes, rows.Err()
}

// Count returns the number of recipes in the database.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return count, nil
}

// HybridSearch filters recipes in SQL and, when an embedding is given, ranks the
// survivors by cosine similarity before truncating to limit. Without an embedding
// matches come back in name order and carry NoSimilarity.
func (r *Repository) HybridSearch(ctx context.Context, embedding []float32, filters Filters, limit int) ([]Match, error) {
	var where []string
	var args []any

	if filters.MaxCalories != nil {
		where = append(where, `(r.nut_calories IS NULL OR r.nut_calories <= ?)`)
		args = append(args, *filters.MaxCalories)
	}
	if filters.MaxTotalTimeMinutes != nil {
		where = append(where, `((r.prep_time_minutes IS NULL AND r.cook_time_minutes IS NULL)
			OR COALESCE(r.prep_time_minutes, 0) + COALESCE(r.cook_time_minutes, 0) <= ?)`)
		args = append(args, *filters.MaxTotalTimeMinutes)
	}
	if filters.MinProteinGrams != nil {
		where = append(where, `(r.nut_protein IS NULL OR r.nut_protein >= ?)`)
		args = append(args, *filters.MinProteinGrams)
	}
	if filters.WantFavourites() {
		where = append(where, `r.is_favourite = 1`)
	}
	if embedding != nil {
		where = append(where, `e.embedding IS NOT NULL`)
	}

	query := `SELECT ` + recipeColumns + `, e.embedding FROM recipes r
		LEFT JOIN recipe_embeddings e ON e.recipe_id = r.id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY r.name COLLATE NOCASE, r.id`
	if embedding == nil {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipes: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var blob []byte
		rec, err := scanRecipe(func(dest ...any) error {
			return rows.Scan(append(dest, &blob)...)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}

		similarity := NoSimilarity
		if embedding != nil {
			vec, err := llm.DecodeVector(blob)
			if err != nil {
				log.Printf("Warning: skipping recipe %s with corrupt embedding: %v", rec.ID, err)
				continue
			}
			similarity = ClampSimilarity(llm.CosineSimilarity(embedding, vec))
		}
		matches = append(matches, rec.ToMatch(similarity))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipes: %w", err)
	}

	if embedding != nil {
		// Stable sort keeps name order among equal scores.
		slices.SortStableFunc(matches, func(a, b Match) int {
			switch {
			case a.Similarity > b.Similarity:
				return -1
			case a.Similarity < b.Similarity:
				return 1
			}
			return 0
		})
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func scanRecipe(scan func(dest ...any) error) (Recipe, error) {
	var (
		rec                                          Recipe
		courses, categories, ingredients, directions string
		photos                                       string
		source, yield, notes                         sql.NullString
		prep, cook                                   sql.NullInt64
		nut                                          [9]sql.NullFloat64
	)
	err := scan(
		&rec.ID, &rec.Name, &rec.IsFavourite, &rec.Rating, &courses, &categories, &source, &yield,
		&prep, &cook, &ingredients, &directions, &notes,
		&nut[0], &nut[1], &nut[2], &nut[3], &nut[4], &nut[5], &nut[6], &nut[7], &nut[8], &photos,
	)
	if err != nil {
		return Recipe{}, err
	}

	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{courses, &rec.Courses}, {categories, &rec.Categories}, {ingredients, &rec.Ingredients},
		{directions, &rec.Directions}, {photos, &rec.PhotoURLs},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return Recipe{}, fmt.Errorf("failed to unmarshal recipe %s lists: %w", rec.ID, err)
		}
	}

	rec.Source = nullString(source)
	rec.Yield = nullString(yield)
	rec.Notes = nullString(notes)
	rec.PrepTimeMinutes = nullInt(prep)
	rec.CookTimeMinutes = nullInt(cook)
	for i, dst := range []**float64{
		&rec.Calories, &rec.Protein, &rec.TotalFat, &rec.SaturatedFat, &rec.TotalCarb,
		&rec.DietaryFiber, &rec.Sugars, &rec.Sodium, &rec.ServingSize,
	} {
		if nut[i].Valid {
			v := nut[i].Float64
			*dst = &v
		}
	}
	return rec, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
