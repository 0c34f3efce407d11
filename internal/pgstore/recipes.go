package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"recipe-assistant/internal/recipe"

	"github.com/lib/pq"
)

const recipeColumns = `id, name, is_favourite, rating, courses, categories, source, yield,
	prep_time_minutes, cook_time_minutes, ingredients, directions, notes,
	nut_calories, nut_protein, nut_total_fat, nut_saturated_fat, nut_total_carb,
	nut_dietary_fiber, nut_sugars, nut_sodium, nut_serving_size, photo_urls`

const upsertRecipeSQL = `
INSERT INTO recipes (` + recipeColumns + `, embedding, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24::vector,NOW())
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name, is_favourite = EXCLUDED.is_favourite, rating = EXCLUDED.rating,
  courses = EXCLUDED.courses, categories = EXCLUDED.categories, source = EXCLUDED.source,
  yield = EXCLUDED.yield, prep_time_minutes = EXCLUDED.prep_time_minutes,
  cook_time_minutes = EXCLUDED.cook_time_minutes, ingredients = EXCLUDED.ingredients,
  directions = EXCLUDED.directions, notes = EXCLUDED.notes,
  nut_calories = EXCLUDED.nut_calories, nut_protein = EXCLUDED.nut_protein,
  nut_total_fat = EXCLUDED.nut_total_fat, nut_saturated_fat = EXCLUDED.nut_saturated_fat,
  nut_total_carb = EXCLUDED.nut_total_carb, nut_dietary_fiber = EXCLUDED.nut_dietary_fiber,
  nut_sugars = EXCLUDED.nut_sugars, nut_sodium = EXCLUDED.nut_sodium,
  nut_serving_size = EXCLUDED.nut_serving_size, photo_urls = EXCLUDED.photo_urls,
  embedding = COALESCE(EXCLUDED.embedding, recipes.embedding),
  updated_at = NOW();
`

const matchRecipesSQL = `
SELECT id, name, is_favourite, rating, courses, categories, prep_time_minutes, cook_time_minutes,
  ingredients, directions, notes, nut_calories, nut_protein, photo_urls, similarity
FROM match_recipes($1::vector, $2, $3, $4, $5, $6);
`

// RecipeStore is the postgres + pgvector recipe backend. Similarity ranking
// runs inside the match_recipes SQL function.
type RecipeStore struct {
	DB *sql.DB
}

func NewRecipeStore(db *sql.DB) *RecipeStore {
	return &RecipeStore{DB: db}
}

// Save upserts a recipe by id. A nil embedding keeps the stored one.
func (s *RecipeStore) Save(ctx context.Context, rec recipe.Recipe, embedding []float32) error {
	var vec any
	if len(embedding) > 0 {
		lit, err := encodeVectorLiteral(embedding)
		if err != nil {
			return err
		}
		vec = lit
	}

	_, err := s.DB.ExecContext(ctx, upsertRecipeSQL,
		rec.ID, rec.Name, rec.IsFavourite, rec.Rating,
		pq.StringArray(nonNil(rec.Courses)), pq.StringArray(nonNil(rec.Categories)), rec.Source, rec.Yield,
		nullableInt(rec.PrepTimeMinutes), nullableInt(rec.CookTimeMinutes),
		pq.StringArray(nonNil(rec.Ingredients)), pq.StringArray(nonNil(rec.Directions)), rec.Notes,
		rec.Calories, rec.Protein, rec.TotalFat, rec.SaturatedFat, rec.TotalCarb,
		rec.DietaryFiber, rec.Sugars, rec.Sodium, rec.ServingSize,
		pq.StringArray(nonNil(rec.PhotoURLs)), vec,
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe %s: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a recipe by its ID, or nil when it does not exist.
func (s *RecipeStore) Get(ctx context.Context, id string) (*recipe.Recipe, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE id = $1`, id)
	rec, err := scanRecipe(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recipe by ID: %w", err)
	}
	return &rec, nil
}

func (s *RecipeStore) List(ctx context.Context) ([]recipe.Recipe, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+recipeColumns+` FROM recipes ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var out []recipe.Recipe
	for rows.Next() {
		rec, err := scanRecipe(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *RecipeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return n, nil
}

// HybridSearch calls match_recipes. A nil embedding is passed as SQL NULL,
// which turns ranking off and leaves name order.
func (s *RecipeStore) HybridSearch(ctx context.Context, embedding []float32, filters recipe.Filters, limit int) ([]recipe.Match, error) {
	var vec any
	if embedding != nil {
		lit, err := encodeVectorLiteral(embedding)
		if err != nil {
			return nil, err
		}
		vec = lit
	}
	var favourite any
	if filters.WantFavourites() {
		favourite = true
	}

	rows, err := s.DB.QueryContext(ctx, matchRecipesSQL,
		vec, limit,
		nullableInt(filters.MaxCalories), nullableInt(filters.MaxTotalTimeMinutes), nullableInt(filters.MinProteinGrams),
		favourite,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to call match_recipes: %w", err)
	}
	defer rows.Close()

	matches := []recipe.Match{}
	for rows.Next() {
		var (
			m                                            recipe.Match
			courses, categories, ingredients, directions pq.StringArray
			photos                                       pq.StringArray
			prep, cook                                   sql.NullInt64
			notes                                        sql.NullString
			calories, protein                            sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.IsFavourite, &m.Rating, &courses, &categories,
			&prep, &cook, &ingredients, &directions, &notes, &calories, &protein, &photos, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.Courses, m.Categories = nonNil(courses), nonNil(categories)
		m.Ingredients, m.Directions, m.PhotoURLs = nonNil(ingredients), nonNil(directions), nonNil(photos)
		m.PrepTimeMinutes, m.CookTimeMinutes = intPtr(prep), intPtr(cook)
		m.Notes = strPtr(notes)
		m.Calories, m.Protein = floatPtr(calories), floatPtr(protein)
		if embedding != nil {
			m.Similarity = recipe.ClampSimilarity(m.Similarity)
		} else {
			m.Similarity = recipe.NoSimilarity
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matches: %w", err)
	}
	return matches, nil
}

func scanRecipe(scan func(dest ...any) error) (recipe.Recipe, error) {
	var (
		rec                                          recipe.Recipe
		courses, categories, ingredients, directions pq.StringArray
		photos                                       pq.StringArray
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
		return recipe.Recipe{}, err
	}
	rec.Courses, rec.Categories = nonNil(courses), nonNil(categories)
	rec.Ingredients, rec.Directions, rec.PhotoURLs = nonNil(ingredients), nonNil(directions), nonNil(photos)
	rec.Source, rec.Yield, rec.Notes = strPtr(source), strPtr(yield), strPtr(notes)
	rec.PrepTimeMinutes, rec.CookTimeMinutes = intPtr(prep), intPtr(cook)
	for i, dst := range []**float64{
		&rec.Calories, &rec.Protein, &rec.TotalFat, &rec.SaturatedFat, &rec.TotalCarb,
		&rec.DietaryFiber, &rec.Sugars, &rec.Sodium, &rec.ServingSize,
	} {
		*dst = floatPtr(nut[i])
	}
	return rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}
