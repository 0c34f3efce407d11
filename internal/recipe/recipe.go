package recipe

import (
	"fmt"
	"math"
	"strings"
)

// NoSimilarity marks a match that was not ranked against an embedding.
const NoSimilarity = -1.0

// Nutrition holds per-serving values. Any field may be unknown.
type Nutrition struct {
	Calories     *float64 `json:"nut_calories"`
	Protein      *float64 `json:"nut_protein"`
	TotalFat     *float64 `json:"nut_total_fat"`
	SaturatedFat *float64 `json:"nut_saturated_fat"`
	TotalCarb    *float64 `json:"nut_total_carb"`
	DietaryFiber *float64 `json:"nut_dietary_fiber"`
	Sugars       *float64 `json:"nut_sugars"`
	Sodium       *float64 `json:"nut_sodium"`
	ServingSize  *float64 `json:"nut_serving_size"`
}

// Recipe is a full recipe record as stored.
type Recipe struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	IsFavourite     bool     `json:"is_favourite"`
	Rating          int      `json:"rating"`
	Courses         []string `json:"courses"`
	Categories      []string `json:"categories"`
	Source          *string  `json:"source"`
	Yield           *string  `json:"yield"`
	PrepTimeMinutes *int     `json:"prep_time_minutes"`
	CookTimeMinutes *int     `json:"cook_time_minutes"`
	Ingredients     []string `json:"ingredients"`
	Directions      []string `json:"directions"`
	Notes           *string  `json:"notes"`
	Nutrition
	PhotoURLs []string `json:"photo_urls"`
}

// TotalTimeMinutes is prep plus cook time, or nil when neither is known.
func (r Recipe) TotalTimeMinutes() *int {
	if r.PrepTimeMinutes == nil && r.CookTimeMinutes == nil {
		return nil
	}
	total := 0
	if r.PrepTimeMinutes != nil {
		total += *r.PrepTimeMinutes
	}
	if r.CookTimeMinutes != nil {
		total += *r.CookTimeMinutes
	}
	return &total
}

// EmbeddingText renders the text the recipe is embedded from.
func (r Recipe) EmbeddingText() string {
	parts := []string{"Recipe: " + r.Name}
	if len(r.Courses) > 0 {
		parts = append(parts, "Courses: "+strings.Join(r.Courses, ", "))
	}
	if len(r.Categories) > 0 {
		parts = append(parts, "Categories: "+strings.Join(r.Categories, ", "))
	}
	if r.Yield != nil && *r.Yield != "" {
		parts = append(parts, "Serves: "+*r.Yield)
	}
	if len(r.Ingredients) > 0 {
		parts = append(parts, "Ingredients:\n"+strings.Join(r.Ingredients, "\n"))
	}
	if len(r.Directions) > 0 {
		parts = append(parts, "Directions:\n"+strings.Join(r.Directions, "\n"))
	}
	if r.Notes != nil && *r.Notes != "" {
		parts = append(parts, "Notes:\n"+*r.Notes)
	}
	return strings.Join(parts, "\n\n")
}

// Match is the read-only projection returned by a search.
type Match struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	IsFavourite     bool     `json:"is_favourite"`
	Rating          int      `json:"rating"`
	Courses         []string `json:"courses"`
	Categories      []string `json:"categories"`
	PrepTimeMinutes *int     `json:"prep_time_minutes"`
	CookTimeMinutes *int     `json:"cook_time_minutes"`
	Ingredients     []string `json:"ingredients"`
	Directions      []string `json:"directions"`
	Notes           *string  `json:"notes"`
	Calories        *float64 `json:"nut_calories"`
	Protein         *float64 `json:"nut_protein"`
	PhotoURLs       []string `json:"photo_urls"`
	Similarity      float64  `json:"similarity"`
}

// ToMatch projects the recipe with the given similarity score.
func (r Recipe) ToMatch(similarity float64) Match {
	return Match{
		ID:              r.ID,
		Name:            r.Name,
		IsFavourite:     r.IsFavourite,
		Rating:          r.Rating,
		Courses:         nonNil(r.Courses),
		Categories:      nonNil(r.Categories),
		PrepTimeMinutes: r.PrepTimeMinutes,
		CookTimeMinutes: r.CookTimeMinutes,
		Ingredients:     nonNil(r.Ingredients),
		Directions:      nonNil(r.Directions),
		Notes:           r.Notes,
		Calories:        r.Calories,
		Protein:         r.Protein,
		PhotoURLs:       nonNil(r.PhotoURLs),
		Similarity:      similarity,
	}
}

// ClampSimilarity maps a cosine similarity into [0,1].
func ClampSimilarity(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(1, s))
}

// Filters narrow a search. A nil field does not filter on that dimension.
type Filters struct {
	MaxCalories         *int  `json:"max_calories,omitempty"`
	MaxTotalTimeMinutes *int  `json:"max_total_time_minutes,omitempty"`
	MinProteinGrams     *int  `json:"min_protein_grams,omitempty"`
	FavouriteOnly       *bool `json:"favourite_only,omitempty"`
}

// Validate rejects non-positive numeric bounds.
func (f Filters) Validate() error {
	for name, v := range map[string]*int{
		"max_calories":           f.MaxCalories,
		"max_total_time_minutes": f.MaxTotalTimeMinutes,
		"min_protein_grams":      f.MinProteinGrams,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	return nil
}

// WantFavourites reports whether only favourites should be returned.
func (f Filters) WantFavourites() bool {
	return f.FavouriteOnly != nil && *f.FavouriteOnly
}

// Matches applies the filters to a single recipe. Unknown values pass.
func (f Filters) Matches(r Recipe) bool {
	if f.MaxCalories != nil && r.Calories != nil && *r.Calories > float64(*f.MaxCalories) {
		return false
	}
	if f.MaxTotalTimeMinutes != nil {
		if total := r.TotalTimeMinutes(); total != nil && *total > *f.MaxTotalTimeMinutes {
			return false
		}
	}
	if f.MinProteinGrams != nil && r.Protein != nil && *r.Protein < float64(*f.MinProteinGrams) {
		return false
	}
	if f.WantFavourites() && !r.IsFavourite {
		return false
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
