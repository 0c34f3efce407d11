package recipe

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParsedRecipe is a recipe read from an export plus the photo files it references.
type ParsedRecipe struct {
	Recipe
	PhotoFiles []string
}

// ParseExport reads a recipe manager HTML export where each recipe is a
// div.recipe-details annotated with schema.org microdata.
// Recipes without an id or a name are skipped.
func ParseExport(r io.Reader) ([]ParsedRecipe, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse export HTML: %w", err)
	}

	var recipes []ParsedRecipe
	doc.Find("div.recipe-details").Each(func(_ int, s *goquery.Selection) {
		id := metaContent(s, "recipeId")
		name := strings.TrimSpace(s.Find(`h2[itemprop="name"]`).Text())
		if id == "" || name == "" {
			return
		}

		rec := Recipe{
			ID:              id,
			Name:            name,
			IsFavourite:     metaContent(s, "recipeIsFavourite") == "True",
			Courses:         []string{},
			Categories:      []string{},
			PrepTimeMinutes: ParseDurationMinutes(metaContent(s, "prepTime")),
			CookTimeMinutes: ParseDurationMinutes(metaContent(s, "cookTime")),
			Ingredients:     paragraphs(s, `div[itemprop="recipeIngredients"] > p`),
			Directions:      paragraphs(s, `div[itemprop="recipeDirections"] > p`),
			PhotoURLs:       []string{},
		}
		rec.Rating, _ = strconv.Atoi(metaContent(s, "recipeRating"))

		if course := strings.TrimSpace(s.Find(`span[itemprop="recipeCourse"]`).Text()); course != "" {
			rec.Courses = append(rec.Courses, course)
		}
		s.Find(`meta[itemprop="recipeCourse"]`).Each(func(_ int, m *goquery.Selection) {
			v := strings.TrimSpace(m.AttrOr("content", ""))
			if v != "" && !slices.Contains(rec.Courses, v) {
				rec.Courses = append(rec.Courses, v)
			}
		})
		s.Find(`meta[itemprop="recipeCategory"]`).Each(func(_ int, m *goquery.Selection) {
			if v := strings.TrimSpace(m.AttrOr("content", "")); v != "" {
				rec.Categories = append(rec.Categories, v)
			}
		})

		src := s.Find(`span[itemprop="recipeSource"]`)
		if href, ok := src.Find("a").Attr("href"); ok && href != "" {
			rec.Source = &href
		} else if text := strings.TrimSpace(src.Text()); text != "" {
			rec.Source = &text
		}
		if y := strings.TrimSpace(s.Find(`span[itemprop="recipeYield"]`).Text()); y != "" {
			rec.Yield = &y
		}
		if notes := paragraphs(s, `div[itemprop="recipeNotes"] > p`); len(notes) > 0 {
			joined := strings.Join(notes, "\n")
			rec.Notes = &joined
		}
		if n := parseNutrition(s); n != nil {
			rec.Nutrition = *n
		}

		recipes = append(recipes, ParsedRecipe{Recipe: rec, PhotoFiles: photoFiles(s)})
	})

	return recipes, nil
}

// ParseDurationMinutes converts an ISO-8601 duration such as PT1H20M into minutes.
// Zero and unparseable durations yield nil.
func ParseDurationMinutes(iso string) *int {
	m := isoDuration.FindStringSubmatch(strings.TrimSpace(iso))
	if m == nil {
		return nil
	}
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	total := atoi(m[1])*60 + atoi(m[2]) + (atoi(m[3])+30)/60
	if total == 0 {
		return nil
	}
	return &total
}

func parseNutrition(s *goquery.Selection) *Nutrition {
	num := func(prop string) *float64 {
		v, err := strconv.ParseFloat(metaContent(s, prop), 64)
		if err != nil {
			return nil
		}
		return &v
	}
	n := Nutrition{
		Calories:     num("recipeNutCalories"),
		Protein:      num("recipeNutProtein"),
		TotalFat:     num("recipeNutTotalFat"),
		SaturatedFat: num("recipeNutSaturatedFat"),
		TotalCarb:    num("recipeNutTotalCarbohydrate"),
		DietaryFiber: num("recipeNutDietaryFiber"),
		Sugars:       num("recipeNutSugars"),
		Sodium:       num("recipeNutSodium"),
		ServingSize:  num("recipeNutServingSize"),
	}
	if n.Calories == nil && n.Protein == nil && n.TotalFat == nil {
		return nil
	}
	return &n
}

// photoFiles prefers the gallery and falls back to the single main photo.
func photoFiles(s *goquery.Selection) []string {
	var files []string
	s.Find(".recipe-photos-div img.recipe-photos").Each(func(_ int, img *goquery.Selection) {
		if src := img.AttrOr("src", ""); src != "" {
			files = append(files, strings.TrimPrefix(src, "images/"))
		}
	})
	if len(files) == 0 {
		if src := s.Find("img.recipe-photo").AttrOr("src", ""); src != "" {
			files = append(files, strings.TrimPrefix(src, "images/"))
		}
	}
	return files
}

func metaContent(s *goquery.Selection, prop string) string {
	return strings.TrimSpace(s.Find(`meta[itemprop="` + prop + `"]`).First().AttrOr("content", ""))
}

func paragraphs(s *goquery.Selection, selector string) []string {
	out := []string{}
	s.Find(selector).Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}
