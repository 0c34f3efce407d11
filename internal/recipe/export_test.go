package recipe

import (
	"strings"
	"testing"
)

const exportFixture = `<html><body>
<div class="recipe-details">
  <meta itemprop="recipeId" content="r-1">
  <h2 itemprop="name"> Spaghetti al Limone </h2>
  <meta itemprop="recipeIsFavourite" content="True">
  <meta itemprop="recipeRating" content="4">
  <span itemprop="recipeCourse">Main</span>
  <meta itemprop="recipeCourse" content="Main">
  <meta itemprop="recipeCourse" content="Dinner">
  <meta itemprop="recipeCategory" content="Italian">
  <span itemprop="recipeSource"><a href="https://example.com/limone">Example</a></span>
  <span itemprop="recipeYield">4 servings</span>
  <meta itemprop="prepTime" content="PT10M">
  <meta itemprop="cookTime" content="PT1H5M">
  <div itemprop="recipeIngredients"><p>200 g spaghetti</p><p> </p><p>1 lemon</p></div>
  <div itemprop="recipeDirections"><p>Boil pasta.</p><p>Toss with lemon.</p></div>
  <div itemprop="recipeNotes"><p>Use good oil.</p><p>Serve hot.</p></div>
  <meta itemprop="recipeNutCalories" content="540">
  <meta itemprop="recipeNutProtein" content="18.5">
  <div class="recipe-photos-div"><img class="recipe-photos" src="images/limone-1.jpg"><img class="recipe-photos" src="images/limone-2.jpg"></div>
  <img class="recipe-photo" src="images/main.jpg">
</div>
<div class="recipe-details">
  <meta itemprop="recipeId" content="r-2">
  <h2 itemprop="name">Plain Rice</h2>
  <meta itemprop="prepTime" content="PT0S">
  <meta itemprop="cookTime" content="PT0M">
  <span itemprop="recipeSource">Grandma</span>
  <img class="recipe-photo" src="images/rice.jpg">
</div>
<div class="recipe-details">
  <h2 itemprop="name">No id</h2>
</div>
</body></html>`

func TestParseExport(t *testing.T) {
	recipes, err := ParseExport(strings.NewReader(exportFixture))
	if err != nil {
		t.Fatalf("ParseExport failed: %v", err)
	}
	if len(recipes) != 2 {
		t.Fatalf("Expected 2 recipes (one skipped for missing id), got %d", len(recipes))
	}

	limone := recipes[0]
	if limone.ID != "r-1" || limone.Name != "Spaghetti al Limone" {
		t.Errorf("Unexpected identity: %s / %q", limone.ID, limone.Name)
	}
	if !limone.IsFavourite || limone.Rating != 4 {
		t.Errorf("Expected favourite with rating 4, got %v / %d", limone.IsFavourite, limone.Rating)
	}
	if strings.Join(limone.Courses, ",") != "Main,Dinner" {
		t.Errorf("Expected de-duplicated courses, got %v", limone.Courses)
	}
	if limone.Source == nil || *limone.Source != "https://example.com/limone" {
		t.Errorf("Expected source link, got %v", limone.Source)
	}
	if *limone.PrepTimeMinutes != 10 || *limone.CookTimeMinutes != 65 {
		t.Errorf("Unexpected times: %d / %d", *limone.PrepTimeMinutes, *limone.CookTimeMinutes)
	}
	if total := limone.TotalTimeMinutes(); total == nil || *total != 75 {
		t.Errorf("Expected total time 75, got %v", total)
	}
	if len(limone.Ingredients) != 2 {
		t.Errorf("Expected blank ingredient lines to be dropped, got %v", limone.Ingredients)
	}
	if limone.Notes == nil || *limone.Notes != "Use good oil.\nServe hot." {
		t.Errorf("Unexpected notes: %v", limone.Notes)
	}
	if limone.Calories == nil || *limone.Calories != 540 || *limone.Protein != 18.5 {
		t.Errorf("Unexpected nutrition: %+v", limone.Nutrition)
	}
	if strings.Join(limone.PhotoFiles, ",") != "limone-1.jpg,limone-2.jpg" {
		t.Errorf("Expected gallery photos to win, got %v", limone.PhotoFiles)
	}

	rice := recipes[1]
	if rice.PrepTimeMinutes != nil || rice.CookTimeMinutes != nil {
		t.Error("Expected zero durations to be treated as unknown")
	}
	if rice.Calories != nil {
		t.Error("Expected nutrition to be unknown")
	}
	if rice.Source == nil || *rice.Source != "Grandma" {
		t.Errorf("Expected text source, got %v", rice.Source)
	}
	if len(rice.PhotoFiles) != 1 || rice.PhotoFiles[0] != "rice.jpg" {
		t.Errorf("Expected fallback main photo, got %v", rice.PhotoFiles)
	}
}

func TestParseDurationMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want int // 0 means nil
	}{
		{"PT30M", 30},
		{"PT1H", 60},
		{"PT1H30M", 90},
		{"PT90S", 2},
		{"PT0S", 0},
		{"PT0M", 0},
		{"", 0},
		{"P1D", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseDurationMinutes(tt.in)
			if tt.want == 0 {
				if got != nil {
					t.Errorf("Expected nil, got %d", *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("Expected %d, got %v", tt.want, got)
			}
		})
	}
}

func TestEmbeddingText(t *testing.T) {
	yield := "2"
	rec := Recipe{
		Name:        "Soup",
		Courses:     []string{"Starter"},
		Yield:       &yield,
		Ingredients: []string{"water", "salt"},
	}
	want := "Recipe: Soup\n\nCourses: Starter\n\nServes: 2\n\nIngredients:\nwater\nsalt"
	if got := rec.EmbeddingText(); got != want {
		t.Errorf("Unexpected embedding text:\n%s", got)
	}
}
