package server

import (
	"net/http"

	"recipe-assistant/internal/recipe"

	"github.com/labstack/echo/v4"
)

// RecipeTile is the list view of a recipe.
type RecipeTile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	IsFavourite bool     `json:"is_favourite"`
	Rating      int      `json:"rating"`
	Courses     []string `json:"courses"`
	PhotoURL    *string  `json:"photo_url"`
}

type RecipesHandler struct {
	Recipes RecipeReader
}

func (h *RecipesHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *RecipesHandler) list(c echo.Context) error {
	recipes, err := h.Recipes.List(c.Request().Context())
	if err != nil {
		return err
	}
	tiles := make([]RecipeTile, 0, len(recipes))
	for _, r := range recipes {
		tile := RecipeTile{ID: r.ID, Name: r.Name, IsFavourite: r.IsFavourite, Rating: r.Rating, Courses: r.Courses}
		if tile.Courses == nil {
			tile.Courses = []string{}
		}
		if len(r.PhotoURLs) > 0 {
			tile.PhotoURL = &r.PhotoURLs[0]
		}
		tiles = append(tiles, tile)
	}
	return c.JSON(http.StatusOK, tiles)
}

func (h *RecipesHandler) get(c echo.Context) error {
	r, err := h.Recipes.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if r == nil {
		return echo.NewHTTPError(http.StatusNotFound, "recipe not found")
	}
	return c.JSON(http.StatusOK, r.ToMatch(recipe.NoSimilarity))
}
