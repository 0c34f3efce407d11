package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"recipe-assistant/internal/agent"
	"recipe-assistant/internal/conversation"
	"recipe-assistant/internal/inventory"
	"recipe-assistant/internal/recipe"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChatRunner answers a conversation, e.g. *agent.Loop.
type ChatRunner interface {
	Run(ctx context.Context, conv *conversation.Conversation, emit func(agent.Event) error) (agent.Result, error)
}

// RecipeReader backs the recipe browsing routes.
type RecipeReader interface {
	Get(ctx context.Context, id string) (*recipe.Recipe, error)
	List(ctx context.Context) ([]recipe.Recipe, error)
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Chat     ChatRunner
	Recipes  RecipeReader
	Shopping *inventory.Service
	Pantry   *inventory.Service
	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// JWTSecret protects /api when set.
	JWTSecret []byte
	// PhotoDir is served under PhotoPrefix when both are set.
	PhotoDir    string
	PhotoPrefix string
	Logger      *log.Logger
}

// New builds the echo instance with all routes registered.
func New(d Deps) *echo.Echo {
	logger := d.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if d.PhotoDir != "" && d.PhotoPrefix != "" {
		e.Static(d.PhotoPrefix, d.PhotoDir)
	}

	api := e.Group("/api")
	if len(d.JWTSecret) > 0 {
		api.Use(authMiddleware(d.JWTSecret))
	}

	if d.Chat != nil {
		ch := &ChatHandler{Runner: d.Chat, Log: logger}
		ch.Register(api)
	}
	if d.Recipes != nil {
		rh := &RecipesHandler{Recipes: d.Recipes}
		rh.Register(api.Group("/recipes"))
	}
	if d.Shopping != nil {
		(&InventoryHandler{Service: d.Shopping}).Register(api.Group("/shopping-list"))
	}
	if d.Pantry != nil {
		(&InventoryHandler{Service: d.Pantry}).Register(api.Group("/pantry"))
	}
	return e
}
