package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"recipe-assistant/internal/agent"
	"recipe-assistant/internal/config"
	"recipe-assistant/internal/database"
	"recipe-assistant/internal/inventory"
	"recipe-assistant/internal/llm"
	"recipe-assistant/internal/metrics"
	"recipe-assistant/internal/pgstore"
	"recipe-assistant/internal/planner"
	"recipe-assistant/internal/recipe"
	"recipe-assistant/internal/search"
	"recipe-assistant/internal/server"
	"recipe-assistant/internal/tools"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RecipeStore is the recipe storage behind search, browsing and ingestion.
// Implemented by *recipe.Repository (sqlite) and *pgstore.RecipeStore.
type RecipeStore interface {
	search.RecipeSearcher
	Save(ctx context.Context, rec recipe.Recipe, embedding []float32) error
	Get(ctx context.Context, id string) (*recipe.Recipe, error)
	List(ctx context.Context) ([]recipe.Recipe, error)
	Count(ctx context.Context) (int, error)
}

// Models are the model collaborators. A single Gemini client usually fills all three.
type Models struct {
	Planner  llm.TextGenerator
	Chat     llm.ChatModel
	Embedder llm.EmbeddingGenerator
}

// App holds the application's dependencies.
type App struct {
	cfg *config.Config

	Recipes  RecipeStore
	Shopping *inventory.Service
	Pantry   *inventory.Service
	Planner  *planner.Planner
	Search   *search.Executor
	Tools    *tools.Registry
	Agent    *agent.Loop

	Metrics   *metrics.Store
	Collector *metrics.Collector
	Registry  *prometheus.Registry

	embedder llm.EmbeddingGenerator
	// local is the sqlite database. It always holds metrics and bot sessions,
	// and the domain data unless remote is set.
	local   *database.DB
	remote  *database.DB
	closers []func() error
}

// New opens the databases and model clients configured in cfg and wires the app.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	local, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	var remote *database.DB
	if cfg.UsePostgres() {
		remote, err = database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			local.Close()
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
	}

	gemini, err := llm.NewGeminiClient(ctx, cfg, llm.WithResponseSchema(planner.IntentSchema()))
	if err != nil {
		closeAll(local, remote)
		return nil, err
	}

	models := Models{Planner: gemini, Chat: gemini, Embedder: gemini}
	if cfg.UseGroqPlanner() {
		log.Printf("Using Groq model %s for query planning", cfg.PlannerModel)
		models.Planner = llm.NewGroqClient(cfg)
	}

	a, err := Assemble(cfg, local, remote, models)
	if err != nil {
		gemini.Close()
		closeAll(local, remote)
		return nil, err
	}
	a.closers = append(a.closers, gemini.Close)
	return a, nil
}

// Assemble wires the components on top of already opened databases and models.
// remote may be nil, in which case local holds everything.
func Assemble(cfg *config.Config, local, remote *database.DB, models Models) (*App, error) {
	a := &App{cfg: cfg, local: local, remote: remote, embedder: models.Embedder}
	a.closers = append(a.closers, local.Close)
	if remote != nil {
		a.closers = append(a.closers, remote.Close)
	}

	a.Metrics = metrics.NewStore(local.SQL)
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(a.Registry)
	if err != nil {
		return nil, err
	}
	a.Collector = collector

	shoppingStore, pantryStore, err := a.openStores()
	if err != nil {
		return nil, err
	}
	invLog := log.New(log.Writer(), "[INVENTORY] ", log.LstdFlags)
	a.Shopping = inventory.NewService(inventory.ShoppingList, shoppingStore, invLog)
	a.Pantry = inventory.NewService(inventory.Pantry, pantryStore, invLog)

	a.Planner = planner.NewPlanner(models.Planner, planner.WithUsageRecorder(a.Metrics))
	a.Search = search.NewExecutor(models.Embedder, a.Recipes,
		search.WithDimensions(cfg.EmbeddingDimensions),
		search.WithObserver(collector),
	)

	a.Tools, err = tools.NewRegistry([]tools.Tool{
		tools.NewSearchTool(a.Planner, a.Search, cfg.SearchLimit),
		tools.NewInventoryTool(a.Shopping),
		tools.NewInventoryTool(a.Pantry),
	}, tools.WithObserver(collector))
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	a.Agent = agent.NewLoop(models.Chat, a.Tools,
		agent.WithMaxSteps(cfg.MaxSteps),
		agent.WithMaxParallelTools(cfg.MaxParallelTools),
		agent.WithInventories(a.Shopping, a.Pantry),
		agent.WithLocation(cfg.Location),
		agent.WithUsageRecorder(a.Metrics),
		agent.WithObserver(collector),
	)
	return a, nil
}

func (a *App) openStores() (shopping, pantry inventory.Store, err error) {
	if a.remote != nil {
		a.Recipes = pgstore.NewRecipeStore(a.remote.SQL)
		if shopping, err = pgstore.NewInventoryStore(a.remote.SQL, inventory.ShoppingList); err != nil {
			return nil, nil, err
		}
		if pantry, err = pgstore.NewInventoryStore(a.remote.SQL, inventory.Pantry); err != nil {
			return nil, nil, err
		}
		return shopping, pantry, nil
	}

	a.Recipes = recipe.NewRepository(a.local.SQL)
	if shopping, err = inventory.NewRepository(a.local.SQL, inventory.ShoppingList); err != nil {
		return nil, nil, err
	}
	if pantry, err = inventory.NewRepository(a.local.SQL, inventory.Pantry); err != nil {
		return nil, nil, err
	}
	return shopping, pantry, nil
}

// LocalDB is the sqlite database that keeps metrics and bot sessions.
func (a *App) LocalDB() *database.DB {
	return a.local
}

// HTTPServer builds the HTTP API on top of the app.
func (a *App) HTTPServer() *echo.Echo {
	d := server.Deps{
		Chat:     a.Agent,
		Recipes:  a.Recipes,
		Shopping: a.Shopping,
		Pantry:   a.Pantry,
		Gatherer: a.Registry,
	}
	if a.cfg.APIJWTSecret != "" {
		d.JWTSecret = []byte(a.cfg.APIJWTSecret)
	}
	if strings.HasPrefix(a.cfg.PhotoBaseURL, "/") {
		d.PhotoDir = a.cfg.PhotoDir
		d.PhotoPrefix = a.cfg.PhotoBaseURL
	}
	return server.New(d)
}

// Close releases model clients and database connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeAll(dbs ...*database.DB) {
	for _, d := range dbs {
		if d != nil {
			d.Close()
		}
	}
}
