package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultDatabasePath        = "data/recipes.db"
	DefaultChatModel           = "gemini-2.0-flash"
	DefaultGeminiPlannerModel  = "gemini-2.0-flash"
	DefaultGroqPlannerModel    = "llama-3.3-70b-versatile"
	DefaultEmbeddingModel      = "text-embedding-004"
	DefaultEmbeddingDimensions = 768
	DefaultSearchLimit         = 5
	DefaultMaxSteps            = 5
	DefaultMaxParallelTools    = 4
	DefaultLocation            = "Germany"
	DefaultHTTPAddr            = ":8080"
	DefaultPhotoDir            = "data/photos"
	DefaultPhotoBaseURL        = "/photos"
)

// Config holds the configuration for the application.
type Config struct {
	GeminiAPIKey string
	GroqAPIKey   string

	DatabasePath string
	DatabaseURL  string

	ChatModel           string
	PlannerModel        string
	EmbeddingModel      string
	EmbeddingDimensions int

	SearchLimit      int
	MaxSteps         int
	MaxParallelTools int
	Location         string

	HTTPAddr     string
	APIJWTSecret string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64

	EmbeddingCachePath string
	IngestDelay        time.Duration
	// PhotoDir receives ingested recipe photos, served under PhotoBaseURL.
	PhotoDir     string
	PhotoBaseURL string
}

// UsePostgres reports whether the postgres backend replaces sqlite.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// UseGroqPlanner reports whether query planning goes through Groq instead of Gemini.
func (c *Config) UseGroqPlanner() bool {
	return c.GroqAPIKey != ""
}

// Load reads an optional .env file and then builds the Config from the environment.
// Variables already present in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return NewFromEnv()
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	if geminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	cfg := &Config{
		GeminiAPIKey:       geminiAPIKey,
		GroqAPIKey:         os.Getenv("GROQ_API_KEY"),
		DatabasePath:       envOr("DATABASE_PATH", DefaultDatabasePath),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		ChatModel:          envOr("CHAT_MODEL", DefaultChatModel),
		EmbeddingModel:     envOr("EMBEDDING_MODEL", DefaultEmbeddingModel),
		Location:           envOr("ASSISTANT_LOCATION", DefaultLocation),
		HTTPAddr:           envOr("HTTP_ADDR", DefaultHTTPAddr),
		APIJWTSecret:       os.Getenv("API_JWT_SECRET"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
		EmbeddingCachePath: os.Getenv("EMBEDDING_CACHE_PATH"),
		PhotoDir:           envOr("PHOTO_DIR", DefaultPhotoDir),
		PhotoBaseURL:       strings.TrimRight(envOr("PHOTO_BASE_URL", DefaultPhotoBaseURL), "/"),
	}

	plannerDefault := DefaultGeminiPlannerModel
	if cfg.UseGroqPlanner() {
		plannerDefault = DefaultGroqPlannerModel
	}
	cfg.PlannerModel = envOr("PLANNER_MODEL", plannerDefault)

	var err error
	if cfg.EmbeddingDimensions, err = positiveIntEnv("EMBEDDING_DIMENSIONS", DefaultEmbeddingDimensions); err != nil {
		return nil, err
	}
	if cfg.SearchLimit, err = positiveIntEnv("SEARCH_LIMIT", DefaultSearchLimit); err != nil {
		return nil, err
	}
	if cfg.MaxSteps, err = positiveIntEnv("MAX_STEPS", DefaultMaxSteps); err != nil {
		return nil, err
	}
	if cfg.MaxParallelTools, err = positiveIntEnv("MAX_PARALLEL_TOOLS", DefaultMaxParallelTools); err != nil {
		return nil, err
	}

	if raw := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %w", err)
			}
			cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
		}
	}

	if raw := os.Getenv("ADMIN_TELEGRAM_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
		cfg.AdminTelegramID = id
	}

	if raw := os.Getenv("INGEST_DELAY"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid INGEST_DELAY: %w", err)
		}
		cfg.IngestDelay = d
	}

	return cfg, nil
}

// RequireTelegram checks the settings the bot cannot run without.
func (c *Config) RequireTelegram() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}
	if c.TelegramWebhookURL == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_URL environment variable not set")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func positiveIntEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
