package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings is the typed application configuration for paperflow.
// Build it with LoadSettings so defaults are applied and the result is validated.
type Settings struct {
	LLM        LLMSettings        `validate:"required"`
	Store      StoreSettings      `validate:"required"`
	Checkpoint CheckpointSettings `validate:"required"`
	Server     ServerSettings     `validate:"required"`
	Log        LogSettings        `validate:"required"`
	Trends     TrendSettings      `validate:"required"`
	Retry      RetrySettings      `validate:"required"`
}

// LLMSettings configures the OpenAI-compatible chat and embedding endpoints.
type LLMSettings struct {
	BaseURL             string        `validate:"omitempty,url"`
	APIKey              string
	Model               string        `validate:"required"`
	EmbeddingModel      string        `validate:"required"`
	EmbeddingDimensions int           `validate:"gte=0"`
	Temperature         float64       `validate:"gte=0,lte=2"`
	MaxTokens           int           `validate:"gt=0"`
	MaxRetries          int           `validate:"gte=0,lte=10"`
	Timeout             time.Duration `validate:"gt=0"`
	RequestsPerSecond   float64       `validate:"gt=0"`
	Burst               int           `validate:"gt=0"`
	Concurrency         int           `validate:"gt=0,lte=64"`
}

// StoreSettings selects the document store.
type StoreSettings struct {
	Driver string `validate:"oneof=memory sqlite"`
	Path   string `validate:"required_if=Driver sqlite"`
}

// CheckpointSettings selects the checkpoint store and its retention.
type CheckpointSettings struct {
	Driver        string `validate:"oneof=memory sqlite redis"`
	Path          string `validate:"required_if=Driver sqlite"`
	RedisAddr     string `validate:"required_if=Driver redis"`
	RedisPassword string
	RedisDB       int    `validate:"gte=0"`
	RedisPrefix   string `validate:"required"`
	// Retain is how many checkpoints of a finished thread are kept. 0 keeps all.
	Retain int `validate:"gte=0"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Addr            string        `validate:"required"`
	AllowedOrigins  []string      `validate:"dive,required"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// LogSettings configures the slog handler built by the CLI.
type LogSettings struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json text"`
}

// TrendSettings holds the defaults of a trend-analysis run.
type TrendSettings struct {
	Category string `validate:"required"`
	Period   string `validate:"oneof=daily weekly monthly"`
}

// RetrySettings bound the retries of store reads and embeddings inside
// pipeline nodes.
type RetrySettings struct {
	MaxAttempts    int           `validate:"gte=1,lte=10"`
	InitialBackoff time.Duration `validate:"gt=0"`
	MaxBackoff     time.Duration `validate:"gtefield=InitialBackoff"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		LLM: LLMSettings{
			BaseURL:             "https://openrouter.ai/api/v1",
			Model:               "anthropic/claude-3.5-sonnet",
			EmbeddingModel:      "openai/text-embedding-3-small",
			EmbeddingDimensions: 1536,
			Temperature:         0.3,
			MaxTokens:           4096,
			MaxRetries:          2,
			Timeout:             60 * time.Second,
			RequestsPerSecond:   5,
			Burst:               5,
			Concurrency:         5,
		},
		Store: StoreSettings{Driver: "memory"},
		Checkpoint: CheckpointSettings{
			Driver:      "memory",
			RedisPrefix: "paperflow:checkpoint",
		},
		Server: ServerSettings{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log:    LogSettings{Level: "info", Format: "json"},
		Trends: TrendSettings{Category: "cs.AI", Period: "weekly"},
		Retry: RetrySettings{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadSettings reads Settings from cfg, falling back to DefaultSettings for
// every missing key, and validates the result.
//
// Keys use the section names in lower case, e.g. "llm.model",
// "checkpoint.driver", "server.allowed_origins".
func LoadSettings(cfg Config) (Settings, error) {
	d := DefaultSettings()

	llm := cfg.Sub("llm")
	store := cfg.Sub("store")
	cp := cfg.Sub("checkpoint")
	srv := cfg.Sub("server")
	lg := cfg.Sub("log")
	tr := cfg.Sub("trends")
	rt := cfg.Sub("retry")

	s := Settings{
		LLM: LLMSettings{
			BaseURL:             llm.String("base_url", d.LLM.BaseURL),
			APIKey:              llm.String("api_key", d.LLM.APIKey),
			Model:               llm.String("model", d.LLM.Model),
			EmbeddingModel:      llm.String("embedding_model", d.LLM.EmbeddingModel),
			EmbeddingDimensions: llm.Int("embedding_dimensions", d.LLM.EmbeddingDimensions),
			Temperature:         llm.Float("temperature", d.LLM.Temperature),
			MaxTokens:           llm.Int("max_tokens", d.LLM.MaxTokens),
			MaxRetries:          llm.Int("max_retries", d.LLM.MaxRetries),
			Timeout:             llm.Duration("timeout", d.LLM.Timeout),
			RequestsPerSecond:   llm.Float("requests_per_second", d.LLM.RequestsPerSecond),
			Burst:               llm.Int("burst", d.LLM.Burst),
			Concurrency:         llm.Int("concurrency", d.LLM.Concurrency),
		},
		Store: StoreSettings{
			Driver: store.String("driver", d.Store.Driver),
			Path:   store.String("path", d.Store.Path),
		},
		Checkpoint: CheckpointSettings{
			Driver:        cp.String("driver", d.Checkpoint.Driver),
			Path:          cp.String("path", d.Checkpoint.Path),
			RedisAddr:     cp.String("redis_addr", d.Checkpoint.RedisAddr),
			RedisPassword: cp.String("redis_password", d.Checkpoint.RedisPassword),
			RedisDB:       cp.Int("redis_db", d.Checkpoint.RedisDB),
			RedisPrefix:   cp.String("redis_prefix", d.Checkpoint.RedisPrefix),
			Retain:        cp.Int("retain", d.Checkpoint.Retain),
		},
		Server: ServerSettings{
			Addr:            srv.String("addr", d.Server.Addr),
			AllowedOrigins:  srv.StringSlice("allowed_origins", d.Server.AllowedOrigins),
			ShutdownTimeout: srv.Duration("shutdown_timeout", d.Server.ShutdownTimeout),
		},
		Log: LogSettings{
			Level:  lg.String("level", d.Log.Level),
			Format: lg.String("format", d.Log.Format),
		},
		Trends: TrendSettings{
			Category: tr.String("category", d.Trends.Category),
			Period:   tr.String("period", d.Trends.Period),
		},
		Retry: RetrySettings{
			MaxAttempts:    rt.Int("max_attempts", d.Retry.MaxAttempts),
			InitialBackoff: rt.Duration("initial_backoff", d.Retry.InitialBackoff),
			MaxBackoff:     rt.Duration("max_backoff", d.Retry.MaxBackoff),
		},
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings against their validate tags.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
