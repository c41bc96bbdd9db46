// Command paperflow runs the research-linking and trend-analysis agents,
// either behind the HTTP API or one run at a time from the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli carries the state shared by every subcommand.
type cli struct {
	v        *viper.Viper
	cfgFile  string
	settings config.Settings
	logger   *slog.Logger
	// models builds the LLM chain; tests swap in mocks.
	models func(config.LLMSettings, *slog.Logger) models
}

func newCLI() *cli {
	return &cli{v: viper.New(), models: openAIModels}
}

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI().command().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "paperflow",
		Short: "Agent pipelines over research papers",
		Long: `paperflow links open problems to research insights and tracks research
trends. Both pipelines run as checkpointed graphs; research linking pauses
for human review of the proposed links before writing a solution report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is ./paperflow.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (json, text)")
	_ = c.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(
		newServeCmd(c),
		newTrendsCmd(c),
		newLinkCmd(c),
		newCheckpointsCmd(c),
		newVersionCmd(),
	)
	return root
}

// setup reads the config file and environment and builds the logger.
func (c *cli) setup(logOut io.Writer) error {
	if err := c.readConfig(); err != nil {
		return err
	}
	s, err := config.LoadSettings(config.New(c.v.AllSettings()))
	if err != nil {
		return err
	}
	c.settings = s
	c.logger = newLogger(logOut, s.Log)
	slog.SetDefault(c.logger)
	return nil
}

func (c *cli) readConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.SetConfigName("paperflow")
		c.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(home + "/.config/paperflow")
		}
	}

	c.v.SetEnvPrefix("PAPERFLOW")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
	setDefaults(c.v)

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// setDefaults registers every settings key so that AutomaticEnv can
// override it and AllSettings reports it.
func setDefaults(v *viper.Viper) {
	d := config.DefaultSettings()
	for key, val := range map[string]any{
		"llm.base_url":              d.LLM.BaseURL,
		"llm.api_key":               d.LLM.APIKey,
		"llm.model":                 d.LLM.Model,
		"llm.embedding_model":       d.LLM.EmbeddingModel,
		"llm.embedding_dimensions":  d.LLM.EmbeddingDimensions,
		"llm.temperature":           d.LLM.Temperature,
		"llm.max_tokens":            d.LLM.MaxTokens,
		"llm.max_retries":           d.LLM.MaxRetries,
		"llm.timeout":               d.LLM.Timeout,
		"llm.requests_per_second":   d.LLM.RequestsPerSecond,
		"llm.burst":                 d.LLM.Burst,
		"llm.concurrency":           d.LLM.Concurrency,
		"store.driver":              d.Store.Driver,
		"store.path":                d.Store.Path,
		"checkpoint.driver":         d.Checkpoint.Driver,
		"checkpoint.path":           d.Checkpoint.Path,
		"checkpoint.redis_addr":     d.Checkpoint.RedisAddr,
		"checkpoint.redis_password": d.Checkpoint.RedisPassword,
		"checkpoint.redis_db":       d.Checkpoint.RedisDB,
		"checkpoint.redis_prefix":   d.Checkpoint.RedisPrefix,
		"checkpoint.retain":         d.Checkpoint.Retain,
		"server.addr":               d.Server.Addr,
		"server.allowed_origins":    d.Server.AllowedOrigins,
		"server.shutdown_timeout":   d.Server.ShutdownTimeout,
		"log.level":                 d.Log.Level,
		"log.format":                d.Log.Format,
		"trends.category":           d.Trends.Category,
		"trends.period":             d.Trends.Period,
		"retry.max_attempts":        d.Retry.MaxAttempts,
		"retry.initial_backoff":     d.Retry.InitialBackoff,
		"retry.max_backoff":         d.Retry.MaxBackoff,
	} {
		v.SetDefault(key, val)
	}
}

// openApp builds the stores and agents. closeApp waits for background runs
// and releases the stores.
func (c *cli) openApp(ctx context.Context) (a *app, closeApp func(), err error) {
	a, err = newApp(ctx, c.settings, c.logger, c.models(c.settings.LLM, c.logger))
	if err != nil {
		return nil, nil, err
	}
	return a, func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			c.logger.Error("shutdown", "error", err.Error())
		}
	}, nil
}

func newLogger(w io.Writer, s config.LogSettings) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if s.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
