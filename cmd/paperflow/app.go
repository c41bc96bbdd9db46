package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/docstore/memory"
	"github.com/randalmurphal/paperflow/pkg/docstore/sqlite"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/config"
	fgerrors "github.com/randalmurphal/paperflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/inflight"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/observability"
	"github.com/randalmurphal/paperflow/pkg/linking"
	"github.com/randalmurphal/paperflow/pkg/trends"
)

// app holds the stores and agents built from Settings.
type app struct {
	store       *docstore.DB
	checkpoints checkpoint.Store
	linking     *linking.Service
	trends      *trends.Runner
}

// models is the chat client and embedder pair the pipelines call.
type models struct {
	client   llm.Client
	embedder llm.Embedder
}

func openStore(s config.StoreSettings) (*docstore.DB, error) {
	switch s.Driver {
	case "sqlite":
		db, err := sqlite.OpenStore(s.Path)
		if err != nil {
			return nil, fmt.Errorf("open document store: %w", err)
		}
		return db, nil
	default:
		return memory.NewStore(), nil
	}
}

func openCheckpoints(ctx context.Context, s config.CheckpointSettings) (checkpoint.Store, error) {
	switch s.Driver {
	case "sqlite":
		st, err := checkpoint.NewSQLiteStore(s.Path)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint store: %w", err)
		}
		return st, nil
	case "redis":
		return checkpoint.DialRedis(ctx, s.RedisAddr, s.RedisPassword, s.RedisDB,
			checkpoint.WithRedisPrefix(s.RedisPrefix))
	default:
		return checkpoint.NewMemoryStore(), nil
	}
}

// openAIModels builds the provider chain: OpenAI-compatible client, a shared
// rate limit, then logging and metrics.
func openAIModels(s config.LLMSettings, logger *slog.Logger) models {
	opts := []llm.OpenAIOption{
		llm.WithAPIKey(s.APIKey),
		llm.WithMaxTokens(s.MaxTokens),
		llm.WithDefaultTemperature(s.Temperature),
		llm.WithMaxRetries(s.MaxRetries),
		llm.WithTimeout(s.Timeout),
	}
	if s.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(s.BaseURL))
	}
	client := llm.NewOpenAIClient(append(opts, llm.WithModel(s.Model))...)
	embedder := llm.NewOpenAIEmbedder(append(opts,
		llm.WithModel(s.EmbeddingModel),
		llm.WithDimensions(s.EmbeddingDimensions),
	)...)

	limited := llm.NewRateLimited(client, embedder, s.RequestsPerSecond, s.Burst)
	inst := llm.NewInstrumented(limited, limited,
		llm.WithInstrumentLogger(logger),
		llm.WithInstrumentMetrics(observability.NewMetricsRecorder()),
		llm.WithModelNames(s.Model, s.EmbeddingModel),
	)
	return models{client: inst, embedder: inst}
}

// newApp opens the stores named by s and wires both agents to m.
func newApp(ctx context.Context, s config.Settings, logger *slog.Logger, m models) (*app, error) {
	store, err := openStore(s.Store)
	if err != nil {
		return nil, err
	}
	cps, err := openCheckpoints(ctx, s.Checkpoint)
	if err != nil {
		store.Close()
		return nil, err
	}

	a, err := wire(s, logger, store, cps, m)
	if err != nil {
		cps.Close()
		store.Close()
		return nil, err
	}
	return a, nil
}

func wire(s config.Settings, logger *slog.Logger, store *docstore.DB, cps checkpoint.Store, m models) (*app, error) {
	metrics := observability.NewMetricsRecorder()
	tracker := inflight.New()
	runOpts := []flowgraph.RunOption{flowgraph.WithMetrics(metrics), flowgraph.WithTracing(true)}
	retry := fgerrors.NewRetryConfig(
		fgerrors.WithMaxAttempts(s.Retry.MaxAttempts),
		fgerrors.WithInitialBackoff(s.Retry.InitialBackoff),
		fgerrors.WithMaxBackoff(s.Retry.MaxBackoff),
	)

	trendGraph, err := trends.NewGraph(trends.NewPipeline(store, m.client, m.embedder,
		trends.WithModel(s.LLM.Model),
		trends.WithConcurrency(s.LLM.Concurrency),
		trends.WithMetrics(metrics),
		trends.WithRetry(retry),
	))
	if err != nil {
		return nil, fmt.Errorf("build trend graph: %w", err)
	}
	runner := trends.NewRunner(trendGraph, store,
		trends.WithLogger(logger),
		trends.WithCheckpoints(cps),
		trends.WithRetain(s.Checkpoint.Retain),
		trends.WithTracker(tracker),
		trends.WithRunOptions(runOpts...),
	)

	svc, err := linking.NewService(
		linking.NewPipeline(store, m.client, m.embedder,
			linking.WithModel(s.LLM.Model),
			linking.WithBatchSize(s.LLM.Concurrency),
			linking.WithMetrics(metrics),
			linking.WithRetry(retry),
		),
		store,
		linking.WithLogger(logger),
		linking.WithCheckpoints(cps),
		linking.WithRetain(s.Checkpoint.Retain),
		linking.WithTracker(tracker),
		linking.WithRunOptions(runOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("build linking service: %w", err)
	}

	return &app{store: store, checkpoints: cps, linking: svc, trends: runner}, nil
}

// Close waits for background runs and closes the stores.
func (a *app) Close(ctx context.Context) error {
	err := a.trends.Wait(ctx)
	err = errors.Join(err, a.linking.Wait(ctx))
	err = errors.Join(err, a.checkpoints.Close())
	return errors.Join(err, a.store.Close())
}
