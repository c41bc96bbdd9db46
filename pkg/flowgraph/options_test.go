package flowgraph

import (
	"log/slog"
	"testing"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/observability"
	"github.com/stretchr/testify/assert"
)

// TestDefaultRunConfig tests execution defaults.
func TestDefaultRunConfig(t *testing.T) {
	cfg := defaultRunConfig()

	assert.Equal(t, 1000, cfg.maxIterations)
	assert.True(t, cfg.checkpointFailureFatal)
	assert.Nil(t, cfg.checkpointStore)
	assert.IsType(t, observability.NoopMetrics{}, cfg.metrics)
	assert.IsType(t, observability.NoopSpanManager{}, cfg.spans)
	assert.False(t, cfg.tracingEnabled)
}

// TestWithMaxIterations tests the iteration limit option.
func TestWithMaxIterations(t *testing.T) {
	tests := []struct {
		name  string
		value int
		want  int
	}{
		{"positive", 25, 25},
		{"one", 1, 1},
		{"zero keeps default", 0, 1000},
		{"negative keeps default", -5, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultRunConfig()
			WithMaxIterations(tt.value)(&cfg)
			assert.Equal(t, tt.want, cfg.maxIterations)
		})
	}
}

// TestCheckpointOptions tests the checkpoint run options.
func TestCheckpointOptions(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cfg := defaultRunConfig()

	WithCheckpointing(store)(&cfg)
	WithThreadID("thread-1")(&cfg)
	WithCheckpointFailureFatal(false)(&cfg)

	assert.Same(t, store, cfg.checkpointStore)
	assert.Equal(t, "thread-1", cfg.threadID)
	assert.False(t, cfg.checkpointFailureFatal)
}

// TestObservabilityOptions tests logger, metrics and tracing options.
func TestObservabilityOptions(t *testing.T) {
	cfg := defaultRunConfig()
	logger := slog.Default()

	WithRunLogger(logger)(&cfg)
	WithMetrics(nil)(&cfg)
	WithTracing(true)(&cfg)

	assert.Same(t, logger, cfg.logger)
	assert.IsType(t, observability.NoopMetrics{}, cfg.metrics, "nil recorder keeps the default")
	assert.True(t, cfg.tracingEnabled)
	assert.NotEqual(t, observability.SpanManager(observability.NoopSpanManager{}), cfg.spans)

	WithTracing(false)(&cfg)
	assert.IsType(t, observability.NoopSpanManager{}, cfg.spans)
}

// TestResumeOptions tests resume configuration.
func TestResumeOptions(t *testing.T) {
	cfg := resumeConfig{}

	WithReplay()(&cfg)
	WithStateOverride(func(s any) any { return s })(&cfg)
	WithStateValidation(func(any) error { return nil })(&cfg)
	WithResumeRunOptions(WithMaxIterations(5), WithTracing(false))(&cfg)

	assert.True(t, cfg.replayNode)
	assert.NotNil(t, cfg.stateOverride)
	assert.NotNil(t, cfg.validateState)
	assert.Len(t, cfg.runOpts, 2)
}
