// Package observability holds the slog, OpenTelemetry metrics and
// OpenTelemetry tracing helpers shared by the graph engine, the LLM
// wrappers and the pipelines. Each concern has a no-op default.
package observability

import (
	"log/slog"
	"time"
)

// Log attribute keys. Every record written during a run carries the
// run-scoped keys through EnrichLogger.
const (
	KeyGraph      = "graph"
	KeyRunID      = "run_id"
	KeyThreadID   = "thread_id"
	KeyNodeID     = "node_id"
	KeyStep       = "step"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

func durationAttr(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(d.Microseconds())/1000)
}

func errorAttr(err error) slog.Attr {
	return slog.String(KeyError, err.Error())
}

// EnrichLogger scopes logger to one node execution of a run. A nil logger
// stays nil.
func EnrichLogger(logger *slog.Logger, runID, threadID, nodeID string, step int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String(KeyRunID, runID),
		slog.String(KeyThreadID, threadID),
		slog.String(KeyNodeID, nodeID),
		slog.Int(KeyStep, step),
	)
}

// The Log helpers below accept a nil logger and write nothing.

func LogRunStart(logger *slog.Logger, graph, runID, threadID string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String(KeyGraph, graph), slog.String(KeyRunID, runID), slog.String(KeyThreadID, threadID))
}

func LogRunComplete(logger *slog.Logger, runID string, d time.Duration, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String(KeyRunID, runID), durationAttr(d), slog.Int("nodes_executed", nodeCount))
}

// LogRunError names lastNode, the node running or about to run when the
// run stopped.
func LogRunError(logger *slog.Logger, runID string, err error, d time.Duration, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String(KeyRunID, runID), errorAttr(err), durationAttr(d), slog.String("last_node", lastNode))
}

func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting", slog.String(KeyNodeID, nodeID))
}

func LogNodeComplete(logger *slog.Logger, nodeID string, d time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("node completed", slog.String(KeyNodeID, nodeID), durationAttr(d))
}

func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed", slog.String(KeyNodeID, nodeID), errorAttr(err))
}

func LogCheckpoint(logger *slog.Logger, nodeID, checkpointID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String(KeyNodeID, nodeID), slog.String("checkpoint_id", checkpointID), slog.Int("size_bytes", sizeBytes))
}

// LogCheckpointError is for checkpoint failures the run survives.
func LogCheckpointError(logger *slog.Logger, nodeID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String(KeyNodeID, nodeID), slog.String("operation", op), errorAttr(err))
}

// LogRecoverable logs a failure a pipeline node absorbed into its state.
// A nil err writes nothing.
func LogRecoverable(logger *slog.Logger, nodeID, stage string, err error) {
	if logger == nil || err == nil {
		return
	}
	logger.Warn("recoverable failure",
		slog.String(KeyNodeID, nodeID), slog.String("stage", stage), errorAttr(err))
}

// LogLLMCall logs a completion, stream or embedding request: failures at
// warn, successes at debug.
func LogLLMCall(logger *slog.Logger, operation, model string, d time.Duration, tokens int, err error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("operation", operation),
		slog.String("model", model),
		durationAttr(d),
		slog.Int("tokens", tokens),
	}
	if err != nil {
		logger.Warn("llm call failed", append(attrs, errorAttr(err))...)
		return
	}
	logger.Debug("llm call completed", attrs...)
}
