package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("paperflow")

// Span attribute keys shared by runs, nodes and LLM calls.
const (
	AttrGraph        = attribute.Key("paperflow.graph")
	AttrRunID        = attribute.Key("paperflow.run_id")
	AttrThreadID     = attribute.Key("paperflow.thread_id")
	AttrNode         = attribute.Key("paperflow.node")
	AttrStep         = attribute.Key("paperflow.step")
	AttrCheckpointID = attribute.Key("paperflow.checkpoint_id")
	AttrLLMOperation = attribute.Key("llm.operation")
	AttrLLMModel     = attribute.Key("llm.model")
)

// RunInfo identifies a graph run for its span. FromStep is non-zero when
// the run continues a thread that already has checkpoints.
type RunInfo struct {
	Graph    string
	RunID    string
	ThreadID string
	FromStep int
}

func (r RunInfo) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrGraph.String(r.Graph), AttrRunID.String(r.RunID)}
	if r.ThreadID != "" {
		attrs = append(attrs, AttrThreadID.String(r.ThreadID))
	}
	if r.FromStep > 0 {
		attrs = append(attrs, attribute.Int("paperflow.resumed_from_step", r.FromStep))
	}
	return attrs
}

// SpanManager opens the spans of a graph run. Node spans are children of
// the run span carried by ctx.
type SpanManager interface {
	StartRunSpan(ctx context.Context, run RunInfo) (context.Context, trace.Span)
	StartNodeSpan(ctx context.Context, nodeID string, step int) (context.Context, trace.Span)
	EndSpanWithError(span trace.Span, err error)

	// CheckpointSaved adds a checkpoint event to the span in ctx.
	CheckpointSaved(ctx context.Context, checkpointID string, step, bytes int)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global tracer
// provider, so otel.SetTracerProvider must run first.
func NewSpanManager() SpanManager {
	return otelSpanManager{}
}

func (otelSpanManager) StartRunSpan(ctx context.Context, run RunInfo) (context.Context, trace.Span) {
	return tracer.Start(ctx, "paperflow.graph.run",
		trace.WithAttributes(run.attributes()...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (otelSpanManager) StartNodeSpan(ctx context.Context, nodeID string, step int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "paperflow.node."+nodeID,
		trace.WithAttributes(AttrNode.String(nodeID), AttrStep.Int(step)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (otelSpanManager) CheckpointSaved(ctx context.Context, checkpointID string, step, bytes int) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("checkpoint.saved", trace.WithAttributes(
		AttrCheckpointID.String(checkpointID),
		AttrStep.Int(step),
		attribute.Int("paperflow.checkpoint_bytes", bytes),
	))
}

// StartLLMSpan starts a client span around one LLM request.
func StartLLMSpan(ctx context.Context, operation, model string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "paperflow.llm."+operation,
		trace.WithAttributes(AttrLLMOperation.String(operation), AttrLLMModel.String(model)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError sets the span status from err and ends it. A nil span
// is ignored.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
