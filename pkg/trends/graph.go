package trends

import (
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
)

// GraphName names the compiled graph in logs, metrics and traces.
const GraphName = "trend-analysis"

// next routes to node unless a fatal error has been recorded.
func next(node string) flowgraph.RouterFunc[State] {
	return func(_ flowgraph.Context, s State) string {
		if s.Error != "" {
			return flowgraph.END
		}
		return node
	}
}

// NewGraph compiles the trend-analysis graph:
//
//	load_papers -> extract_signals -> compute_metrics -> classify_trends
//	  -> generate_forecast -> save_trends -> END
//
// Every edge leaves for END as soon as State.Error is set.
func NewGraph(p *Pipeline) (*flowgraph.CompiledGraph[State], error) {
	return flowgraph.NewGraph[State]().
		WithSchema(Schema).
		AddNode(NodeLoadPapers, p.loadPapers).
		AddNode(NodeExtractSignals, p.extractSignals).
		AddNode(NodeComputeMetrics, p.computeMetrics).
		AddNode(NodeClassifyTrends, p.classifyTrends).
		AddNode(NodeGenerateForecast, p.generateForecast).
		AddNode(NodeSaveTrends, p.saveTrends).
		AddConditionalEdge(NodeLoadPapers, next(NodeExtractSignals), NodeExtractSignals, flowgraph.END).
		AddConditionalEdge(NodeExtractSignals, next(NodeComputeMetrics), NodeComputeMetrics, flowgraph.END).
		AddConditionalEdge(NodeComputeMetrics, next(NodeClassifyTrends), NodeClassifyTrends, flowgraph.END).
		AddConditionalEdge(NodeClassifyTrends, next(NodeGenerateForecast), NodeGenerateForecast, flowgraph.END).
		AddConditionalEdge(NodeGenerateForecast, next(NodeSaveTrends), NodeSaveTrends, flowgraph.END).
		AddConditionalEdge(NodeSaveTrends, next(flowgraph.END), flowgraph.END).
		SetEntry(NodeLoadPapers).
		Compile(flowgraph.WithName(GraphName))
}
