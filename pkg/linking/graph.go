package linking

import (
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
)

// Graph names used in logs, metrics and traces.
const (
	GraphName       = "research-linking"
	ReportGraphName = "solution-report"
)

func next(node string) flowgraph.RouterFunc[State] {
	return func(_ flowgraph.Context, s State) string {
		if s.Error != "" {
			return flowgraph.END
		}
		return node
	}
}

// afterSave pauses the run for review whenever links await a decision.
// A state that already carries approved links goes straight to the report.
func afterSave(_ flowgraph.Context, s State) string {
	if s.Error != "" || s.NeedsApproval || len(s.ApprovedLinkIDs) == 0 {
		return flowgraph.END
	}
	return NodeGenerateReport
}

// NewGraph compiles the research-linking graph:
//
//	load_problem -> find_candidates -> score_matches -> save_links
//	  -> (review) -> generate_report -> END
//
// The run ends after save_links while links await review; NewReportGraph
// picks it up once they are accepted.
func NewGraph(p *Pipeline) (*flowgraph.CompiledGraph[State], error) {
	return flowgraph.NewGraph[State]().
		WithSchema(Schema).
		AddNode(NodeLoadProblem, p.loadProblem).
		AddNode(NodeFindCandidates, p.findCandidates).
		AddNode(NodeScoreMatches, p.scoreMatches).
		AddNode(NodeSaveLinks, p.saveLinks).
		AddNode(NodeGenerateReport, p.generateReport).
		AddConditionalEdge(NodeLoadProblem, next(NodeFindCandidates), NodeFindCandidates, flowgraph.END).
		AddConditionalEdge(NodeFindCandidates, next(NodeScoreMatches), NodeScoreMatches, flowgraph.END).
		AddConditionalEdge(NodeScoreMatches, next(NodeSaveLinks), NodeSaveLinks, flowgraph.END).
		AddConditionalEdge(NodeSaveLinks, afterSave, NodeGenerateReport, flowgraph.END).
		AddConditionalEdge(NodeGenerateReport, next(flowgraph.END), flowgraph.END).
		SetEntry(NodeLoadProblem).
		Compile(flowgraph.WithName(GraphName))
}

// NewReportGraph compiles the single-node graph that writes the solution
// report for a reviewed run.
func NewReportGraph(p *Pipeline) (*flowgraph.CompiledGraph[State], error) {
	return flowgraph.NewGraph[State]().
		WithSchema(Schema).
		AddNode(NodeGenerateReport, p.generateReport).
		AddConditionalEdge(NodeGenerateReport, next(flowgraph.END), flowgraph.END).
		SetEntry(NodeGenerateReport).
		Compile(flowgraph.WithName(ReportGraphName))
}
