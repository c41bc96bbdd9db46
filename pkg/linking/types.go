package linking

import (
	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
)

// MatchType classifies how directly a paper addresses a problem.
type MatchType string

// Match types, from closest to loosest fit.
const (
	MatchDirect      MatchType = "direct"
	MatchMethodology MatchType = "methodology"
	MatchTangential  MatchType = "tangential"
	MatchInspiration MatchType = "inspiration"
)

// MatchScore rates a candidate on five dimensions, each in [0, 1].
// TRLGap is inverted: a smaller readiness gap scores higher.
type MatchScore struct {
	TechnicalFit     float64 `json:"technicalFit"`
	TRLGap           float64 `json:"trlGap"`
	TimeToValue      float64 `json:"timeToValue"`
	Novelty          float64 `json:"novelty"`
	EvidenceStrength float64 `json:"evidenceStrength"`
}

// CandidateMatch is an insight found by vector search, scored by the LLM
// before it is persisted as a research link.
type CandidateMatch struct {
	InsightID              string     `json:"insightId"`
	PaperID                string     `json:"paperId"`
	PaperTitle             string     `json:"paperTitle"`
	InsightSummary         string     `json:"insightSummary"`
	VectorSimilarity       float64    `json:"vectorSimilarity"`
	Scores                 MatchScore `json:"scores"`
	OverallScore           float64    `json:"overallScore"`
	MatchType              MatchType  `json:"matchType"`
	MatchRationale         string     `json:"matchRationale"`
	KeyInsights            []string   `json:"keyInsights"`
	ApplicationSuggestions []string   `json:"applicationSuggestions"`
}

// State is the research-linking pipeline state. The same state seeds the
// report graph when a run resumes after review.
type State struct {
	ProblemID       string                `json:"problemId"`
	RunID           string                `json:"runId"`
	Problem         *docstore.Problem     `json:"problem"`
	Candidates      []CandidateMatch      `json:"candidates"`
	CreatedLinkIDs  []string              `json:"createdLinkIds"`
	NeedsApproval   bool                  `json:"needsApproval"`
	ApprovedLinkIDs []string              `json:"approvedLinkIds"`
	ReportID        string                `json:"reportId"`
	Error           string                `json:"error"`
	Errors          []flowgraph.ErrorInfo `json:"errors"`
}

// NewState returns the initial state of a run. Links need review unless a
// node decides otherwise.
func NewState(problemID, runID string) State {
	return State{
		ProblemID:       problemID,
		RunID:           runID,
		Candidates:      []CandidateMatch{},
		CreatedLinkIDs:  []string{},
		NeedsApproval:   true,
		ApprovedLinkIDs: []string{},
	}
}

// Schema fields of State.
var (
	FieldProblemID       = flowgraph.Replace("problemId", func(s *State) *string { return &s.ProblemID })
	FieldRunID           = flowgraph.Replace("runId", func(s *State) *string { return &s.RunID })
	FieldProblem         = flowgraph.Replace("problem", func(s *State) **docstore.Problem { return &s.Problem })
	FieldCandidates      = flowgraph.Replace("candidates", func(s *State) *[]CandidateMatch { return &s.Candidates })
	FieldCreatedLinkIDs  = flowgraph.Replace("createdLinkIds", func(s *State) *[]string { return &s.CreatedLinkIDs })
	FieldNeedsApproval   = flowgraph.Replace("needsApproval", func(s *State) *bool { return &s.NeedsApproval })
	FieldApprovedLinkIDs = flowgraph.Replace("approvedLinkIds", func(s *State) *[]string { return &s.ApprovedLinkIDs })
	FieldReportID        = flowgraph.Replace("reportId", func(s *State) *string { return &s.ReportID })
	FieldError           = flowgraph.Replace("error", func(s *State) *string { return &s.Error })
	FieldErrors          = flowgraph.Append("errors", func(s *State) *[]flowgraph.ErrorInfo { return &s.Errors })
)

// Schema declares how node updates merge into State.
var Schema = flowgraph.NewSchema[State](
	FieldProblemID,
	FieldRunID,
	FieldProblem,
	FieldCandidates,
	FieldCreatedLinkIDs,
	FieldNeedsApproval,
	FieldApprovedLinkIDs,
	FieldReportID,
	FieldError,
	FieldErrors,
)
