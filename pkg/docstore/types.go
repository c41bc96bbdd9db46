package docstore

import (
	"time"
)

// Author of a paper.
type Author struct {
	Name         string   `json:"name"`
	Affiliations []string `json:"affiliations,omitempty"`
}

// Paper is an ingested research paper.
type Paper struct {
	ID              string    `json:"id"`
	ArxivID         string    `json:"arxivId"`
	Title           string    `json:"title"`
	Abstract        string    `json:"abstract"`
	Authors         []Author  `json:"authors"`
	Categories      []string  `json:"categories"`
	PrimaryCategory string    `json:"primaryCategory"`
	PublishedDate   time.Time `json:"publishedDate"`
	CitationCount   *int      `json:"citationCount,omitempty"`
	Embedding       []float64 `json:"embedding,omitempty"`
}

// Citations returns the citation count, 0 when unknown.
func (p Paper) Citations() int {
	if p.CitationCount == nil {
		return 0
	}
	return *p.CitationCount
}

// Insight is an LLM-generated digest of one paper.
type Insight struct {
	ID                    string    `json:"id"`
	PaperID               string    `json:"paperId"`
	Summary               string    `json:"summary"`
	KeyFindings           []string  `json:"keyFindings"`
	Methodology           string    `json:"methodology"`
	PracticalApplications []string  `json:"practicalApplications"`
	Embedding             []float64 `json:"embedding,omitempty"`
}

// ScoredInsight is a vector search hit.
type ScoredInsight struct {
	Insight
	Score float64 `json:"score"`
}

// ProblemStatus tracks how far research on a problem has progressed.
type ProblemStatus string

// Problem statuses.
const (
	ProblemNew           ProblemStatus = "new"
	ProblemResearching   ProblemStatus = "researching"
	ProblemSolutionFound ProblemStatus = "solution-found"
)

// Problem is a startup problem that research is linked against.
type Problem struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Severity    string        `json:"severity"`
	Status      ProblemStatus `json:"status"`
}

// ReviewStatus is the human review state of a research link.
type ReviewStatus string

// Review statuses.
const (
	ReviewPending     ReviewStatus = "pending"
	ReviewNeedsReview ReviewStatus = "needs-review"
	ReviewAccepted    ReviewStatus = "accepted"
	ReviewRejected    ReviewStatus = "rejected"
)

// Valid reports whether s is one of the known review statuses.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewNeedsReview, ReviewAccepted, ReviewRejected:
		return true
	}
	return false
}

// ResearchLink connects a paper (and its insight) to a problem.
type ResearchLink struct {
	ID                     string       `json:"id"`
	ProblemID              string       `json:"problemId"`
	PaperID                string       `json:"paperId"`
	InsightID              string       `json:"insightId,omitempty"`
	RelevanceScore         float64      `json:"relevanceScore"`
	MatchType              string       `json:"matchType"`
	MatchRationale         string       `json:"matchRationale"`
	KeyInsights            []string     `json:"keyInsights"`
	ApplicationSuggestions []string     `json:"applicationSuggestions"`
	Confidence             float64      `json:"confidence"`
	ReviewStatus           ReviewStatus `json:"reviewStatus"`
	ReviewedAt             *time.Time   `json:"reviewedAt,omitempty"`
	CreatedAt              time.Time    `json:"createdAt"`
}

// ReportSection is one section of a solution report.
type ReportSection struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Citations []string `json:"citations"`
}

// Recommendation is an action item of a solution report.
type Recommendation struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Priority      string   `json:"priority"`
	Effort        string   `json:"effort"`
	RelatedPapers []string `json:"relatedPapers"`
}

// SolutionReport aggregates approved research links into advice.
type SolutionReport struct {
	ID               string           `json:"id"`
	ProblemID        string           `json:"problemId"`
	Title            string           `json:"title"`
	ExecutiveSummary string           `json:"executiveSummary"`
	Sections         []ReportSection  `json:"sections"`
	Recommendations  []Recommendation `json:"recommendations"`
	LinkedResearch   []string         `json:"linkedResearch"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// TrendMetrics is the persisted subset of trend metrics.
type TrendMetrics struct {
	PaperCount           int     `json:"paperCount"`
	PaperCountPrevPeriod int     `json:"paperCountPrevPeriod"`
	GrowthRate           float64 `json:"growthRate"`
	Momentum             float64 `json:"momentum"`
	AuthorCount          int     `json:"authorCount"`
	AvgCitations         float64 `json:"avgCitations"`
	CrossCategoryScore   float64 `json:"crossCategoryScore"`
	TrendScore           float64 `json:"trendScore"`
}

// TimePoint is one sample of a trend's time series.
type TimePoint struct {
	Date  string `json:"date"`
	Value int    `json:"value"`
}

// TrendForecast is the persisted forecast summary.
type TrendForecast struct {
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

// TrendRecord is a persisted trend, keyed by TrendID.
type TrendRecord struct {
	ID            string         `json:"id"`
	TrendID       string         `json:"trendId"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Status        string         `json:"status"`
	Category      string         `json:"category"`
	Topic         string         `json:"topic"`
	Period        string         `json:"period"`
	StartDate     string         `json:"startDate"`
	EndDate       string         `json:"endDate"`
	Keywords      []string       `json:"keywords"`
	Metrics       TrendMetrics   `json:"metrics"`
	TimeSeries    []TimePoint    `json:"timeSeries"`
	TopPapers     []string       `json:"topPapers"`
	RelatedTopics []string       `json:"relatedTopics"`
	RelatedTrends []string       `json:"relatedTrends"`
	Forecast      *TrendForecast `json:"forecast,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// AgentType names a pipeline.
type AgentType string

// Known pipelines.
const (
	AgentResearchLinking AgentType = "research-linking"
	AgentTrendAnalysis   AgentType = "trend-analysis"
)

// RunStatus is the lifecycle state of an AgentRun.
type RunStatus string

// Run statuses.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Output statuses reported by pipelines in RunOutput.Status.
const (
	OutputAwaitingApproval = "awaiting-approval"
	OutputCompleted        = "completed"
	OutputFailed           = "failed"
)

// RunOutput is the incrementally updated result of a run.
type RunOutput struct {
	Status        string   `json:"status,omitempty"`
	LinksCreated  int      `json:"linksCreated,omitempty"`
	LinkIDs       []string `json:"linkIds,omitempty"`
	ApprovedLinks int      `json:"approvedLinks,omitempty"`
	ReportID      string   `json:"reportId,omitempty"`
	TrendIDs      []string `json:"trendIds,omitempty"`
	TrendsFound   int      `json:"trendsFound,omitempty"`
	Forecasts     int      `json:"forecasts,omitempty"`
}

// RunError describes why a run failed.
type RunError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Node    string `json:"node,omitempty"` // graph node that failed, when known
}

// AgentRun records one pipeline execution. Its ID doubles as the
// checkpoint thread of the run.
type AgentRun struct {
	ID          string            `json:"id"`
	AgentType   AgentType         `json:"agentType"`
	Status      RunStatus         `json:"status"`
	TriggeredBy string            `json:"triggeredBy"`
	Input       map[string]string `json:"input,omitempty"`
	Output      *RunOutput        `json:"output,omitempty"`
	Error       *RunError         `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}
