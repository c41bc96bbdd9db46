package linking

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/prompt"
)

// Pipeline limits.
const (
	VectorSearchLimit = 20
	ScoringBatchSize  = 5
	TopCandidates     = 10
	ScoringMaxTokens  = 4096
	ReportMaxTokens   = 8192
	MaxStringLength   = 2000
)

// Dimension weights of the overall score. They sum to 1.
const (
	weightTechnicalFit     = 0.30
	weightTRLGap           = 0.20
	weightTimeToValue      = 0.20
	weightNovelty          = 0.15
	weightEvidenceStrength = 0.15
)

// Match type thresholds on TechnicalFit.
const (
	directThreshold      = 0.8
	methodologyThreshold = 0.6
	tangentialThreshold  = 0.4
)

// ComputeOverallScore is the weighted sum of the dimensions, clamped to [0, 1].
// A NaN dimension counts as 0.
func ComputeOverallScore(s MatchScore) float64 {
	sum := orZero(s.TechnicalFit)*weightTechnicalFit +
		orZero(s.TRLGap)*weightTRLGap +
		orZero(s.TimeToValue)*weightTimeToValue +
		orZero(s.Novelty)*weightNovelty +
		orZero(s.EvidenceStrength)*weightEvidenceStrength
	return max(0, min(1, sum))
}

func orZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// DetermineMatchType classifies a match by technical fit alone.
func DetermineMatchType(technicalFit float64) MatchType {
	switch {
	case technicalFit >= directThreshold:
		return MatchDirect
	case technicalFit >= methodologyThreshold:
		return MatchMethodology
	case technicalFit >= tangentialThreshold:
		return MatchTangential
	default:
		return MatchInspiration
	}
}

// ValidScores reports whether every dimension lies in [0, 1]. NaN does not.
func ValidScores(s MatchScore) bool {
	for _, v := range []float64{s.TechnicalFit, s.TRLGap, s.TimeToValue, s.Novelty, s.EvidenceStrength} {
		if !(v >= 0 && v <= 1) {
			return false
		}
	}
	return true
}

// Sanitize prepares untrusted text for a prompt: it keeps the first
// MaxStringLength characters and replaces backticks, which would close the
// response fence, with single quotes.
func Sanitize(s string) string {
	if utf8.RuneCountInString(s) > MaxStringLength {
		s = string([]rune(s)[:MaxStringLength])
	}
	return strings.ReplaceAll(s, "`", "'")
}

type scoreValues struct {
	TechnicalFit     *float64 `json:"technicalFit" validate:"required,gte=0,lte=1"`
	TRLGap           *float64 `json:"trlGap" validate:"required,gte=0,lte=1"`
	TimeToValue      *float64 `json:"timeToValue" validate:"required,gte=0,lte=1"`
	Novelty          *float64 `json:"novelty" validate:"required,gte=0,lte=1"`
	EvidenceStrength *float64 `json:"evidenceStrength" validate:"required,gte=0,lte=1"`
}

func (v scoreValues) score() MatchScore {
	return MatchScore{
		TechnicalFit:     *v.TechnicalFit,
		TRLGap:           *v.TRLGap,
		TimeToValue:      *v.TimeToValue,
		Novelty:          *v.Novelty,
		EvidenceStrength: *v.EvidenceStrength,
	}
}

type scoreResponse struct {
	Scores                 scoreValues `json:"scores" validate:"required"`
	MatchRationale         string      `json:"matchRationale" validate:"max=2000"`
	KeyInsights            []string    `json:"keyInsights" validate:"required,max=10,dive,max=500"`
	ApplicationSuggestions []string    `json:"applicationSuggestions" validate:"required,max=10,dive,max=500"`
}

type reportSection struct {
	Title    string   `json:"title" validate:"max=200"`
	Content  string   `json:"content" validate:"max=10000"`
	PaperIDs []string `json:"paperIds"`
}

type reportRecommendation struct {
	Title       string   `json:"title" validate:"max=200"`
	Description string   `json:"description" validate:"max=2000"`
	Priority    string   `json:"priority" validate:"required,oneof=low medium high"`
	Effort      string   `json:"effort" validate:"required,oneof=low medium high"`
	PaperIDs    []string `json:"paperIds"`
}

type reportResponse struct {
	Title            string                 `json:"title" validate:"max=200"`
	ExecutiveSummary string                 `json:"executiveSummary" validate:"max=5000"`
	Sections         []reportSection        `json:"sections" validate:"required,max=10,dive"`
	Recommendations  []reportRecommendation `json:"recommendations" validate:"required,max=10,dive"`
}

var scoringPrompt = prompt.Must(prompt.New("match-scoring", `You are an expert research analyst evaluating how well a research paper can help solve a startup's problem.

## Problem
Title: ${problemTitle}
Description: ${problemDescription}
Category: ${problemCategory}
Severity: ${problemSeverity}

## Research Paper
Title: ${paperTitle}
Abstract: ${paperAbstract}

## Research Insights
Summary: ${insightSummary}
Key Findings: ${keyFindings}
Methodology: ${methodology}
Practical Applications: ${practicalApplications}

## Your Task
Score this research-problem match on 5 dimensions (0.0 to 1.0 scale):

1. **technicalFit** (weight: 30%): How directly does this research address the problem?
   - 0.8-1.0: Direct solution to the core problem
   - 0.6-0.8: Addresses methodology that could solve the problem
   - 0.4-0.6: Tangentially related, requires adaptation
   - 0.0-0.4: Inspirational only, significant gap

2. **trlGap** (weight: 20%): Research readiness (inverted: smaller gap = higher score)
   - 0.8-1.0: Ready for immediate application
   - 0.6-0.8: Needs minor adaptation/testing
   - 0.4-0.6: Requires significant development
   - 0.0-0.4: Early research, major development needed

3. **timeToValue** (weight: 20%): Speed of potential implementation
   - 0.8-1.0: Can be implemented in weeks
   - 0.6-0.8: 1-3 months implementation
   - 0.4-0.6: 3-6 months implementation
   - 0.0-0.4: 6+ months or unclear timeline

4. **novelty** (weight: 15%): Uniqueness of the approach
   - 0.8-1.0: Novel approach not commonly used
   - 0.6-0.8: Innovative combination of techniques
   - 0.4-0.6: Known technique applied to new domain
   - 0.0-0.4: Standard approach, widely used

5. **evidenceStrength** (weight: 15%): Quality of experimental validation
   - 0.8-1.0: Strong empirical results, multiple validations
   - 0.6-0.8: Solid experiments, reproducible
   - 0.4-0.6: Limited experiments, some validation
   - 0.0-0.4: Theoretical only, no validation

Also provide:
- **matchRationale**: 2-3 sentences explaining why this research is relevant
- **keyInsights**: 3-5 specific insights from the research that apply to this problem
- **applicationSuggestions**: 2-4 concrete suggestions for how to apply this research

Respond in JSON format:
`+"```json"+`
{
  "scores": {
    "technicalFit": 0.0,
    "trlGap": 0.0,
    "timeToValue": 0.0,
    "novelty": 0.0,
    "evidenceStrength": 0.0
  },
  "matchRationale": "...",
  "keyInsights": ["...", "..."],
  "applicationSuggestions": ["...", "..."]
}
`+"```"))

var reportPrompt = prompt.Must(prompt.New("solution-report", `You are an expert research analyst creating a comprehensive solution report for a startup problem.

## Problem
Title: ${problemTitle}
Description: ${problemDescription}
Category: ${problemCategory}
Severity: ${problemSeverity}

## Approved Research Links
${researchLinks}

## Your Task
Create a comprehensive solution report with:

1. **title**: A clear, actionable title for the report
2. **executiveSummary**: 2-3 paragraph summary of the key findings and recommendations
3. **sections**: 3-5 detailed sections covering:
   - Problem Analysis
   - Research Findings
   - Proposed Solutions
   - Implementation Considerations
   - Risk Assessment
4. **recommendations**: 3-5 prioritized recommendations with:
   - title: Short action title
   - description: Detailed explanation
   - priority: "low" | "medium" | "high"
   - effort: "low" | "medium" | "high"

Cite papers by the paperN reference given with each link.

Respond in JSON format:
`+"```json"+`
{
  "title": "...",
  "executiveSummary": "...",
  "sections": [
    {
      "title": "...",
      "content": "...",
      "paperIds": ["paper1", "paper2"]
    }
  ],
  "recommendations": [
    {
      "title": "...",
      "description": "...",
      "priority": "high",
      "effort": "medium",
      "paperIds": ["paper1"]
    }
  ]
}
`+"```"))
