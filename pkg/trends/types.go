package trends

import (
	"time"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
)

// Period is the analysis window of a run.
type Period string

// Supported periods.
const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// Valid reports whether p is a supported period.
func (p Period) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Days returns the length of the period window.
func (p Period) Days() int {
	switch p {
	case Daily:
		return 1
	case Monthly:
		return 30
	default:
		return 7
	}
}

// KeywordTrend labels a keyword against the previous period.
type KeywordTrend string

// Keyword trend labels.
const (
	KeywordRising  KeywordTrend = "rising"
	KeywordStable  KeywordTrend = "stable"
	KeywordFalling KeywordTrend = "falling"
)

// KeywordSignal is one TF-IDF ranked keyword.
type KeywordSignal struct {
	Keyword   string       `json:"keyword"`
	Score     float64      `json:"score"`
	Frequency int          `json:"frequency"`
	Trend     KeywordTrend `json:"trend"`
}

// TopicSignal is one embedding cluster with its LLM label.
type TopicSignal struct {
	TopicID        string   `json:"topicId"`
	Label          string   `json:"label"`
	Keywords       []string `json:"keywords"`
	PaperCount     int      `json:"paperCount"`
	CoherenceScore float64  `json:"coherenceScore"`
}

// EntityType classifies an extracted entity.
type EntityType string

// Entity types.
const (
	EntityMethod  EntityType = "method"
	EntityDataset EntityType = "dataset"
	EntityMetric  EntityType = "metric"
	EntityModel   EntityType = "model"
)

// EntitySignal is an entity mentioned across the analyzed papers.
type EntitySignal struct {
	Entity    string     `json:"entity"`
	Type      EntityType `json:"type"`
	Frequency int        `json:"frequency"`
	// Papers are the IDs of papers whose abstract mentions the entity.
	Papers []string `json:"papers"`
}

// TemporalBin aggregates papers published in one time bucket.
type TemporalBin struct {
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	PaperCount   int       `json:"paperCount"`
	AvgCitations float64   `json:"avgCitations"`
	TopKeywords  []string  `json:"topKeywords"`
}

// Signals is the output of signal extraction.
type Signals struct {
	Keywords     []KeywordSignal `json:"keywords"`
	Topics       []TopicSignal   `json:"topics"`
	Entities     []EntitySignal  `json:"entities"`
	TemporalBins []TemporalBin   `json:"temporalBins"`
}

// Metrics summarizes a set of papers against the previous period.
type Metrics struct {
	PaperCount           int     `json:"paperCount"`
	PaperCountPrevPeriod int     `json:"paperCountPrevPeriod"`
	GrowthRate           float64 `json:"growthRate"`
	Momentum             float64 `json:"momentum"`
	AuthorCount          int     `json:"authorCount"`
	AvgCitations         float64 `json:"avgCitations"`
	CrossCategoryScore   float64 `json:"crossCategoryScore"`
	TrendScore           float64 `json:"trendScore"`
}

// TrendStatus classifies a trend.
type TrendStatus string

// Trend statuses, in classification precedence.
const (
	StatusBreakthrough TrendStatus = "breakthrough"
	StatusEmerging     TrendStatus = "emerging"
	StatusGrowing      TrendStatus = "growing"
	StatusDeclining    TrendStatus = "declining"
	StatusStable       TrendStatus = "stable"
)

// TimePoint is one sample of a trend's time series.
type TimePoint struct {
	Date       string `json:"date"`
	PaperCount int    `json:"paperCount"`
}

// ClassifiedTrend is a topic promoted to a trend.
type ClassifiedTrend struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Status        TrendStatus `json:"status"`
	Keywords      []string    `json:"keywords"`
	Categories    []string    `json:"categories"`
	Metrics       Metrics     `json:"metrics"`
	TimeSeries    []TimePoint `json:"timeSeries"`
	TopPapers     []string    `json:"topPapers"`
	RelatedTrends []string    `json:"relatedTrends"`
}

// Direction is a forecast direction.
type Direction string

// Forecast directions.
const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// Forecast predicts where a trend goes next period.
type Forecast struct {
	TrendID             string    `json:"trendId"`
	Direction           Direction `json:"direction"`
	Confidence          float64   `json:"confidence"`
	Reasoning           string    `json:"reasoning"`
	PredictedGrowthRate float64   `json:"predictedGrowthRate"`
	TimeHorizon         Period    `json:"timeHorizon"`
}

// Status is the stage a trend-analysis run has reached.
type Status string

// Pipeline stages.
const (
	StageIdle              Status = "idle"
	StageLoadingPapers     Status = "loading_papers"
	StageExtractingSignals Status = "extracting_signals"
	StageComputingMetrics  Status = "computing_metrics"
	StageClassifying       Status = "classifying"
	StageForecasting       Status = "forecasting"
	StageSaving            Status = "saving"
	StageComplete          Status = "complete"
	StageFailed            Status = "failed"
)

// Progress counts what a run has produced so far.
type Progress struct {
	CurrentNode        string `json:"currentNode"`
	PapersLoaded       int    `json:"papersLoaded"`
	SignalsExtracted   int    `json:"signalsExtracted"`
	TrendsClassified   int    `json:"trendsClassified"`
	ForecastsGenerated int    `json:"forecastsGenerated"`
}

// State is the trend-analysis pipeline state.
type State struct {
	Category             string                `json:"category"`
	Period               Period                `json:"period"`
	Papers               []docstore.Paper      `json:"papers"`
	PreviousPeriodPapers []docstore.Paper      `json:"previousPeriodPapers"`
	Signals              *Signals              `json:"signals,omitempty"`
	Metrics              *Metrics              `json:"metrics,omitempty"`
	Trends               []ClassifiedTrend     `json:"trends"`
	Forecasts            []Forecast            `json:"forecasts"`
	SavedTrendIDs        []string              `json:"savedTrendIds"`
	Status               Status                `json:"status"`
	Progress             Progress              `json:"progress"`
	Error                string                `json:"error,omitempty"`
	Errors               []flowgraph.ErrorInfo `json:"errors"`
}

// NewState returns the initial state of a run.
func NewState(category string, period Period) State {
	return State{Category: category, Period: period, Status: StageIdle}
}

// Schema fields of State.
var (
	FieldCategory      = flowgraph.Replace("category", func(s *State) *string { return &s.Category })
	FieldPeriod        = flowgraph.Replace("period", func(s *State) *Period { return &s.Period })
	FieldPapers        = flowgraph.Replace("papers", func(s *State) *[]docstore.Paper { return &s.Papers })
	FieldPrevious      = flowgraph.Replace("previousPeriodPapers", func(s *State) *[]docstore.Paper { return &s.PreviousPeriodPapers })
	FieldSignals       = flowgraph.Replace("signals", func(s *State) **Signals { return &s.Signals })
	FieldMetrics       = flowgraph.Replace("metrics", func(s *State) **Metrics { return &s.Metrics })
	FieldTrends        = flowgraph.Replace("trends", func(s *State) *[]ClassifiedTrend { return &s.Trends })
	FieldForecasts     = flowgraph.Append("forecasts", func(s *State) *[]Forecast { return &s.Forecasts })
	FieldSavedTrendIDs = flowgraph.Append("savedTrendIds", func(s *State) *[]string { return &s.SavedTrendIDs })
	FieldStatus        = flowgraph.Replace("status", func(s *State) *Status { return &s.Status })
	FieldProgress      = flowgraph.Replace("progress", func(s *State) *Progress { return &s.Progress })
	FieldError         = flowgraph.Replace("error", func(s *State) *string { return &s.Error })
	FieldErrors        = flowgraph.Append("errors", func(s *State) *[]flowgraph.ErrorInfo { return &s.Errors })
)

// Schema declares how node updates merge into State.
var Schema = flowgraph.NewSchema[State](
	FieldCategory,
	FieldPeriod,
	FieldPapers,
	FieldPrevious,
	FieldSignals,
	FieldMetrics,
	FieldTrends,
	FieldForecasts,
	FieldSavedTrendIDs,
	FieldStatus,
	FieldProgress,
	FieldError,
	FieldErrors,
)
