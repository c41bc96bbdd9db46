package trends

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/prompt"
)

// Heuristic reasoning strings.
const (
	ReasonHeuristic = "Based on historical growth rate"
	ReasonFallback  = "Based on historical growth rate (fallback)"
)

const forecastSeriesPoints = 10

var forecastPrompt = prompt.Must(prompt.New("forecast", `Analyze this research trend and predict its future direction.

Trend: ${name}
Status: ${status}
Current paper count: ${count}
Previous period: ${previous}
Growth rate: ${growth}%
Keywords: ${keywords}

Time series (last 10 points):
${series}

Predict the trend direction for the next ${period}:
- direction: "up", "down", or "stable"
- confidence: 0-1 (how confident in the prediction)
- reasoning: Brief explanation (1-2 sentences)
- predictedGrowthRate: Expected growth rate as decimal (e.g., 0.25 for 25%)

Return as JSON.`))

type forecastResponse struct {
	Direction           Direction `json:"direction" validate:"required,oneof=up down stable"`
	Confidence          *float64  `json:"confidence" validate:"required,gte=0,lte=1"`
	Reasoning           string    `json:"reasoning"`
	PredictedGrowthRate *float64  `json:"predictedGrowthRate" validate:"required"`
}

// HeuristicForecast predicts from the historical growth rate alone.
func HeuristicForecast(t ClassifiedTrend, period Period, reasoning string) Forecast {
	dir := DirectionStable
	switch g := t.Metrics.GrowthRate; {
	case g > 0.1:
		dir = DirectionUp
	case g < -0.1:
		dir = DirectionDown
	}
	return Forecast{
		TrendID:             t.ID,
		Direction:           dir,
		Confidence:          0.5,
		Reasoning:           reasoning,
		PredictedGrowthRate: t.Metrics.GrowthRate,
		TimeHorizon:         period,
	}
}

// Forecaster asks the LLM where each trend is heading.
type Forecaster struct {
	client      llm.Client
	model       string
	concurrency int
}

// NewForecaster builds a Forecaster. concurrency below 1 means 5.
func NewForecaster(client llm.Client, model string, concurrency int) *Forecaster {
	if concurrency < 1 {
		concurrency = 5
	}
	return &Forecaster{client: client, model: model, concurrency: concurrency}
}

// Forecast returns one forecast per trend, in trend order. A response that
// fails validation falls back to HeuristicForecast; a failed call does too
// and its error is returned in errs at the trend's index.
func (f *Forecaster) Forecast(ctx context.Context, trends []ClassifiedTrend, period Period) (out []Forecast, errs []error) {
	out = make([]Forecast, len(trends))
	errs = make([]error, len(trends))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, t := range trends {
		g.Go(func() error {
			out[i], errs[i] = f.forecastOne(gctx, t, period)
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

func (f *Forecaster) forecastOne(ctx context.Context, t ClassifiedTrend, period Period) (Forecast, error) {
	text, err := forecastPrompt.Render(forecastVars(t, period))
	if err != nil {
		return HeuristicForecast(t, period, ReasonFallback), err
	}

	resp, err := f.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.User(text)},
		Model:       f.model,
		Temperature: llm.Temperature(0.3),
		JSONMode:    true,
	})
	if err != nil {
		return HeuristicForecast(t, period, ReasonFallback), fmt.Errorf("forecast %s: %w", t.ID, err)
	}

	parsed, err := llm.ParseJSON[forecastResponse](resp.Content)
	if err != nil {
		return HeuristicForecast(t, period, ReasonHeuristic), nil
	}
	return Forecast{
		TrendID:             t.ID,
		Direction:           parsed.Direction,
		Confidence:          *parsed.Confidence,
		Reasoning:           parsed.Reasoning,
		PredictedGrowthRate: *parsed.PredictedGrowthRate,
		TimeHorizon:         period,
	}, nil
}

func forecastVars(t ClassifiedTrend, period Period) map[string]any {
	series := t.TimeSeries[max(0, len(t.TimeSeries)-forecastSeriesPoints):]
	lines := make([]string, len(series))
	for i, p := range series {
		lines[i] = fmt.Sprintf("%s: %d papers", p.Date, p.PaperCount)
	}
	seriesText := strings.Join(lines, "\n")
	if seriesText == "" {
		seriesText = "No time series data available"
	}

	return map[string]any{
		"name":     t.Name,
		"status":   t.Status,
		"count":    t.Metrics.PaperCount,
		"previous": t.Metrics.PaperCountPrevPeriod,
		"growth":   fmt.Sprintf("%.1f", t.Metrics.GrowthRate*100),
		"keywords": strings.Join(t.Keywords, ", "),
		"series":   seriesText,
		"period":   period,
	}
}
