package trends

import (
	"github.com/montanaflynn/stats"

	"github.com/randalmurphal/paperflow/pkg/docstore"
)

// Score weights and normalization caps.
const (
	weightGrowth   = 0.35
	weightMomentum = 0.25
	weightAuthors  = 0.15
	weightCites    = 0.15
	weightCross    = 0.10

	authorCap   = 100.0
	citationCap = 50.0
	categoryCap = 5.0
)

// GrowthRate is (current-previous)/previous. With no previous papers it is
// 1 when there are current papers and 0 otherwise.
func GrowthRate(current, previous int) float64 {
	if previous == 0 {
		if current > 0 {
			return 1
		}
		return 0
	}
	return float64(current-previous) / float64(previous)
}

// Momentum approximates acceleration from the growth rate alone with a step
// function; there is no second period to difference against.
func Momentum(growth float64) float64 {
	switch {
	case growth > 0.5:
		return 0.8
	case growth > 0.2:
		return 0.5
	case growth > 0:
		return 0.2
	case growth < -0.2:
		return -0.5
	default:
		return 0
	}
}

// TrendScore combines the metrics into a 0-100 score. Every component is
// normalized into [0, 1] before weighting: growth is clamped to [-1, 2] and
// rescaled, momentum rescaled from [-1, 1].
func TrendScore(m Metrics) float64 {
	normGrowth := (clamp(m.GrowthRate, -1, 2) + 1) / 3
	normMomentum := (clamp(m.Momentum, -1, 1) + 1) / 2
	normAuthors := min(float64(m.AuthorCount)/authorCap, 1)
	normCites := min(m.AvgCitations/citationCap, 1)

	return 100 * (normGrowth*weightGrowth +
		normMomentum*weightMomentum +
		normAuthors*weightAuthors +
		normCites*weightCites +
		clamp(m.CrossCategoryScore, 0, 1)*weightCross)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// ComputeMetrics summarizes papers against previous.
func ComputeMetrics(papers, previous []docstore.Paper) Metrics {
	m := Metrics{
		PaperCount:           len(papers),
		PaperCountPrevPeriod: len(previous),
		GrowthRate:           GrowthRate(len(papers), len(previous)),
		AuthorCount:          countAuthors(papers),
		AvgCitations:         avgCitations(papers),
		CrossCategoryScore:   crossCategory(papers),
	}
	m.Momentum = Momentum(m.GrowthRate)
	m.TrendScore = TrendScore(m)
	return m
}

func countAuthors(papers []docstore.Paper) int {
	seen := make(map[string]struct{})
	for _, p := range papers {
		for _, a := range p.Authors {
			seen[a.Name] = struct{}{}
		}
	}
	return len(seen)
}

func avgCitations(papers []docstore.Paper) float64 {
	if len(papers) == 0 {
		return 0
	}
	cites := make(stats.Float64Data, len(papers))
	for i, p := range papers {
		cites[i] = float64(p.Citations())
	}
	mean, err := cites.Mean()
	if err != nil {
		return 0
	}
	return mean
}

func crossCategory(papers []docstore.Paper) float64 {
	seen := make(map[string]struct{})
	for _, p := range papers {
		for _, c := range p.Categories {
			seen[c] = struct{}{}
		}
	}
	return min(float64(len(seen))/categoryCap, 1)
}
