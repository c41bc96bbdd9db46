package trends

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/paperflow/pkg/docstore"
)

const (
	topPapersPerTrend = 5
	emergingMaxPapers = 100
)

// trendNamespace scopes trend IDs derived from category and name.
var trendNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://paperflow/trends"))

// ClassifyStatus applies the status rules in precedence order; the first
// match wins.
func ClassifyStatus(growth float64, paperCount int, momentum float64) TrendStatus {
	switch {
	case growth > 1.0 && momentum > 0.5:
		return StatusBreakthrough
	case growth > 0.5 && paperCount < emergingMaxPapers:
		return StatusEmerging
	case growth >= 0.2 && growth <= 0.5:
		return StatusGrowing
	case growth < 0:
		return StatusDeclining
	default:
		return StatusStable
	}
}

// FilterByKeywords returns the papers whose title or abstract contains any
// keyword, case-insensitively. No keywords match nothing.
func FilterByKeywords(papers []docstore.Paper, keywords []string) []docstore.Paper {
	if len(keywords) == 0 {
		return nil
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lowered = append(lowered, kw)
		}
	}

	var out []docstore.Paper
	for _, p := range papers {
		title, abs := strings.ToLower(p.Title), strings.ToLower(p.Abstract)
		for _, kw := range lowered {
			if strings.Contains(title, kw) || strings.Contains(abs, kw) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// BuildTimeSeries counts papers per day, or per month for monthly runs,
// in ascending date order.
func BuildTimeSeries(papers []docstore.Paper, period Period) []TimePoint {
	layout := time.DateOnly
	if period == Monthly {
		layout = "2006-01"
	}
	counts := make(map[string]int)
	for _, p := range papers {
		counts[p.PublishedDate.UTC().Format(layout)]++
	}

	out := make([]TimePoint, 0, len(counts))
	for date, n := range counts {
		out = append(out, TimePoint{Date: date, PaperCount: n})
	}
	slices.SortFunc(out, func(a, b TimePoint) int { return strings.Compare(a.Date, b.Date) })
	return out
}

// TrendID derives a stable ID from a trend's category and name so reruns
// upsert the same trend document.
func TrendID(category, name string) string {
	key := strings.ToLower(strings.TrimSpace(category)) + "/" + strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(trendNamespace, []byte(key)).String()
}

// Classify promotes every topic of at least MinTopicSize papers to a trend.
// Topic papers are matched by keyword in both periods. Counts, growth and
// authors are per topic. Momentum, average citations, cross-category score
// and trend score stay the run-level values.
func Classify(category string, period Period, papers, previous []docstore.Paper, signals Signals, run Metrics) []ClassifiedTrend {
	var trends []ClassifiedTrend
	used := make(map[string]bool)

	for _, topic := range signals.Topics {
		if topic.PaperCount < MinTopicSize {
			continue
		}
		cur := FilterByKeywords(papers, topic.Keywords)
		prev := FilterByKeywords(previous, topic.Keywords)

		m := run
		m.PaperCount = len(cur)
		m.PaperCountPrevPeriod = len(prev)
		m.GrowthRate = GrowthRate(len(cur), len(prev))
		m.AuthorCount = countAuthors(cur)

		id := TrendID(category, topic.Label)
		if used[id] {
			id = TrendID(category, topic.Label+"#"+topic.TopicID)
		}
		used[id] = true

		trends = append(trends, ClassifiedTrend{
			ID:            id,
			Name:          topic.Label,
			Description:   fmt.Sprintf("Research trend in %s with %d papers", topic.Label, len(cur)),
			Status:        ClassifyStatus(m.GrowthRate, m.PaperCount, run.Momentum),
			Keywords:      topic.Keywords,
			Categories:    categories(cur),
			Metrics:       m,
			TimeSeries:    BuildTimeSeries(cur, period),
			TopPapers:     topPapers(cur, topPapersPerTrend),
			RelatedTrends: []string{},
		})
	}

	for i := range trends {
		for j := range trends {
			if i != j && sharesKeyword(trends[i].Keywords, trends[j].Keywords) {
				trends[i].RelatedTrends = append(trends[i].RelatedTrends, trends[j].ID)
			}
		}
	}
	return trends
}

func categories(papers []docstore.Paper) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, p := range papers {
		for _, c := range p.Categories {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func topPapers(papers []docstore.Paper, k int) []string {
	sorted := slices.Clone(papers)
	slices.SortStableFunc(sorted, func(a, b docstore.Paper) int {
		return cmp.Compare(b.Citations(), a.Citations())
	})
	out := []string{}
	for _, p := range sorted[:min(k, len(sorted))] {
		out = append(out, p.ID)
	}
	return out
}

func sharesKeyword(a, b []string) bool {
	for _, k := range a {
		if slices.Contains(b, k) {
			return true
		}
	}
	return false
}
