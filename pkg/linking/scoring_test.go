package linking

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
)

func uniform(v float64) MatchScore {
	return MatchScore{TechnicalFit: v, TRLGap: v, TimeToValue: v, Novelty: v, EvidenceStrength: v}
}

func TestComputeOverallScore(t *testing.T) {
	tests := []struct {
		name  string
		score MatchScore
		want  float64
	}{
		{"all zero", uniform(0), 0},
		{"all one", uniform(1), 1},
		{"all half", uniform(0.5), 0.5},
		{"technical fit only", MatchScore{TechnicalFit: 1}, 0.30},
		{"trl gap only", MatchScore{TRLGap: 1}, 0.20},
		{"time to value only", MatchScore{TimeToValue: 1}, 0.20},
		{"novelty only", MatchScore{Novelty: 1}, 0.15},
		{"evidence only", MatchScore{EvidenceStrength: 1}, 0.15},
		{"mixed", MatchScore{TechnicalFit: 0.9, TRLGap: 0.8, TimeToValue: 0.8, Novelty: 0.8, EvidenceStrength: 0.8}, 0.83},
		{"out of range high clamps", uniform(3), 1},
		{"out of range low clamps", uniform(-1), 0},
		{"nan dimension counts as zero", MatchScore{TechnicalFit: math.NaN(), TRLGap: 1, TimeToValue: 1, Novelty: 1, EvidenceStrength: 1}, 0.70},
		{"all nan", uniform(math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeOverallScore(tt.score), 1e-9)
		})
	}
}

func drawScore(t *rapid.T, label string) MatchScore {
	dim := rapid.Float64Range(0, 1)
	return MatchScore{
		TechnicalFit:     dim.Draw(t, label+".fit"),
		TRLGap:           dim.Draw(t, label+".trl"),
		TimeToValue:      dim.Draw(t, label+".ttv"),
		Novelty:          dim.Draw(t, label+".novelty"),
		EvidenceStrength: dim.Draw(t, label+".evidence"),
	}
}

func TestComputeOverallScore_Bounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dim := rapid.Float64Range(-10, 10)
		s := MatchScore{
			TechnicalFit:     dim.Draw(t, "fit"),
			TRLGap:           dim.Draw(t, "trl"),
			TimeToValue:      dim.Draw(t, "ttv"),
			Novelty:          dim.Draw(t, "novelty"),
			EvidenceStrength: dim.Draw(t, "evidence"),
		}
		if rapid.Bool().Draw(t, "nan") {
			s.Novelty = math.NaN()
		}
		got := ComputeOverallScore(s)
		if !(got >= 0 && got <= 1) {
			t.Fatalf("overall %v out of [0, 1] for %+v", got, s)
		}
	})
}

func TestComputeOverallScore_Monotone(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := drawScore(t, "lo")
		hi := lo
		bump := func(v *float64, name string) {
			*v += rapid.Float64Range(0, 1-*v).Draw(t, name)
		}
		bump(&hi.TechnicalFit, "d.fit")
		bump(&hi.TRLGap, "d.trl")
		bump(&hi.TimeToValue, "d.ttv")
		bump(&hi.Novelty, "d.novelty")
		bump(&hi.EvidenceStrength, "d.evidence")

		if ComputeOverallScore(hi) < ComputeOverallScore(lo)-1e-12 {
			t.Fatalf("overall decreased from %+v to %+v", lo, hi)
		}
	})
}

func TestDetermineMatchType(t *testing.T) {
	tests := []struct {
		fit  float64
		want MatchType
	}{
		{1.0, MatchDirect},
		{0.8, MatchDirect},
		{0.79, MatchMethodology},
		{0.6, MatchMethodology},
		{0.59, MatchTangential},
		{0.4, MatchTangential},
		{0.39, MatchInspiration},
		{0, MatchInspiration},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetermineMatchType(tt.fit), "fit %v", tt.fit)
	}
}

func TestValidScores(t *testing.T) {
	assert.True(t, ValidScores(uniform(0)))
	assert.True(t, ValidScores(uniform(1)))
	assert.False(t, ValidScores(MatchScore{Novelty: 1.01}))
	assert.False(t, ValidScores(MatchScore{TRLGap: -0.1}))
	assert.False(t, ValidScores(MatchScore{Novelty: math.NaN()}))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "use 'x' here", Sanitize("use `x` here"))
	assert.Equal(t, "'''json", Sanitize("```json"))

	long := strings.Repeat("é", MaxStringLength+10)
	got := Sanitize(long)
	assert.Equal(t, MaxStringLength, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "short", Sanitize("short"))
}

func TestScoreResponse_Validation(t *testing.T) {
	valid := scoreBody(map[string]any{"technicalFit": 0.9, "trlGap": 0.5, "timeToValue": 0.5, "novelty": 0, "evidenceStrength": 1})

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", valid, false},
		{"zero scores are present", scoreBody(map[string]any{"technicalFit": 0, "trlGap": 0, "timeToValue": 0, "novelty": 0, "evidenceStrength": 0}), false},
		{"missing dimension", scoreBody(map[string]any{"technicalFit": 0.9, "trlGap": 0.5, "timeToValue": 0.5, "novelty": 0.1}), true},
		{"score above one", scoreBody(map[string]any{"technicalFit": 1.2, "trlGap": 0.5, "timeToValue": 0.5, "novelty": 0.1, "evidenceStrength": 0.1}), true},
		{"negative score", scoreBody(map[string]any{"technicalFit": -0.2, "trlGap": 0.5, "timeToValue": 0.5, "novelty": 0.1, "evidenceStrength": 0.1}), true},
		{"too many insights", fenced(mustJSON(map[string]any{
			"scores":                 uniform(0.5),
			"matchRationale":         "r",
			"keyInsights":            strings.Split(strings.Repeat("x,", 11), ",")[:11],
			"applicationSuggestions": []string{"a"},
		})), true},
		{"insight too long", fenced(mustJSON(map[string]any{
			"scores":                 uniform(0.5),
			"matchRationale":         "r",
			"keyInsights":            []string{strings.Repeat("x", 501)},
			"applicationSuggestions": []string{"a"},
		})), true},
		{"rationale too long", fenced(mustJSON(map[string]any{
			"scores":                 uniform(0.5),
			"matchRationale":         strings.Repeat("r", 2001),
			"keyInsights":            []string{"k"},
			"applicationSuggestions": []string{"a"},
		})), true},
		{"no fence", mustJSON(map[string]any{"scores": uniform(0.5), "keyInsights": []string{}, "applicationSuggestions": []string{}}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.ParseFenced[scoreResponse](tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScoreResponse_ToMatchScore(t *testing.T) {
	parsed, err := llm.ParseFenced[scoreResponse](scoreBody(map[string]any{
		"technicalFit": 0.9, "trlGap": 0.7, "timeToValue": 0.6, "novelty": 0.2, "evidenceStrength": 0.4,
	}))
	require.NoError(t, err)
	assert.Equal(t, MatchScore{TechnicalFit: 0.9, TRLGap: 0.7, TimeToValue: 0.6, Novelty: 0.2, EvidenceStrength: 0.4}, parsed.Scores.score())
}

func TestReportResponse_Validation(t *testing.T) {
	_, err := llm.ParseFenced[reportResponse](reportBody("high"))
	require.NoError(t, err)

	_, err = llm.ParseFenced[reportResponse](reportBody("urgent"))
	assert.Error(t, err, "priority outside low/medium/high")

	_, err = llm.ParseFenced[reportResponse](fenced(`{"title":"t","executiveSummary":"s"}`))
	assert.Error(t, err, "sections and recommendations are required")
}

func TestPrompts_RenderAllVariables(t *testing.T) {
	vars := map[string]any{}
	for _, name := range scoringPrompt.Vars() {
		vars[name] = "v"
	}
	_, err := scoringPrompt.Render(vars)
	require.NoError(t, err)

	vars = map[string]any{}
	for _, name := range reportPrompt.Vars() {
		vars[name] = "v"
	}
	text, err := reportPrompt.Render(vars)
	require.NoError(t, err)
	assert.Contains(t, text, "paperN")
	assert.ElementsMatch(t,
		[]string{"problemTitle", "problemDescription", "problemCategory", "problemSeverity", "researchLinks"},
		reportPrompt.Vars())
}
