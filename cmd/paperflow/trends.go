package main

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/trends"
)

type trendSummary struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Status   trends.TrendStatus `json:"status"`
	Score    float64            `json:"score"`
	Keywords []string           `json:"keywords"`
}

type trendRunResult struct {
	Run       *docstore.AgentRun `json:"run"`
	Trends    []trendSummary     `json:"trends"`
	Forecasts []trends.Forecast  `json:"forecasts"`
}

func newTrendsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Trend analysis over stored papers",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one trend analysis and print the trends found",
		Long: `Run executes the trend-analysis pipeline in the foreground over the papers
of a category published in the current period, compared with the period
before it. Trends and forecasts are saved to the document store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeApp, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			category, _ := cmd.Flags().GetString("category")
			period, _ := cmd.Flags().GetString("period")
			if category == "" {
				category = c.settings.Trends.Category
			}
			if period == "" {
				period = c.settings.Trends.Period
			}

			rec, final, runErr := a.trends.Run(cmd.Context(), trends.Request{
				Category: category,
				Period:   trends.Period(period),
			}, "cli")
			if rec == nil {
				return runErr
			}

			out := trendRunResult{Run: rec, Trends: make([]trendSummary, 0, len(final.Trends)), Forecasts: final.Forecasts}
			for _, t := range final.Trends {
				out.Trends = append(out.Trends, trendSummary{
					ID:       t.ID,
					Name:     t.Name,
					Status:   t.Status,
					Score:    t.Metrics.TrendScore,
					Keywords: t.Keywords,
				})
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return runErr
		},
	}
	run.Flags().String("category", "", "arXiv category (default from trends.category)")
	run.Flags().String("period", "", "daily, weekly or monthly (default from trends.period)")

	cmd.AddCommand(run)
	return cmd
}
