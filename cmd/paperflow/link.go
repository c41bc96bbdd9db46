package main

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/linking"
)

func newLinkCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Research linking between open problems and papers",
		Long: `Research linking proposes links between an open problem and paper insights.
A run stops after saving the proposed links so that a reviewer can accept
or reject them; resuming the run writes a solution report from the
accepted links. Runs only survive between invocations with the sqlite
document and checkpoint stores.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "trigger <problemId>",
			Short: "Propose links for a problem",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, closeApp, err := c.openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer closeApp()
				res, err := a.linking.Trigger(cmd.Context(), args[0], "cli")
				return printResult(cmd, res, err)
			},
		},
		&cobra.Command{
			Use:   "resume <runId>",
			Short: "Write the solution report from the accepted links of a run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, closeApp, err := c.openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer closeApp()
				res, err := a.linking.Resume(cmd.Context(), args[0])
				return printResult(cmd, res, err)
			},
		},
		&cobra.Command{
			Use:   "status <runId>",
			Short: "Show a run and the links it proposed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, closeApp, err := c.openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer closeApp()
				view, err := a.linking.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			},
		},
		newReviewCmd(c),
	)
	return cmd
}

func newReviewCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <linkId>",
		Short: "Accept or reject a proposed link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			a, closeApp, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()
			if err := a.linking.ReviewLink(cmd.Context(), args[0], docstore.ReviewStatus(status)); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"linkId": args[0], "status": status})
		},
	}
	cmd.Flags().String("status", string(docstore.ReviewAccepted), "accepted or rejected")
	return cmd
}

// printResult prints the result of a trigger or resume. A failed run still
// has a result worth printing.
func printResult(cmd *cobra.Command, res linking.Result, err error) error {
	if res.RunID != "" {
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
			return perr
		}
	}
	return err
}
