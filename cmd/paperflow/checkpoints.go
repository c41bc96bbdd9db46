package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
)

type checkpointRow struct {
	CheckpointID string `json:"checkpointId"`
	Parent       string `json:"parentCheckpointId,omitempty"`
	Sequence     int64  `json:"sequence"`
	Node         string `json:"node"`
	Step         int    `json:"step"`
	Next         string `json:"next,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

func newCheckpointsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect and prune the checkpoints of a run",
		Long: `Every pipeline node stores a checkpoint on the thread of its run; the thread
ID is the run ID. These commands read the store named by checkpoint.driver.`,
	}

	list := &cobra.Command{
		Use:   "list <threadId>",
		Short: "List the checkpoints of a thread, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := openCheckpoints(cmd.Context(), c.settings.Checkpoint)
			if err != nil {
				return err
			}
			defer store.Close()

			cps, err := store.List(cmd.Context(), args[0], checkpoint.ListOptions{Limit: limit})
			if err != nil {
				return err
			}
			rows := make([]checkpointRow, len(cps))
			for i, cp := range cps {
				rows[i] = checkpointRow{
					CheckpointID: cp.CheckpointID,
					Parent:       cp.ParentCheckpointID,
					Sequence:     cp.Sequence,
					Node:         cp.Metadata.Node,
					Step:         cp.Metadata.Step,
					Next:         cp.Metadata.Next,
					CreatedAt:    cp.CreatedAt.UTC().Format(time.RFC3339),
				}
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	list.Flags().Int("limit", 0, "maximum checkpoints to list (0 lists all)")

	prune := &cobra.Command{
		Use:   "prune <threadId>",
		Short: "Keep only the newest checkpoints of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1, got %d", keep)
			}
			store, err := openCheckpoints(cmd.Context(), c.settings.Checkpoint)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(cmd.Context(), args[0], keep)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"threadId": args[0], "removed": removed})
		},
	}
	prune.Flags().Int("keep", 1, "number of newest checkpoints to keep")

	cmd.AddCommand(list, prune)
	return cmd
}
