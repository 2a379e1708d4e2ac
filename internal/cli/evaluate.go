package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-alerts/internal/app"
)

var (
	evaluatePayload string
	evaluateModel   string
	evaluateRegion  string

	replayDir    string
	replayDryRun bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate rules against one analysis payload file and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		if evaluatePayload == "" {
			return fmt.Errorf("--payload must be provided")
		}
		return getApp().Evaluate(cmd.Context(), app.EvaluateOptions{
			PayloadPath: evaluatePayload,
			Model:       evaluateModel,
			Region:      evaluateRegion,
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "回放目录中的历史 analysis payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayDir == "" {
			return fmt.Errorf("--dir must be provided")
		}
		return getApp().Replay(cmd.Context(), app.ReplayOptions{Dir: replayDir, DryRun: replayDryRun})
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluatePayload, "payload", "", "Path to an analysis payload JSON file")
	evaluateCmd.Flags().StringVar(&evaluateModel, "model", "", "Override the payload's product model")
	evaluateCmd.Flags().StringVar(&evaluateRegion, "region", "", "Override the payload's region")

	replayCmd.Flags().StringVar(&replayDir, "dir", "", "Directory of payload .json files, processed in name order")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Only evaluate; do not notify or write history")
}
