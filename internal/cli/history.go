package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-alerts/internal/app"
)

var historyOpts app.HistoryOptions

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display recent triggered alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyOpts.Limit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if historyOpts.OwnerID != "" && historyOpts.Model != "" {
			return fmt.Errorf("--owner and --model are mutually exclusive")
		}
		return getApp().History(cmd.Context(), historyOpts)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyOpts.OwnerID, "owner", "", "List alerts of this owner")
	historyCmd.Flags().StringVar(&historyOpts.Model, "model", "", "List alerts for this product model")
	historyCmd.Flags().StringVar(&historyOpts.Region, "region", "", "Region for --model")
	historyCmd.Flags().IntVar(&historyOpts.Limit, "limit", 20, "Number of alerts to display")
	historyCmd.MarkFlagsRequiredTogether("model", "region")
}
