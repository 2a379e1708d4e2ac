package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-alerts/internal/app"
)

var exportOpts app.ExportOptions

var (
	exportFrom string
	exportTo   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export triggered alert history as CSV and/or PNG chart",
	Example: `  pricealert export --model "RTX 4090" --region us --csv alerts.csv --png alerts.png
  pricealert export --owner user-1 --from 2026-01-01T00:00:00Z --csv user-1.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := exportOpts
		var err error
		if opts.From, err = parseTimeFlag("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseTimeFlag("to", exportTo); err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

// parseTimeFlag returns nil for an empty value.
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return &ts, nil
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFrom, "from", "", "Window start, RFC3339 inclusive (default 30 days before --to)")
	f.StringVar(&exportTo, "to", "", "Window end, RFC3339 exclusive (default now)")
	f.StringVar(&exportOpts.OwnerID, "owner", "", "Only alerts for this user")
	f.StringVar(&exportOpts.Model, "model", "", "Only alerts for this product model")
	f.StringVar(&exportOpts.Region, "region", "", "Only alerts for this region (with --model)")
	f.StringVar(&exportOpts.PNGPath, "png", "", "Path to write PNG chart of triggered values")
	f.StringVar(&exportOpts.CSVPath, "csv", "", "Path to write CSV rows")
	f.IntVar(&exportOpts.MaxPoints, "max-points", 0, "Maximum rows to export (defaults to export.max_data_points)")
}
