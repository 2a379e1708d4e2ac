package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"price-alerts/internal/storage"
)

// defaultExportWindow is used when --from is omitted.
const defaultExportWindow = 30 * 24 * time.Hour

// Export renders alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	repo, err := a.newHistory(store)
	if err != nil {
		return err
	}

	records, err := repo.Between(ctx, from, to)
	if err != nil {
		return err
	}
	records = filterHistory(records, opts)
	if len(records) == 0 {
		a.Logger.Info().Msg("no alerts found for export window")
		return nil
	}

	downsampled := downsampleHistory(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting alert history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func filterHistory(records []storage.AlertHistory, opts ExportOptions) []storage.AlertHistory {
	if opts.OwnerID == "" && opts.Model == "" && opts.Region == "" {
		return records
	}
	kept := records[:0:0]
	for _, h := range records {
		if opts.OwnerID != "" && h.OwnerID != opts.OwnerID {
			continue
		}
		if opts.Model != "" && !strings.EqualFold(h.ProductModel, opts.Model) {
			continue
		}
		if opts.Region != "" && !strings.EqualFold(h.Region, opts.Region) {
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

func downsampleHistory(records []storage.AlertHistory, max int) []storage.AlertHistory {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.AlertHistory, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeHistoryCSV(path string, records []storage.AlertHistory) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"created_at", "alert_id", "rule_id", "user_id", "product_model", "region", "condition_type", "threshold", "triggered_value", "notification_channels", "notification_status"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, h := range records {
		record := []string{
			h.CreatedAt.UTC().Format(time.RFC3339),
			h.ID,
			h.RuleID,
			h.OwnerID,
			h.ProductModel,
			h.Region,
			string(h.Condition),
			formatFloat(h.Threshold),
			formatFloat(h.TriggeredValue),
			strings.Join(h.NotificationChannels, ";"),
			channelSummary(h.NotificationStatus),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeHistoryPNG plots triggered values over time, one series per condition.
// Drops (percent) go on the secondary axis when prices are plotted too.
func writeHistoryPNG(path string, records []storage.AlertHistory) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		belowX, dropX []time.Time
		belowY, dropY []float64
	)
	for _, h := range records {
		switch h.Condition {
		case storage.ConditionPriceDrop:
			dropX = append(dropX, h.CreatedAt)
			dropY = append(dropY, h.TriggeredValue)
		default:
			belowX = append(belowX, h.CreatedAt)
			belowY = append(belowY, h.TriggeredValue)
		}
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Lowest price",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Drop (%)",
			ValueFormatter: valueFormatter,
		},
	}
	if len(belowX) > 0 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "price_below",
			XValues: padSeries(belowX),
			YValues: padValues(belowY),
		})
		if r := flatRange(belowY); r != nil {
			graph.YAxis.Range = r
		}
	}
	if len(dropX) > 0 {
		drop := chart.TimeSeries{
			Name:    "price_drop",
			XValues: padSeries(dropX),
			YValues: padValues(dropY),
		}
		r := flatRange(dropY)
		if len(belowX) > 0 {
			drop.YAxis = chart.YAxisSecondary
			if r != nil {
				graph.YAxisSecondary.Range = r
			}
		} else {
			graph.YAxis.Name = graph.YAxisSecondary.Name
			if r != nil {
				graph.YAxis.Range = r
			}
		}
		graph.Series = append(graph.Series, drop)
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// padSeries duplicates a lone point; go-chart needs two x values to compute a range.
func padSeries(x []time.Time) []time.Time {
	if len(x) == 1 {
		return []time.Time{x[0].Add(-time.Minute), x[0]}
	}
	return x
}

func padValues(y []float64) []float64 {
	if len(y) == 1 {
		return []float64{y[0], y[0]}
	}
	return y
}

// flatRange gives constant series a visible band; go-chart rejects a zero y-range.
func flatRange(y []float64) *chart.ContinuousRange {
	for _, v := range y[1:] {
		if v != y[0] {
			return nil
		}
	}
	pad := math.Max(math.Abs(y[0])*0.05, 1)
	return &chart.ContinuousRange{Min: y[0] - pad, Max: y[0] + pad}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
