package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"price-alerts/internal/storage"
)

// History prints recent alerts for an owner or a product/region.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	if opts.OwnerID == "" && opts.Model == "" {
		return errors.New("either --owner or --model must be provided")
	}
	if opts.OwnerID == "" && strings.TrimSpace(opts.Region) == "" {
		return errors.New("--region is required with --model")
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

	var records []storage.AlertHistory
	if opts.OwnerID != "" {
		records, err = repo.ByOwner(ctx, opts.OwnerID, opts.Limit)
	} else {
		records, err = repo.ByProduct(ctx, opts.Model, opts.Region, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRule\tOwner\tProduct\tCondition\tThreshold\tValue\tChannels")

	for _, h := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.CreatedAt.UTC().Format(time.RFC3339),
			h.RuleID,
			h.OwnerID,
			sanitizeInline(productLabel(h.ProductModel, h.Region)),
			h.Condition,
			formatFloat(h.Threshold),
			formatFloat(h.TriggeredValue),
			channelSummary(h.NotificationStatus),
		)
	}

	return writer.Flush()
}

// channelSummary renders {"email":true,"webhook":false} as "email:ok webhook:failed".
func channelSummary(status map[string]bool) string {
	if len(status) == 0 {
		return "-"
	}
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		outcome := "failed"
		if status[name] {
			outcome = "ok"
		}
		parts = append(parts, name+":"+outcome)
	}
	return strings.Join(parts, " ")
}

func productLabel(model, region string) string {
	if region == "" {
		return model
	}
	return model + " (" + region + ")"
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
