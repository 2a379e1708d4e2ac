package app

import (
	"context"
	"encoding/json"
	"fmt"

	"price-alerts/internal/fetcher"
	"price-alerts/internal/service"
)

// Evaluate runs the rules for one payload file and prints the report as JSON.
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) error {
	analysis, err := fetcher.LoadFile(opts.PayloadPath)
	if err != nil {
		return err
	}
	if opts.Model != "" {
		analysis.Model = opts.Model
	}
	if opts.Region != "" {
		analysis.Region = opts.Region
	}

	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	comps, err := a.newComponents(store)
	if err != nil {
		return err
	}

	report, err := comps.agent.Evaluate(ctx, analysis)
	if err != nil {
		return err
	}
	return a.printReport(report)
}

func (a *App) printReport(report *service.Report) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
