package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"price-alerts/internal/alerting"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/storage"
)

// Replay evaluates archived payload files in name order. With DryRun the rules
// are only evaluated; nothing is sent or persisted.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	files, err := payloadFiles(opts.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("目录 %s 中没有 .json payload 文件", opts.Dir)
	}

	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var comps *components
	if opts.DryRun {
		a.Logger.Warn().Msg("回放 dry-run：不会发送通知或写入历史")
	} else {
		comps, err = a.newComponents(store)
		if err != nil {
			return err
		}
	}
	evaluator := alerting.NewEvaluator(a.Logger)

	processed := 0
	failed := 0
	for _, path := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		analysis, err := fetcher.LoadFile(path)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("file", path).Msg("回放失败")
			continue
		}

		if opts.DryRun {
			if err := a.dryRun(ctx, store, evaluator, analysis, filepath.Base(path)); err != nil {
				failed++
				a.Logger.Error().Err(err).Str("file", path).Msg("回放失败")
				continue
			}
		} else {
			report, err := comps.agent.Evaluate(ctx, analysis)
			if err != nil {
				failed++
				a.Logger.Error().Err(err).Str("file", path).Msg("回放失败")
				continue
			}
			fmt.Fprintf(a.Out, "%s\t%s/%s\tevaluated=%d\ttriggered=%d\terrors=%d\n",
				filepath.Base(path), report.Model, report.Region,
				report.RulesEvaluated, report.RulesTriggered, len(report.NotificationErrors))
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("回放完成")
	if failed > 0 {
		return errors.New("部分 payload 回放失败，请检查日志")
	}
	return nil
}

func (a *App) dryRun(ctx context.Context, rules storage.RuleStore, evaluator *alerting.Evaluator, analysis fetcher.Analysis, name string) error {
	if err := analysis.Validate(); err != nil {
		return err
	}
	active, err := rules.GetActiveRules(ctx, analysis.Model, analysis.Region)
	if err != nil {
		return err
	}
	for _, rule := range active {
		value, triggered := evaluator.Evaluate(rule, analysis)
		if !triggered {
			continue
		}
		fmt.Fprintf(a.Out, "%s\t%s\t%s\t%s\tthreshold=%s\tvalue=%s\n",
			name, rule.ID, rule.OwnerID, rule.Condition,
			formatFloat(rule.Threshold), formatFloat(value))
	}
	return nil
}

func payloadFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read payload dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
