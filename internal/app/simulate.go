package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"price-alerts/internal/alerting"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/storage"
)

// SimulateAlert 以给定的触发值模拟一次规则告警: 发送通知并写入历史。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.RuleID == "" {
		return errors.New("--rule 必须指定")
	}
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rule, err := store.GetRule(ctx, opts.RuleID)
	if err != nil {
		return err
	}
	if len(rule.Channels) == 0 {
		return fmt.Errorf("rule %s 未配置任何告警通道", rule.ID)
	}

	comps, err := a.newComponents(store)
	if err != nil {
		return err
	}

	value := opts.Value
	if value == 0 {
		value = rule.Threshold
	}
	snapshot := fetcher.Analysis{
		Model:  rule.ProductModel,
		Region: rule.Region,
		Trend:  "simulated",
	}
	if rule.Condition == storage.ConditionPriceBelow {
		snapshot.Observations = []fetcher.Observation{{Price: &value, Store: "simulated", Region: rule.Region}}
	}

	now := time.Now().UTC()
	results := comps.dispatcher.Dispatch(ctx, rule.Channels, alerting.NewPayload(rule, snapshot, value, now))

	status := make(map[string]bool, len(results))
	names := make([]string, 0, len(results))
	for name, r := range results {
		status[name] = r.Success
		names = append(names, name)
	}
	sort.Strings(names)

	saved := comps.history.Save(ctx, storage.AlertHistory{
		RuleID:               rule.ID,
		OwnerID:              rule.OwnerID,
		ProductModel:         rule.ProductModel,
		Region:               rule.Region,
		Condition:            rule.Condition,
		Threshold:            rule.Threshold,
		TriggeredValue:       value,
		NotificationChannels: rule.Channels,
		NotificationStatus:   status,
		CreatedAt:            now,
	})

	failed := 0
	for _, name := range names {
		fmt.Fprintf(a.Out, "%s\t%s\n", name, results[name].Describe())
		if !results[name].Success {
			failed++
		}
	}
	if !saved.Success {
		fmt.Fprintf(a.Out, "history\tfailed: %s\n", saved.Error)
	} else {
		fmt.Fprintf(a.Out, "history\t%s\n", saved.ID)
	}

	if failed > 0 {
		return fmt.Errorf("%d/%d 通道发送失败", failed, len(names))
	}
	return nil
}
