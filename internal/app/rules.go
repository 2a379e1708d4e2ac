package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"price-alerts/internal/storage"
)

// RuleInput is what the rules add command collects. Zero Threshold and
// TimePeriodDays fall back to the configured defaults.
type RuleInput struct {
	OwnerID        string
	ProductModel   string
	Region         string
	Condition      string
	Threshold      float64
	TimePeriodDays int
	Channels       []string
}

// AddRule creates an active rule and prints its id.
func (a *App) AddRule(ctx context.Context, in RuleInput) error {
	rule, err := a.ruleFromInput(in)
	if err != nil {
		return err
	}

	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	created, err := store.CreateRule(ctx, rule)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("rule_id", created.ID).Str("user_id", created.OwnerID).Msg("alert rule created")
	fmt.Fprintln(a.Out, created.ID)
	return nil
}

func (a *App) ruleFromInput(in RuleInput) (storage.AlertRule, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return storage.AlertRule{}, errors.New("--owner is required")
	}
	if strings.TrimSpace(in.ProductModel) == "" || strings.TrimSpace(in.Region) == "" {
		return storage.AlertRule{}, errors.New("--model and --region are required")
	}

	condition := storage.ConditionKind(strings.ToLower(strings.TrimSpace(in.Condition)))
	if !condition.Known() {
		return storage.AlertRule{}, fmt.Errorf("unknown condition %q (want price_drop or price_below)", in.Condition)
	}

	defaults := a.Config.Alerting.DefaultThresholds
	threshold := in.Threshold
	if threshold == 0 {
		threshold = defaults.PriceBelow
		if condition == storage.ConditionPriceDrop {
			threshold = defaults.PriceDrop
		}
	}
	if threshold < 0 {
		return storage.AlertRule{}, fmt.Errorf("threshold cannot be negative: %v", threshold)
	}
	days := in.TimePeriodDays
	if days == 0 {
		days = defaults.TimePeriodDays
	}

	channels := make([]string, 0, len(in.Channels))
	for _, c := range in.Channels {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			channels = append(channels, c)
		}
	}
	for _, c := range channels {
		if !a.Config.ChannelEnabled(c) {
			a.Logger.Warn().Str("channel", c).Msg("channel is not enabled; notifications on it will fail")
		}
	}

	rule := storage.AlertRule{
		OwnerID:      strings.TrimSpace(in.OwnerID),
		ProductModel: strings.TrimSpace(in.ProductModel),
		Region:       strings.ToLower(strings.TrimSpace(in.Region)),
		Condition:    condition,
		Threshold:    threshold,
		Channels:     channels,
		Active:       true,
	}
	if days > 0 {
		rule.TimePeriodDays = &days
	}
	return rule, nil
}

// ListRules prints rules matching the filter.
func (a *App) ListRules(ctx context.Context, filter storage.RuleFilter) error {
	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rules, err := store.ListRules(ctx, filter)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(a.Out, "no rules found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tOwner\tProduct\tCondition\tThreshold\tDays\tChannels\tActive")
	for _, r := range rules {
		days := "-"
		if r.TimePeriodDays != nil {
			days = strconv.Itoa(*r.TimePeriodDays)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			r.ID,
			r.OwnerID,
			sanitizeInline(productLabel(r.ProductModel, r.Region)),
			r.Condition,
			formatFloat(r.Threshold),
			days,
			strings.Join(r.Channels, ","),
			r.Active,
		)
	}
	return writer.Flush()
}

// SetRuleActive enables or disables a rule.
func (a *App) SetRuleActive(ctx context.Context, id string, active bool) error {
	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetRuleActive(ctx, id, active); err != nil {
		return err
	}
	a.Logger.Info().Str("rule_id", id).Bool("active", active).Msg("alert rule updated")
	return nil
}

// DeleteRule removes a rule. Its history is kept.
func (a *App) DeleteRule(ctx context.Context, id string) error {
	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteRule(ctx, id); err != nil {
		return err
	}
	a.Logger.Info().Str("rule_id", id).Msg("alert rule deleted")
	return nil
}

// SetContact stores an owner's delivery endpoints. Empty fields keep the
// current value.
func (a *App) SetContact(ctx context.Context, in storage.Contact) error {
	if strings.TrimSpace(in.OwnerID) == "" {
		return errors.New("--owner is required")
	}

	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	current, err := store.GetContact(ctx, in.OwnerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	current.OwnerID = in.OwnerID
	if in.Email != "" {
		current.Email = in.Email
	}
	if in.WebhookURL != "" {
		current.WebhookURL = in.WebhookURL
	}
	if in.ChatID != "" {
		current.ChatID = in.ChatID
	}
	return store.UpsertContact(ctx, current)
}

// ShowContact prints an owner's delivery endpoints.
func (a *App) ShowContact(ctx context.Context, ownerID string) error {
	store, _, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	c, err := store.GetContact(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(a.Out, "no contact for %s\n", ownerID)
		return nil
	}
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "owner\t%s\n", c.OwnerID)
	fmt.Fprintf(writer, "email\t%s\n", orDash(c.Email))
	fmt.Fprintf(writer, "webhook\t%s\n", orDash(c.WebhookURL))
	fmt.Fprintf(writer, "telegram\t%s\n", orDash(c.ChatID))
	return writer.Flush()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
