package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-alerts/internal/alerting"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/history"
	"price-alerts/internal/metrics"
	"price-alerts/internal/storage"
)

// Precondition failures of a run.
var (
	ErrMissingModel  = fetcher.ErrMissingModel
	ErrMissingRegion = fetcher.ErrMissingRegion
)

// RuleSource yields the active rules for a product/region.
type RuleSource interface {
	GetActiveRules(ctx context.Context, model, region string) ([]storage.AlertRule, error)
}

// Dispatcher delivers a payload on the named channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []string, p alerting.Payload) map[string]alerting.Result
}

// HistorySaver persists triggered alerts.
type HistorySaver interface {
	Save(ctx context.Context, h storage.AlertHistory) history.SaveResult
}

// AgentOptions tune the orchestrator.
type AgentOptions struct {
	// MaxConcurrentRules bounds how many triggered rules dispatch at once.
	MaxConcurrentRules int
}

// Agent evaluates the rules of one product/region against an analysis snapshot
// and notifies owners of the rules that fire.
type Agent struct {
	rules      RuleSource
	evaluator  *alerting.Evaluator
	dispatcher Dispatcher
	history    HistorySaver
	metrics    *metrics.Metrics
	limit      int
	logger     zerolog.Logger
	now        func() time.Time
}

// NewAgent constructs the orchestrator.
func NewAgent(rules RuleSource, evaluator *alerting.Evaluator, dispatcher Dispatcher, hist HistorySaver, m *metrics.Metrics, opts AgentOptions, logger zerolog.Logger) *Agent {
	limit := opts.MaxConcurrentRules
	if limit <= 0 {
		limit = 1
	}
	return &Agent{
		rules:      rules,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		history:    hist,
		metrics:    m,
		limit:      limit,
		logger:     logger.With().Str("component", "agent").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ruleOutcome is what one triggered rule contributes to the report.
type ruleOutcome struct {
	alert  *TriggeredAlert
	errors []string
}

// Evaluate runs every active rule for the analysis' model/region. Per-rule and
// per-channel faults end up in the report; only a missing model/region or a
// failure to load rules is returned as an error.
func (a *Agent) Evaluate(ctx context.Context, analysis fetcher.Analysis) (report *Report, err error) {
	start := time.Now()
	defer func() { a.metrics.Run(time.Since(start), err) }()

	if err := analysis.Validate(); err != nil {
		return nil, err
	}
	model, region := analysis.Model, analysis.Region

	// triggered rules are processed on g, at most a.limit at a time
	var g errgroup.Group
	g.SetLimit(a.limit)

	defer func() {
		if rec := recover(); rec != nil {
			// in-flight triggers still finish their dispatch and history write
			_ = g.Wait()
			report = nil
			err = &RunError{Model: model, Region: region, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	rules, err := a.rules.GetActiveRules(ctx, model, region)
	if err != nil {
		return nil, &RunError{Model: model, Region: region, Err: err}
	}

	report = newReport(model, region)
	logger := a.logger.With().Str("model", model).Str("region", region).Logger()
	if len(rules) == 0 {
		logger.Debug().Msg("no active rules")
		return report, nil
	}

	// slots keep the report in rule order regardless of completion order
	slots := make([]ruleOutcome, len(rules))

	for i, rule := range rules {
		report.RulesEvaluated++
		a.metrics.RuleEvaluated()
		if !rule.Active {
			continue
		}

		value, triggered, evalErr := a.evaluateRule(rule, analysis)
		if evalErr != nil {
			a.metrics.RuleFailed()
			logger.Error().Err(evalErr).Str("rule_id", rule.ID).Msg("rule evaluation failed")
			slots[i].errors = append(slots[i].errors, fmt.Sprintf("Error processing rule %s: %v", rule.ID, evalErr))
			continue
		}
		if !triggered {
			continue
		}

		report.RulesTriggered++
		a.metrics.RuleTriggered(string(rule.Condition))
		logger.Info().
			Str("rule_id", rule.ID).
			Str("user_id", rule.OwnerID).
			Str("condition_type", string(rule.Condition)).
			Float64("threshold", rule.Threshold).
			Float64("triggered_value", value).
			Msg("alert rule triggered")

		g.Go(func() error {
			slots[i] = a.processTrigger(ctx, rule, analysis, value, logger)
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range slots {
		if s.alert != nil {
			report.AlertsTriggered = append(report.AlertsTriggered, *s.alert)
		}
		report.NotificationErrors = append(report.NotificationErrors, s.errors...)
	}

	logger.Info().
		Int("rules_evaluated", report.RulesEvaluated).
		Int("rules_triggered", report.RulesTriggered).
		Int("errors", len(report.NotificationErrors)).
		Msg("alert run completed")
	return report, nil
}

func (a *Agent) evaluateRule(rule storage.AlertRule, analysis fetcher.Analysis) (value float64, triggered bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if err := rule.Validate(); err != nil {
		return 0, false, err
	}
	value, triggered = a.evaluator.Evaluate(rule, analysis)
	return value, triggered, nil
}

// processTrigger dispatches and persists one triggered rule. The trigger is
// reported even when dispatch or persistence fails.
func (a *Agent) processTrigger(ctx context.Context, rule storage.AlertRule, analysis fetcher.Analysis, value float64, logger zerolog.Logger) (out ruleOutcome) {
	at := a.now()
	alert := &TriggeredAlert{
		RuleID:             rule.ID,
		OwnerID:            rule.OwnerID,
		Condition:          rule.Condition,
		Threshold:          rule.Threshold,
		TriggeredValue:     value,
		NotificationStatus: map[string]bool{},
		Timestamp:          at,
	}
	out.alert = alert

	defer func() {
		if rec := recover(); rec != nil {
			a.metrics.RuleFailed()
			logger.Error().Interface("panic", rec).Str("rule_id", rule.ID).Msg("rule processing panicked")
			out.errors = append(out.errors, fmt.Sprintf("Error processing rule %s: panic: %v", rule.ID, rec))
		}
	}()

	if len(rule.Channels) > 0 && a.dispatcher != nil {
		payload := alerting.NewPayload(rule, analysis, value, at)
		results := a.dispatcher.Dispatch(ctx, rule.Channels, payload)

		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := results[name]
			alert.NotificationStatus[name] = r.Success
			if !r.Success {
				out.errors = append(out.errors, fmt.Sprintf("Failed to send %s notification for rule %s: %s", name, rule.ID, r.Describe()))
			}
		}
	}

	if a.history == nil {
		out.errors = append(out.errors, fmt.Sprintf("Failed to save alert history for rule %s: history store not configured", rule.ID))
		return out
	}

	saved := a.history.Save(ctx, storage.AlertHistory{
		RuleID:               rule.ID,
		OwnerID:              rule.OwnerID,
		ProductModel:         analysis.Model,
		Region:               analysis.Region,
		Condition:            rule.Condition,
		Threshold:            rule.Threshold,
		TriggeredValue:       value,
		NotificationChannels: append([]string(nil), rule.Channels...),
		NotificationStatus:   copyStatus(alert.NotificationStatus),
		CreatedAt:            at,
	})
	alert.HistorySaved = saved.Success
	alert.HistoryID = saved.ID
	alert.Mirror = saved.Mirror
	if !saved.Success {
		out.errors = append(out.errors, fmt.Sprintf("Failed to save alert history for rule %s: %s", rule.ID, saved.Error))
	}
	if saved.Mirror != nil && !saved.Mirror.Success {
		logger.Warn().Str("rule_id", rule.ID).Str("error", saved.Mirror.Error).Msg("history mirror write failed")
	}
	return out
}

func copyStatus(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
