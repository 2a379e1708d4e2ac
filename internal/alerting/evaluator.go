package alerting

import (
	"math"

	"github.com/rs/zerolog"

	"price-alerts/internal/fetcher"
	"price-alerts/internal/storage"
)

// Evaluator decides whether a rule fires for an analysis snapshot. It holds no
// state besides its logger, so repeated calls with the same input agree.
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With().Str("component", "evaluator").Logger()}
}

// Evaluate returns the trigger value and true when the rule fires.
func (e *Evaluator) Evaluate(rule storage.AlertRule, analysis fetcher.Analysis) (float64, bool) {
	if !rule.Active {
		return 0, false
	}

	switch rule.Condition {
	case storage.ConditionPriceDrop:
		drop, ok := MaxDropPercent(analysis.Observations)
		if !ok || drop < rule.Threshold {
			return 0, false
		}
		return drop, true
	case storage.ConditionPriceBelow:
		lowest, ok := LowestPrice(analysis.Observations)
		if !ok || lowest >= rule.Threshold {
			return 0, false
		}
		return lowest, true
	default:
		e.logger.Warn().
			Str("rule_id", rule.ID).
			Str("condition_type", string(rule.Condition)).
			Msg("unknown condition type; rule skipped")
		return 0, false
	}
}

// MaxDropPercent is the largest absolute negative change across observations.
// ok is false when no observation reports a drop.
func MaxDropPercent(observations []fetcher.Observation) (float64, bool) {
	var (
		maxDrop float64
		found   bool
	)
	for _, obs := range observations {
		if obs.ChangePercent == nil {
			continue
		}
		change := *obs.ChangePercent
		if change >= 0 || math.IsNaN(change) {
			continue
		}
		if drop := math.Abs(change); !found || drop > maxDrop {
			maxDrop, found = drop, true
		}
	}
	return maxDrop, found
}

// LowestPrice is the minimum price among observations that carry one.
func LowestPrice(observations []fetcher.Observation) (float64, bool) {
	var (
		lowest float64
		found  bool
	)
	for _, obs := range observations {
		if obs.Price == nil || math.IsNaN(*obs.Price) {
			continue
		}
		if !found || *obs.Price < lowest {
			lowest, found = *obs.Price, true
		}
	}
	return lowest, found
}
