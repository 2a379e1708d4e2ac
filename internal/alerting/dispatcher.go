package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-alerts/internal/metrics"
)

// Dispatcher fans a payload out to the channels named on a rule.
type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewDispatcher constructs a dispatcher over the registry.
func NewDispatcher(registry *Registry, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		metrics:  m,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch sends p on every named channel concurrently and waits for all of them.
// The map has exactly one entry per distinct channel name; unknown names are
// recorded as unsupported failures.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []string, p Payload) map[string]Result {
	type job struct {
		name string
		ch   Channel
	}

	results := make(map[string]Result, len(channels))
	seen := make(map[string]struct{}, len(channels))
	jobs := make([]job, 0, len(channels))
	for _, raw := range channels {
		name := normalizeName(raw)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		ch, ok := d.registry.Lookup(name)
		if !ok {
			d.logger.Warn().
				Str("channel", raw).
				Str("rule_id", p.RuleID).
				Msg("unsupported notification channel")
			results[name] = failure(name, CategoryUnsupported, "unsupported notification channel %q", raw)
			continue
		}
		jobs = append(jobs, job{name: name, ch: ch})
	}

	// send never fails the group; every outcome lands in its slot
	out := make([]Result, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			out[i] = d.send(ctx, j.name, j.ch, p)
			return nil
		})
	}
	_ = g.Wait()

	for i, j := range jobs {
		results[j.name] = out[i]
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, name string, ch Channel, p Payload) (r Result) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r = failure(name, CategoryUnexpected, "panic during send: %v", rec)
		}
		r.Channel = name
		d.metrics.Notification(name, r.Success, time.Since(start))
		if !r.Success {
			d.logger.Warn().
				Str("channel", name).
				Str("rule_id", p.RuleID).
				Str("category", string(r.Category)).
				Int("status_code", r.StatusCode).
				Str("detail", r.Detail).
				Msg("notification failed")
		}
	}()
	return ch.Send(ctx, p)
}
