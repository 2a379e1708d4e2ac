// Package metrics holds the prometheus instrumentation for evaluation runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics records run, dispatch and persistence counters. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	rulesEvaluated       prometheus.Counter
	rulesTriggered       *prometheus.CounterVec
	ruleErrors           prometheus.Counter
	notifications        *prometheus.CounterVec
	notificationDuration *prometheus.HistogramVec
	historyWrites        *prometheus.CounterVec
	runDuration          prometheus.Histogram
	runFailures          prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rulesEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_evaluated_total",
			Help:      "Total number of alert rules evaluated",
		}),
		rulesTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_triggered_total",
			Help:      "Total number of alert rules that triggered, by condition",
		}, []string{"condition"}),
		ruleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "Total number of rules that failed during processing",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notifications attempted, by channel and outcome",
		}, []string{"channel", "outcome"}),
		notificationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Time spent delivering one notification",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"channel"}),
		historyWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "History writes by target (local, mirror) and outcome",
		}, []string{"target", "outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of complete evaluation runs",
			Buckets:   prometheus.DefBuckets,
		}),
		runFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Evaluation runs that aborted with an error",
		}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RuleEvaluated counts one evaluated rule.
func (m *Metrics) RuleEvaluated() {
	if m == nil {
		return
	}
	m.rulesEvaluated.Inc()
}

// RuleTriggered counts a triggered rule.
func (m *Metrics) RuleTriggered(condition string) {
	if m == nil {
		return
	}
	m.rulesTriggered.WithLabelValues(condition).Inc()
}

// RuleFailed counts a rule whose processing failed.
func (m *Metrics) RuleFailed() {
	if m == nil {
		return
	}
	m.ruleErrors.Inc()
}

// Notification records a delivery attempt.
func (m *Metrics) Notification(channel string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome(success)).Inc()
	m.notificationDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// HistoryWrite records a local or mirror write.
func (m *Metrics) HistoryWrite(target string, success bool) {
	if m == nil {
		return
	}
	m.historyWrites.WithLabelValues(target, outcome(success)).Inc()
}

// Run records a finished run.
func (m *Metrics) Run(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.runDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.runFailures.Inc()
	}
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
