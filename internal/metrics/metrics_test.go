package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RuleEvaluated()
	m.RuleTriggered("price_drop")
	m.RuleFailed()
	m.Notification("email", true, time.Second)
	m.HistoryWrite("local", false)
	m.Run(time.Second, errors.New("boom"))
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New("test")

	m.RuleEvaluated()
	m.RuleEvaluated()
	m.RuleTriggered("price_below")
	m.Notification("webhook", false, 10*time.Millisecond)
	m.Notification("webhook", true, 10*time.Millisecond)
	m.HistoryWrite("mirror", false)
	m.Run(time.Second, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rulesEvaluated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rulesTriggered.WithLabelValues("price_below")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("webhook", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.historyWrites.WithLabelValues("mirror", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runFailures))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New("pricealert")
	m.RuleEvaluated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pricealert_rules_evaluated_total 1"))
}
