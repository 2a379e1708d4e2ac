package storage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildListRulesQuery(t *testing.T) {
	query, args := buildListRulesQuery(RuleFilter{OwnerID: "u1", Region: "us", ActiveOnly: true, Limit: 5})

	assert.Contains(t, query, "WHERE user_id = $1 AND region = $2 AND is_active")
	assert.Contains(t, query, "LIMIT $3")
	assert.Equal(t, []any{"u1", "us", 5}, args)

	query, args = buildListRulesQuery(RuleFilter{})
	assert.NotContains(t, query, "WHERE")
	assert.Empty(t, args)
}

func TestPrepareHistoryFillsDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	h := PrepareHistory(AlertHistory{RuleID: "r1"}, now)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, now, h.CreatedAt)
	assert.NotNil(t, h.NotificationStatus)

	kept := PrepareHistory(AlertHistory{ID: "fixed", CreatedAt: now.Add(-time.Hour)}, now)
	assert.Equal(t, "fixed", kept.ID)
	assert.Equal(t, now.Add(-time.Hour), kept.CreatedAt)
}

func TestRuleValidate(t *testing.T) {
	assert.NoError(t, AlertRule{ID: "r1", Threshold: 15}.Validate())
	assert.Error(t, AlertRule{Threshold: 15}.Validate())
	assert.Error(t, AlertRule{ID: "r1", Threshold: math.NaN()}.Validate())
	assert.Error(t, AlertRule{ID: "r1", Threshold: -1}.Validate())

	assert.NoError(t, AlertRule{ID: "r1", Condition: ConditionPriceBelow, Threshold: 0}.Validate())
	assert.ErrorContains(t, AlertRule{ID: "r1", Condition: ConditionPriceDrop, Threshold: 0}.Validate(), "greater than zero")
	assert.NoError(t, AlertRule{ID: "r1", Condition: ConditionPriceDrop, Threshold: 0.5}.Validate())
}
