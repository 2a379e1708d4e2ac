package gormstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"price-alerts/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := New(db)
	require.NoError(t, store.Migrate(t.Context()))
	t.Cleanup(store.Close)
	return store
}

func TestRuleLifecycle(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)
	ctx := t.Context()

	days := 7
	created, err := store.CreateRule(ctx, storage.AlertRule{
		OwnerID:        "u1",
		ProductModel:   "rtx 4090",
		Region:         "us",
		Condition:      storage.ConditionPriceBelow,
		Threshold:      850,
		TimePeriodDays: &days,
		Channels:       []string{"email", "telegram"},
		Active:         true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	_, err = uuid.Parse(created.ID)
	require.NoError(t, err, "generated ids are uuids")

	got, err := store.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.OwnerID)
	assert.Equal(t, storage.ConditionPriceBelow, got.Condition)
	assert.InDelta(t, 850.0, got.Threshold, 1e-9)
	assert.Equal(t, []string{"email", "telegram"}, got.Channels)
	require.NotNil(t, got.TimePeriodDays)
	assert.Equal(t, 7, *got.TimePeriodDays)

	got.Threshold = 799.5
	got.Channels = []string{"webhook"}
	updated, err := store.UpdateRule(ctx, got)
	require.NoError(t, err)
	assert.InDelta(t, 799.5, updated.Threshold, 1e-9)
	assert.Equal(t, []string{"webhook"}, updated.Channels)

	require.NoError(t, store.SetRuleActive(ctx, created.ID, false))
	active, err := store.GetActiveRules(ctx, "rtx 4090", "us")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, store.DeleteRule(ctx, created.ID))
	_, err = store.GetRule(ctx, created.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateMissingRule(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	_, err := store.UpdateRule(t.Context(), storage.AlertRule{ID: "nope", Condition: storage.ConditionPriceDrop, Threshold: 10})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.SetRuleActive(t.Context(), "nope", true), storage.ErrNotFound)
	assert.ErrorIs(t, store.DeleteRule(t.Context(), "nope"), storage.ErrNotFound)
}

func TestGetActiveRulesOrderedAndFiltered(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)
	ctx := t.Context()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, r := range []storage.AlertRule{
		{ID: "r2", OwnerID: "u1", ProductModel: "m", Region: "us", Condition: storage.ConditionPriceDrop, Threshold: 10, Active: true, CreatedAt: base.Add(time.Minute)},
		{ID: "r1", OwnerID: "u2", ProductModel: "m", Region: "us", Condition: storage.ConditionPriceBelow, Threshold: 500, Active: true, CreatedAt: base},
		{ID: "r3", OwnerID: "u1", ProductModel: "m", Region: "de", Condition: storage.ConditionPriceDrop, Threshold: 10, Active: true, CreatedAt: base},
		{ID: "r4", OwnerID: "u1", ProductModel: "m", Region: "us", Condition: storage.ConditionPriceDrop, Threshold: 10, Active: false, CreatedAt: base},
	} {
		_, err := store.CreateRule(ctx, r)
		require.NoError(t, err, "rule %d", i)
	}

	rules, err := store.GetActiveRules(ctx, "m", "us")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, "r2", rules[1].ID)

	owned, err := store.ListRules(ctx, storage.RuleFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, owned, 3)
}

func TestHistoryReadsMostRecentFirst(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)
	ctx := t.Context()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		region := "us"
		if i == 4 {
			region = "de"
		}
		_, err := store.InsertHistory(ctx, storage.AlertHistory{
			RuleID:               "r1",
			OwnerID:              "u1",
			ProductModel:         "rtx 4090",
			Region:               region,
			Condition:            storage.ConditionPriceDrop,
			Threshold:            15,
			TriggeredValue:       float64(20 + i),
			NotificationChannels: []string{"email"},
			NotificationStatus:   map[string]bool{"email": i%2 == 0},
			CreatedAt:            base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	byOwner, err := store.ListHistoryByOwner(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, byOwner, 3)
	assert.InDelta(t, 24.0, byOwner[0].TriggeredValue, 1e-9)
	assert.InDelta(t, 22.0, byOwner[2].TriggeredValue, 1e-9)
	assert.NotEmpty(t, byOwner[0].ID)

	byProduct, err := store.ListHistoryByProduct(ctx, "rtx 4090", "us", 0)
	require.NoError(t, err)
	require.Len(t, byProduct, 4)
	assert.InDelta(t, 23.0, byProduct[0].TriggeredValue, 1e-9)
	assert.Equal(t, map[string]bool{"email": false}, byProduct[0].NotificationStatus)

	between, err := store.ListHistoryBetween(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, between, 2)

	deleted, err := store.DeleteHistoryBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestContactUpsert(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)
	ctx := t.Context()

	_, err := store.GetContact(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.UpsertContact(ctx, storage.Contact{OwnerID: "u1", Email: "a@example.com"}))
	require.NoError(t, store.UpsertContact(ctx, storage.Contact{OwnerID: "u1", Email: "b@example.com", ChatID: "42"}))

	c, err := store.GetContact(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", c.Email)
	assert.Equal(t, "42", c.ChatID)
}
