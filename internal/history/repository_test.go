package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-alerts/internal/metrics"
	"price-alerts/internal/retry"
	"price-alerts/internal/storage"
	"price-alerts/internal/storage/gormstore"
)

const trackURL = "http://tracker.local/track_alert_history"

func newLocalStore(t *testing.T) *gormstore.Store {
	t.Helper()
	store, err := gormstore.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(t.Context()))
	t.Cleanup(store.Close)
	return store
}

func newMockMirror(t *testing.T, retries int) (*MirrorClient, *httpmock.MockTransport) {
	t.Helper()
	mc, err := NewMirrorClient(MirrorOptions{
		Endpoint: "http://tracker.local/",
		Timeout:  time.Second,
		Retry: retry.Policy{
			MaxRetries: retries,
			BaseDelay:  time.Millisecond,
			MaxDelay:   time.Millisecond,
			Sleep:      func(context.Context, time.Duration) error { return nil },
		},
	}, zerolog.Nop())
	require.NoError(t, err)

	mt := httpmock.NewMockTransport()
	mc.client.Transport = mt
	return mc, mt
}

func sampleHistory() storage.AlertHistory {
	return storage.AlertHistory{
		RuleID:               "rule-1",
		OwnerID:              "user-1",
		ProductModel:         "rtx 4090",
		Region:               "us",
		Condition:            storage.ConditionPriceDrop,
		Threshold:            15,
		TriggeredValue:       18.5,
		NotificationChannels: []string{"email", "webhook"},
		NotificationStatus:   map[string]bool{"email": true, "webhook": false},
	}
}

type failingStore struct {
	storage.HistoryStore
}

func (failingStore) InsertHistory(context.Context, storage.AlertHistory) (storage.AlertHistory, error) {
	return storage.AlertHistory{}, errors.New("disk full")
}

func TestSaveWritesLocalAndMirror(t *testing.T) {
	t.Parallel()
	store := newLocalStore(t)
	mc, mt := newMockMirror(t, 0)

	var (
		event   map[string]any
		idemKey string
	)
	mt.RegisterResponder(http.MethodPost, trackURL, func(req *http.Request) (*http.Response, error) {
		idemKey = req.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusCreated, `{"data":{"id":42}}`), nil
	})

	m := metrics.New("test")
	repo := NewRepository(store, mc, m, zerolog.Nop())
	res := repo.Save(t.Context(), sampleHistory())

	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.ID)
	require.NotNil(t, res.Mirror)
	assert.True(t, res.Mirror.Success)
	assert.Equal(t, "42", res.Mirror.MirrorID)

	assert.Equal(t, "price_alert", event["event_type"])
	assert.Equal(t, res.ID, event["alert_id"])
	assert.Equal(t, res.ID, idemKey)
	assert.Equal(t, "user-1", event["user_id"])
	assert.Equal(t, "price_drop", event["condition_type"])
	assert.Equal(t, map[string]any{"email": true, "webhook": false}, event["notification_status"])
	_, err := time.Parse(time.RFC3339, event["timestamp"].(string))
	assert.NoError(t, err)

	rows, err := repo.ByOwner(t.Context(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, res.ID, rows[0].ID)

	series, err := testutil.GatherAndCount(m.Registry(), "test_history_writes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

func TestSaveMirrorFailureKeepsLocalSuccess(t *testing.T) {
	t.Parallel()
	store := newLocalStore(t)
	mc, mt := newMockMirror(t, 5)
	mt.RegisterResponder(http.MethodPost, trackURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, "upstream down"))

	res := NewRepository(store, mc, nil, zerolog.Nop()).Save(t.Context(), sampleHistory())

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.Mirror)
	assert.False(t, res.Mirror.Success)
	assert.Equal(t, http.StatusServiceUnavailable, res.Mirror.StatusCode)
	assert.Contains(t, res.Mirror.Error, "upstream down")
	assert.Equal(t, 1+maxMirrorRetries, mt.GetTotalCallCount(), "503 is retried up to the mirror cap")
}

func TestSaveMirrorAmbiguousFailuresNotRetried(t *testing.T) {
	t.Parallel()
	cases := map[string]httpmock.Responder{
		"bad gateway": httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"),
		"timeout":     httpmock.NewErrorResponder(context.DeadlineExceeded),
	}
	for name, responder := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			mc, mt := newMockMirror(t, 3)
			mt.RegisterResponder(http.MethodPost, trackURL, responder)

			res := NewRepository(newLocalStore(t), mc, nil, zerolog.Nop()).Save(t.Context(), sampleHistory())

			assert.True(t, res.Success)
			require.NotNil(t, res.Mirror)
			assert.False(t, res.Mirror.Success)
			assert.Equal(t, 1, mt.GetTotalCallCount())
		})
	}
}

func TestRetryableMirror(t *testing.T) {
	t.Parallel()
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	read := &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}

	assert.True(t, retryableMirror(&url.Error{Op: "Post", URL: trackURL, Err: dial}))
	assert.True(t, retryableMirror(&mirrorStatusError{code: http.StatusTooManyRequests}))
	assert.True(t, retryableMirror(&mirrorStatusError{code: http.StatusServiceUnavailable}))
	assert.False(t, retryableMirror(&mirrorStatusError{code: http.StatusInternalServerError}))
	assert.False(t, retryableMirror(&url.Error{Op: "Post", URL: trackURL, Err: read}))
	assert.False(t, retryableMirror(context.DeadlineExceeded))
}

func TestSaveMirrorClientErrorNotRetried(t *testing.T) {
	t.Parallel()
	mc, mt := newMockMirror(t, 3)
	mt.RegisterResponder(http.MethodPost, trackURL, httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"detail":"bad"}`))

	res := NewRepository(newLocalStore(t), mc, nil, zerolog.Nop()).Save(t.Context(), sampleHistory())

	require.NotNil(t, res.Mirror)
	assert.False(t, res.Mirror.Success)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestSaveLocalFailureStillMirrors(t *testing.T) {
	t.Parallel()
	mc, mt := newMockMirror(t, 0)
	mt.RegisterResponder(http.MethodPost, trackURL, httpmock.NewStringResponder(http.StatusOK, `{"id":"remote-7"}`))

	res := NewRepository(failingStore{}, mc, nil, zerolog.Nop()).Save(t.Context(), sampleHistory())

	assert.False(t, res.Success)
	assert.Equal(t, "disk full", res.Error)
	assert.NotEmpty(t, res.ID)
	require.NotNil(t, res.Mirror)
	assert.True(t, res.Mirror.Success)
	assert.Equal(t, "remote-7", res.Mirror.MirrorID)
}

func TestSaveWithoutMirror(t *testing.T) {
	t.Parallel()
	repo := NewRepository(newLocalStore(t), nil, nil, zerolog.Nop())
	assert.False(t, repo.MirrorEnabled())

	h := sampleHistory()
	h.ID = "fixed-id"
	res := repo.Save(t.Context(), h)
	assert.True(t, res.Success)
	assert.Equal(t, "fixed-id", res.ID)
	assert.Nil(t, res.Mirror)

	rows, err := repo.ByProduct(t.Context(), "rtx 4090", "us", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]bool{"email": true, "webhook": false}, rows[0].NotificationStatus)
}

func TestSaveWithoutStore(t *testing.T) {
	t.Parallel()
	res := NewRepository(nil, nil, nil, zerolog.Nop()).Save(t.Context(), sampleHistory())
	assert.False(t, res.Success)
	assert.Equal(t, storage.ErrNotConfigured.Error(), res.Error)
}

func TestPurgeRemovesExpiredRecords(t *testing.T) {
	t.Parallel()
	store := newLocalStore(t)
	repo := NewRepository(store, nil, nil, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	old := sampleHistory()
	old.CreatedAt = now.Add(-40 * 24 * time.Hour)
	fresh := sampleHistory()
	fresh.CreatedAt = now.Add(-time.Hour)
	require.True(t, repo.Save(t.Context(), old).Success)
	require.True(t, repo.Save(t.Context(), fresh).Success)

	n, err := repo.Purge(t.Context(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Purge(t.Context(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := repo.Between(t.Context(), now.Add(-48*time.Hour), now)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = repo.Between(t.Context(), now, now.Add(-time.Hour))
	assert.Error(t, err)
}

func TestNewMirrorClientRequiresEndpoint(t *testing.T) {
	_, err := NewMirrorClient(MirrorOptions{Endpoint: "  "}, zerolog.Nop())
	assert.Error(t, err)
}

func TestParseMirrorID(t *testing.T) {
	cases := map[string]string{
		`{"id":"abc"}`:                 "abc",
		`{"id":17}`:                    "17",
		`{"data":{"id":"d-1"}}`:        "d-1",
		`{"id":null}`:                  "",
		`{"status":"ok"}`:              "",
		`not json`:                     "",
		`{"id":"a","data":{"id":"b"}}`: "a",
	}
	for body, want := range cases {
		assert.Equal(t, want, parseMirrorID([]byte(body)), body)
	}
}

func TestReadsRequireFilters(t *testing.T) {
	t.Parallel()
	repo := NewRepository(newLocalStore(t), nil, nil, zerolog.Nop())

	_, err := repo.ByOwner(t.Context(), "", 10)
	assert.Error(t, err)
	_, err = repo.ByProduct(t.Context(), "rtx 4090", "", 10)
	assert.ErrorContains(t, err, "region are required")
	_, err = repo.Between(t.Context(), time.Now(), time.Now().Add(-time.Hour))
	assert.Error(t, err)
}
