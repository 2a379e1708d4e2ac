package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-alerts/internal/storage"
)

func TestWebhookDeliversPayload(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s3cret", r.Header.Get("X-Signature"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookOptions{
		Timeout:      time.Second,
		SecretHeader: "X-Signature",
		Secret:       "s3cret",
		Retry:        noRetry(),
	}, contactsFor(storage.Contact{OwnerID: "user-1", WebhookURL: srv.URL + "/hook"}), testLogger())

	res := ch.Send(t.Context(), samplePayload())

	require.True(t, res.Success, res.Describe())
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "price_alert", got["event_type"])
	assert.Equal(t, "RTX_4090", got["product_model"])
	assert.Equal(t, "price_below", got["condition_type"])
	assert.Equal(t, 850.0, got["threshold"])
	assert.Equal(t, 799.99, got["triggered_value"])
	assert.Equal(t, 799.99, got["best_price"])
	assert.Equal(t, "newegg", got["best_store"])
}

func TestWebhookStatusErrorTruncatesBody(t *testing.T) {
	t.Parallel()

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, "https://hooks.example.com/u1",
		httpmock.NewStringResponder(http.StatusBadRequest, strings.Repeat("x", 500)))

	ch := NewWebhookChannel(WebhookOptions{Timeout: time.Second, Retry: instantRetry(3)},
		contactsFor(storage.Contact{OwnerID: "user-1", WebhookURL: "https://hooks.example.com/u1"}), testLogger())
	ch.poster.client.Transport = mt

	res := ch.Send(t.Context(), samplePayload())

	require.False(t, res.Success)
	assert.Equal(t, CategoryAPI, res.Category)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.LessOrEqual(t, len(res.Detail), len("API error: ")+maxDetailLen)
	assert.Equal(t, 1, mt.GetTotalCallCount(), "4xx is not retried")
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, "https://hooks.example.com/u1", func(*http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, "busy"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	ch := NewWebhookChannel(WebhookOptions{Timeout: time.Second, Retry: instantRetry(3)},
		contactsFor(storage.Contact{OwnerID: "user-1", WebhookURL: "https://hooks.example.com/u1"}), testLogger())
	ch.poster.client.Transport = mt

	res := ch.Send(t.Context(), samplePayload())

	require.True(t, res.Success, res.Describe())
	assert.Equal(t, 3, res.Attempts)
}

func TestWebhookTransportErrorIsRequestFailure(t *testing.T) {
	t.Parallel()

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, "https://hooks.example.com/u1", httpmock.NewErrorResponder(errors.New("tls: bad record")))

	ch := NewWebhookChannel(WebhookOptions{Timeout: time.Second, Retry: instantRetry(2)},
		contactsFor(storage.Contact{OwnerID: "user-1", WebhookURL: "https://hooks.example.com/u1"}), testLogger())
	ch.poster.client.Transport = mt

	res := ch.Send(t.Context(), samplePayload())

	require.False(t, res.Success)
	assert.Equal(t, CategoryTransport, res.Category)
	assert.Contains(t, res.Detail, "request failed")
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestWebhookTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ch := NewWebhookChannel(WebhookOptions{Timeout: 50 * time.Millisecond, Retry: noRetry()},
		contactsFor(storage.Contact{OwnerID: "user-1", WebhookURL: srv.URL}), testLogger())

	res := ch.Send(t.Context(), samplePayload())

	require.False(t, res.Success)
	assert.Equal(t, CategoryTimeout, res.Category)
}

func TestWebhookConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ch := NewWebhookChannel(WebhookOptions{Timeout: time.Second, Retry: noRetry()},
		contactsFor(storage.Contact{OwnerID: "user-1", WebhookURL: url}), testLogger())

	res := ch.Send(t.Context(), samplePayload())

	require.False(t, res.Success)
	assert.Equal(t, CategoryConnectivity, res.Category)
}

func TestWebhookMissingURL(t *testing.T) {
	t.Parallel()

	ch := NewWebhookChannel(WebhookOptions{Retry: noRetry()}, StaticContacts{}, testLogger())
	res := ch.Send(context.Background(), samplePayload())

	require.False(t, res.Success)
	assert.Equal(t, CategoryRecipient, res.Category)
	assert.Contains(t, res.Detail, "user-1")
}
