package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHTTPSourceMissingBaseURL(t *testing.T) {
	s := NewHTTPSource(HTTPOptions{}, noopLogger())
	if _, err := s.FetchAnalysis(context.Background(), "rtx 4090", "us"); err == nil {
		t.Fatal("missing base url should fail")
	}
}

func TestHTTPSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "no analysis for model"})
	}))
	defer srv.Close()

	s := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := s.FetchAnalysis(context.Background(), "rtx 4090", "us")
	if err == nil {
		t.Fatal("HTTP 404 should fail")
	}
	if !strings.Contains(err.Error(), "no analysis for model") {
		t.Fatalf("error should carry api detail, got %v", err)
	}
}

func TestHTTPSourceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analysis" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("model") != "rtx 4090" || r.URL.Query().Get("region") != "us" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") != "test" {
			t.Fatalf("user agent not forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"price_data": [
				{"price": 1599.99, "store": "bestbuy", "country": "us", "price_change_percent": -5.5},
				{"price": 1549.00, "store": "newegg", "country": "us"}
			],
			"lowest_price": 1549.00,
			"price_trend": "decreasing"
		}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(HTTPOptions{BaseURL: srv.URL + "/", Timeout: time.Second, UserAgent: "test"}, noopLogger())
	analysis, err := s.FetchAnalysis(context.Background(), "rtx 4090", "us")
	if err != nil {
		t.Fatalf("successful response should not fail: %v", err)
	}
	if analysis.Model != "rtx 4090" || analysis.Region != "us" {
		t.Fatalf("context fields should fall back to request values: %+v", analysis)
	}
	if len(analysis.Observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(analysis.Observations))
	}
	if analysis.Observations[0].Region != "us" {
		t.Fatalf("legacy country key should map to region")
	}
	price, store, ok := analysis.BestOffer()
	if !ok || price != 1549.00 || store != "newegg" {
		t.Fatalf("unexpected best offer %v %s %v", price, store, ok)
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
