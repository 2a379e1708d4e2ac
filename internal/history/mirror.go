package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/retry"
	"price-alerts/internal/storage"
	"price-alerts/internal/version"
)

const (
	trackPath       = "/track_alert_history"
	maxMirrorDetail = 200
	// maxMirrorRetries caps retries regardless of the shared alerting policy.
	maxMirrorRetries = 2
)

// MirrorOptions configure the remote history tracker.
type MirrorOptions struct {
	Endpoint string
	Timeout  time.Duration
	Retry    retry.Policy
}

// MirrorResult is the outcome of one mirror write.
type MirrorResult struct {
	Success    bool   `json:"success"`
	MirrorID   string `json:"mirror_id,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MirrorClient replicates history records to the tracking service.
type MirrorClient struct {
	url    string
	client *http.Client
	policy retry.Policy
	logger zerolog.Logger
}

// NewMirrorClient builds a client posting to {endpoint}/track_alert_history.
func NewMirrorClient(opts MirrorOptions, logger zerolog.Logger) (*MirrorClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("mirror endpoint is empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := opts.Retry
	policy.Retryable = retryableMirror
	if policy.MaxRetries > maxMirrorRetries {
		policy.MaxRetries = maxMirrorRetries
	}

	return &MirrorClient{
		url:    endpoint + trackPath,
		client: &http.Client{Timeout: timeout},
		policy: policy,
		logger: logger.With().Str("component", "history_mirror").Logger(),
	}, nil
}

// trackEvent is the JSON document accepted by the tracker.
type trackEvent struct {
	EventType            string          `json:"event_type"`
	AlertID              string          `json:"alert_id"`
	RuleID               string          `json:"rule_id"`
	UserID               string          `json:"user_id"`
	ProductModel         string          `json:"product_model"`
	Region               string          `json:"region,omitempty"`
	ConditionType        string          `json:"condition_type"`
	Threshold            float64         `json:"threshold"`
	TriggeredValue       float64         `json:"triggered_value"`
	NotificationChannels []string        `json:"notification_channels"`
	NotificationStatus   map[string]bool `json:"notification_status"`
	Timestamp            string          `json:"timestamp"`
}

func newTrackEvent(h storage.AlertHistory) trackEvent {
	channels := h.NotificationChannels
	if channels == nil {
		channels = []string{}
	}
	status := h.NotificationStatus
	if status == nil {
		status = map[string]bool{}
	}
	return trackEvent{
		EventType:            "price_alert",
		AlertID:              h.ID,
		RuleID:               h.RuleID,
		UserID:               h.OwnerID,
		ProductModel:         h.ProductModel,
		Region:               h.Region,
		ConditionType:        string(h.Condition),
		Threshold:            h.Threshold,
		TriggeredValue:       h.TriggeredValue,
		NotificationChannels: channels,
		NotificationStatus:   status,
		Timestamp:            h.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type mirrorStatusError struct {
	code int
	body string
}

func (e *mirrorStatusError) Error() string {
	return fmt.Sprintf("mirror returned status %d: %s", e.code, e.body)
}

// Track posts h to the tracker. Failures are reported in the result, never returned.
func (m *MirrorClient) Track(ctx context.Context, h storage.AlertHistory) MirrorResult {
	body, err := json.Marshal(newTrackEvent(h))
	if err != nil {
		return MirrorResult{Error: fmt.Sprintf("encode mirror event: %v", err)}
	}

	respBody, err := retry.Do(ctx, m.policy, func(ctx context.Context) ([]byte, error) {
		return m.post(ctx, h.ID, body)
	})
	if err != nil {
		res := MirrorResult{Error: err.Error()}
		var se *mirrorStatusError
		if errors.As(err, &se) {
			res.StatusCode = se.code
		}
		m.logger.Warn().Err(err).Str("alert_id", h.ID).Str("rule_id", h.RuleID).Msg("mirror write failed")
		return res
	}

	return MirrorResult{Success: true, MirrorID: parseMirrorID(respBody)}
}

// post sends one event. alert_id doubles as the Idempotency-Key so the tracker can
// drop a replay of a write it already applied.
func (m *MirrorClient) post(ctx context.Context, alertID string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if alertID != "" {
		req.Header.Set("Idempotency-Key", alertID)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read mirror response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(payload))
		if len(detail) > maxMirrorDetail {
			detail = detail[:maxMirrorDetail]
		}
		return nil, &mirrorStatusError{code: resp.StatusCode, body: detail}
	}
	return payload, nil
}

// parseMirrorID reads the assigned id from {"id": ...} or {"data": {"id": ...}}.
func parseMirrorID(body []byte) string {
	var doc struct {
		ID   json.RawMessage `json:"id"`
		Data struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	if id := rawID(doc.ID); id != "" {
		return id
	}
	return rawID(doc.Data.ID)
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// retryableMirror only retries failures where the tracker cannot have applied the
// write: refused connections, 429 and 503. A timeout or other 5xx may follow an
// accepted write and is left to the local copy.
func retryableMirror(err error) bool {
	var se *mirrorStatusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code == http.StatusServiceUnavailable
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
