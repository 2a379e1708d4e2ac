package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/retry"
	"price-alerts/internal/storage"
)

// WebhookOptions configure webhook delivery.
type WebhookOptions struct {
	Timeout       time.Duration
	SecretHeader  string
	Secret        string
	RatePerSecond float64
	Retry         retry.Policy
}

// WebhookChannel POSTs alerts to the owner's webhook URL.
type WebhookChannel struct {
	opts     WebhookOptions
	contacts ContactLookup
	poster   *jsonPoster
	logger   zerolog.Logger
}

// NewWebhookChannel constructs the webhook client.
func NewWebhookChannel(opts WebhookOptions, contacts ContactLookup, logger zerolog.Logger) *WebhookChannel {
	return &WebhookChannel{
		opts:     opts,
		contacts: contacts,
		poster:   newJSONPoster(opts.Timeout, opts.RatePerSecond, opts.Retry),
		logger:   logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return ChannelWebhook }

// Send implements Channel.
func (w *WebhookChannel) Send(ctx context.Context, p Payload) Result {
	url, err := resolveEndpoint(ctx, w.contacts, p.OwnerID, func(c storage.Contact) string { return c.WebhookURL })
	if err != nil {
		return recipientFailure(ChannelWebhook, err, "no webhook URL found for user "+p.OwnerID)
	}

	body, err := json.Marshal(newWebhookBody(p))
	if err != nil {
		return failure(ChannelWebhook, CategoryUnexpected, "marshal webhook payload: %v", err)
	}

	var headers map[string]string
	if w.opts.SecretHeader != "" && w.opts.Secret != "" {
		headers = map[string]string{w.opts.SecretHeader: w.opts.Secret}
	}

	_, attempts, err := w.poster.post(ctx, url, body, headers)
	if err != nil {
		return httpFailure(ChannelWebhook, err, attempts)
	}

	w.logger.Info().
		Str("rule_id", p.RuleID).
		Str("user_id", p.OwnerID).
		Int("attempts", attempts).
		Msg("webhook notification delivered")
	return success(ChannelWebhook, attempts)
}

var _ Channel = (*WebhookChannel)(nil)
