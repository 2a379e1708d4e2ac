package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/retry"
	"price-alerts/internal/storage"
)

// TelegramOptions 描述 Telegram Bot 通道参数。
type TelegramOptions struct {
	BotToken      string
	APIBase       string
	ParseMode     string
	Timeout       time.Duration
	RatePerSecond float64
	Retry         retry.Policy
}

// TelegramChannel 通过 Telegram Bot API 推送消息。
type TelegramChannel struct {
	botToken  string
	baseURL   string
	parseMode string
	contacts  ContactLookup
	poster    *jsonPoster
	logger    zerolog.Logger
}

// NewTelegramChannel 构造 Telegram 通道。
func NewTelegramChannel(opts TelegramOptions, contacts ContactLookup, logger zerolog.Logger) *TelegramChannel {
	baseURL := opts.APIBase
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	parseMode := opts.ParseMode
	if parseMode == "" {
		parseMode = "Markdown"
	}

	return &TelegramChannel{
		botToken:  opts.BotToken,
		baseURL:   strings.TrimRight(baseURL, "/"),
		parseMode: parseMode,
		contacts:  contacts,
		poster:    newJSONPoster(opts.Timeout, opts.RatePerSecond, opts.Retry),
		logger:    logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Name implements Channel.
func (n *TelegramChannel) Name() string { return ChannelTelegram }

// Send 调用 sendMessage API 推送告警。
func (n *TelegramChannel) Send(ctx context.Context, p Payload) Result {
	chatID, err := resolveEndpoint(ctx, n.contacts, p.OwnerID, func(c storage.Contact) string { return c.ChatID })
	if err != nil {
		return recipientFailure(ChannelTelegram, err, "no Telegram chat ID found for user "+p.OwnerID)
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    chatID,
		"text":       renderTelegram(p),
		"parse_mode": n.parseMode,
	})
	if err != nil {
		return failure(ChannelTelegram, CategoryUnexpected, "marshal telegram payload: %v", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	resp, attempts, err := n.poster.post(ctx, url, body, nil)
	if err != nil {
		return httpFailure(ChannelTelegram, err, attempts)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(resp.body, &result); err == nil && !result.OK {
		r := failure(ChannelTelegram, CategoryAPI, "telegram returned ok=false: %s", truncate(result.Description, maxDetailLen))
		r.StatusCode = resp.status
		r.Attempts = attempts
		return r
	}

	n.logger.Info().
		Str("rule_id", p.RuleID).
		Str("user_id", p.OwnerID).
		Msg("告警已发送 (Telegram)")
	return success(ChannelTelegram, attempts)
}

var _ Channel = (*TelegramChannel)(nil)
