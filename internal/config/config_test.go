package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "smtp.gmail.com", cfg.Alerting.Email.SMTPHost)
	assert.Equal(t, 465, cfg.Alerting.Email.SMTPPort)
	assert.Equal(t, "tls", cfg.Alerting.Email.Security)
	assert.Equal(t, 5*time.Second, cfg.Alerting.Webhook.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Alerting.Telegram.Timeout)
	assert.Equal(t, RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: true}, cfg.Alerting.Retry)
	assert.False(t, cfg.Mirror.Enabled)
	assert.Equal(t, "http://localhost:8000", cfg.Mirror.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.Mirror.Timeout)
	assert.Equal(t, ThresholdDefaults{PriceDrop: 15, PriceBelow: 850, TimePeriodDays: 7}, cfg.Alerting.DefaultThresholds)
	assert.Equal(t, 4, cfg.Alerting.MaxConcurrentRules)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  sqlite_path: /tmp/alerts.db
scheduler:
  interval: 5m
  run_on_start: true
analysis:
  base_url: http://analysis.local
watches:
  - model: RTX 4090
    region: us
  - model: RX 7900 XTX
    region: de
alerting:
  telegram:
    enabled: true
    bot_token: "123:abc"
  retry:
    max_retries: 1
    base_delay: 200ms
    max_delay: 2s
    jitter: false
mirror:
  enabled: true
  endpoint: http://tracker.local
history:
  retention: 720h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/alerts.db", cfg.Database.SQLitePath)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.RunOnStart)
	require.Len(t, cfg.Watches, 2)
	assert.Equal(t, WatchConfig{Model: "RX 7900 XTX", Region: "de"}, cfg.Watches[1])
	assert.True(t, cfg.ChannelEnabled("telegram"))
	assert.Equal(t, "123:abc", cfg.Alerting.Telegram.BotToken)
	assert.Equal(t, 200*time.Millisecond, cfg.Alerting.Retry.BaseDelay)
	assert.False(t, cfg.Alerting.Retry.Jitter)
	assert.Equal(t, 720*time.Hour, cfg.History.Retention)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRICEALERT_ALERTING_TELEGRAM_ENABLED", "true")
	t.Setenv("PRICEALERT_ALERTING_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("PRICEALERT_DATABASE_DSN", "postgres://localhost/alerts")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Alerting.Telegram.Enabled)
	assert.Equal(t, "env-token", cfg.Alerting.Telegram.BotToken)
	assert.Equal(t, "postgres://localhost/alerts", cfg.Database.DSN)
}

func TestLoadRejectsTelegramWithoutToken(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRICEALERT_ALERTING_TELEGRAM_ENABLED", "true")

	_, err := Load("")
	assert.ErrorContains(t, err, "bot_token")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"mirror endpoint", func(c *Config) { c.Mirror.Enabled = true; c.Mirror.Endpoint = " " }},
		{"retry bounds", func(c *Config) { c.Alerting.Retry.MaxDelay = time.Millisecond }},
		{"negative retries", func(c *Config) { c.Alerting.Retry.MaxRetries = -1 }},
		{"email sender", func(c *Config) { c.Alerting.Email.Enabled = true; c.Alerting.Email.FromAddress = "" }},
		{"email security", func(c *Config) {
			c.Alerting.Email.Enabled = true
			c.Alerting.Email.FromAddress = "alerts@example.com"
			c.Alerting.Email.Security = "ssl3"
		}},
		{"watch without region", func(c *Config) {
			c.Analysis.BaseURL = "http://analysis.local"
			c.Watches = []WatchConfig{{Model: "RTX 4090"}}
		}},
		{"watches without analysis url", func(c *Config) { c.Watches = []WatchConfig{{Model: "RTX 4090", Region: "us"}} }},
		{"retention", func(c *Config) { c.History.Retention = -time.Hour }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 5000}}
	assert.Equal(t, 5000, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 10, cfg.ResolveMaxPoints(10))
	assert.False(t, cfg.ChannelEnabled("sms"))
}
