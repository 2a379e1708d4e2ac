package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-alerts/internal/logging"
)

const envPrefix = "PRICEALERT"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Watches   []WatchConfig   `mapstructure:"watches"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	History   HistoryConfig   `mapstructure:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the local store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AnalysisConfig points at the analysis payload producer.
type AnalysisConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// WatchConfig is a product/region pair evaluated on every scheduler tick.
type WatchConfig struct {
	Model  string `mapstructure:"model"`
	Region string `mapstructure:"region"`
}

// AlertingConfig defines channel credentials and dispatch behaviour.
type AlertingConfig struct {
	Enabled            bool              `mapstructure:"enabled"`
	MaxConcurrentRules int               `mapstructure:"max_concurrent_rules"`
	DefaultThresholds  ThresholdDefaults `mapstructure:"default_thresholds"`
	Email              EmailConfig       `mapstructure:"email"`
	Webhook            WebhookConfig     `mapstructure:"webhook"`
	Telegram           TelegramConfig    `mapstructure:"telegram"`
	Retry              RetryConfig       `mapstructure:"retry"`
}

// ThresholdDefaults fill in rules created without explicit values.
type ThresholdDefaults struct {
	PriceDrop      float64 `mapstructure:"price_drop"`
	PriceBelow     float64 `mapstructure:"price_below"`
	TimePeriodDays int     `mapstructure:"time_period_days"`
}

// EmailConfig describes the SMTP relay.
type EmailConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SMTPHost    string        `mapstructure:"smtp_host"`
	SMTPPort    int           `mapstructure:"smtp_port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	FromAddress string        `mapstructure:"from_address"`
	Security    string        `mapstructure:"security"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WebhookConfig tunes outbound webhook delivery.
type WebhookConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SecretHeader  string        `mapstructure:"secret_header"`
	Secret        string        `mapstructure:"secret"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BotToken      string        `mapstructure:"bot_token"`
	APIBase       string        `mapstructure:"api_base"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ParseMode     string        `mapstructure:"parse_mode"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// RetryConfig is the backoff policy for network-bound sends.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Jitter     bool          `mapstructure:"jitter"`
}

// MirrorConfig controls replication of history to the remote tracker.
type MirrorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HistoryConfig sets the local retention window. Zero keeps everything.
type HistoryConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// MetricsConfig exposes prometheus metrics.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricealert")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// keys without a real default are registered so AutomaticEnv can bind them
	v.SetDefault("database.dsn", "")
	v.SetDefault("analysis.base_url", "")
	v.SetDefault("analysis.user_agent", "")
	v.SetDefault("alerting.email.username", "")
	v.SetDefault("alerting.email.password", "")
	v.SetDefault("alerting.email.from_address", "")
	v.SetDefault("alerting.webhook.secret_header", "X-Alert-Secret")
	v.SetDefault("alerting.webhook.secret", "")
	v.SetDefault("alerting.telegram.bot_token", "")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "pricealert.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726963))

	v.SetDefault("analysis.request_timeout", "10s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.max_concurrent_rules", 4)
	v.SetDefault("alerting.default_thresholds.price_drop", 15.0)
	v.SetDefault("alerting.default_thresholds.price_below", 850.0)
	v.SetDefault("alerting.default_thresholds.time_period_days", 7)

	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.smtp_host", "smtp.gmail.com")
	v.SetDefault("alerting.email.smtp_port", 465)
	v.SetDefault("alerting.email.security", "tls")
	v.SetDefault("alerting.email.timeout", "30s")

	v.SetDefault("alerting.webhook.enabled", true)
	v.SetDefault("alerting.webhook.timeout", "5s")
	v.SetDefault("alerting.webhook.rate_per_second", 0)

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "5s")
	v.SetDefault("alerting.telegram.parse_mode", "Markdown")
	v.SetDefault("alerting.telegram.rate_per_second", 25)

	v.SetDefault("alerting.retry.max_retries", 3)
	v.SetDefault("alerting.retry.base_delay", "1s")
	v.SetDefault("alerting.retry.max_delay", "30s")
	v.SetDefault("alerting.retry.jitter", true)

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.endpoint", "http://localhost:8000")
	v.SetDefault("mirror.timeout", "10s")

	v.SetDefault("history.retention", "0s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9102")
	v.SetDefault("metrics.namespace", "pricealert")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for i, w := range c.Watches {
		if strings.TrimSpace(w.Model) == "" || strings.TrimSpace(w.Region) == "" {
			return fmt.Errorf("watches[%d]: model and region are required", i)
		}
	}
	if len(c.Watches) > 0 && c.Analysis.BaseURL == "" {
		return fmt.Errorf("analysis.base_url is required when watches are configured")
	}
	if c.Alerting.MaxConcurrentRules <= 0 {
		return fmt.Errorf("alerting.max_concurrent_rules must be greater than zero")
	}
	if err := c.Alerting.Retry.validate(); err != nil {
		return err
	}
	if e := c.Alerting.Email; e.Enabled {
		if e.SMTPHost == "" || e.SMTPPort <= 0 {
			return fmt.Errorf("alerting.email.smtp_host and smtp_port are required")
		}
		if e.FromAddress == "" {
			return fmt.Errorf("alerting.email.from_address is required")
		}
		switch strings.ToLower(e.Security) {
		case "tls", "starttls", "none":
		default:
			return fmt.Errorf("alerting.email.security must be tls, starttls or none")
		}
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
	}
	if c.Mirror.Enabled && strings.TrimSpace(c.Mirror.Endpoint) == "" {
		return fmt.Errorf("mirror.endpoint is required when mirror.enabled is true")
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention cannot be negative")
	}
	return nil
}

func (r RetryConfig) validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("alerting.retry.max_retries cannot be negative")
	}
	if r.BaseDelay <= 0 || r.MaxDelay <= 0 {
		return fmt.Errorf("alerting.retry delays must be greater than zero")
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("alerting.retry.max_delay must be >= base_delay")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ChannelEnabled reports whether the named channel has been switched on.
func (c *Config) ChannelEnabled(name string) bool {
	switch name {
	case "email":
		return c.Alerting.Email.Enabled
	case "webhook":
		return c.Alerting.Webhook.Enabled
	case "telegram":
		return c.Alerting.Telegram.Enabled
	}
	return false
}
