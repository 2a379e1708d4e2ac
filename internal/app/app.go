package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/alerting"
	"price-alerts/internal/config"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/history"
	"price-alerts/internal/metrics"
	"price-alerts/internal/retry"
	"price-alerts/internal/scheduler"
	"price-alerts/internal/service"
	"price-alerts/internal/storage"
	"price-alerts/internal/storage/gormstore"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	metrics *metrics.Metrics
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		Out:     os.Stdout,
		metrics: metrics.New(cfg.Metrics.Namespace),
	}
}

// openStore opens the configured local store. locker is nil unless the backend
// supports advisory locks.
func (a *App) openStore(ctx context.Context) (storage.Backend, storage.AdvisoryLocker, error) {
	db := a.Config.Database
	switch strings.ToLower(db.Driver) {
	case "sqlite":
		store, err := gormstore.OpenSQLite(db.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if db.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, nil, nil
	case "postgres", "":
		if db.DSN == "" {
			return nil, nil, errors.New("database.dsn not configured")
		}
		pool, err := storage.NewPool(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewStore(pool)
		if db.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

func (a *App) retryPolicy() retry.Policy {
	r := a.Config.Alerting.Retry
	logger := a.Logger.With().Str("component", "retry").Logger()
	return retry.Policy{
		MaxRetries: r.MaxRetries,
		BaseDelay:  r.BaseDelay,
		MaxDelay:   r.MaxDelay,
		Jitter:     r.Jitter,
		Logger:     &logger,
	}
}

// newRegistry registers every enabled channel. Disabled alerting yields an
// empty registry, so every rule channel is reported as unsupported.
func (a *App) newRegistry(contacts alerting.ContactLookup) (*alerting.Registry, error) {
	reg, err := alerting.NewRegistry()
	if err != nil {
		return nil, err
	}
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		a.Logger.Warn().Msg("alerting disabled; notifications will not be sent")
		return reg, nil
	}

	if cfg.Email.Enabled {
		err = reg.Register(alerting.NewEmailChannel(alerting.EmailOptions{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.FromAddress,
			Security: strings.ToLower(cfg.Email.Security),
			Timeout:  cfg.Email.Timeout,
		}, contacts, a.Logger))
		if err != nil {
			return nil, err
		}
	}
	if cfg.Webhook.Enabled {
		err = reg.Register(alerting.NewWebhookChannel(alerting.WebhookOptions{
			Timeout:       cfg.Webhook.Timeout,
			SecretHeader:  cfg.Webhook.SecretHeader,
			Secret:        cfg.Webhook.Secret,
			RatePerSecond: cfg.Webhook.RatePerSecond,
			Retry:         a.retryPolicy(),
		}, contacts, a.Logger))
		if err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.Enabled {
		err = reg.Register(alerting.NewTelegramChannel(alerting.TelegramOptions{
			BotToken:      cfg.Telegram.BotToken,
			APIBase:       cfg.Telegram.APIBase,
			ParseMode:     cfg.Telegram.ParseMode,
			Timeout:       cfg.Telegram.Timeout,
			RatePerSecond: cfg.Telegram.RatePerSecond,
			Retry:         a.retryPolicy(),
		}, contacts, a.Logger))
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *App) newHistory(store storage.HistoryStore) (*history.Repository, error) {
	var mirror *history.MirrorClient
	if a.Config.Mirror.Enabled {
		var err error
		mirror, err = history.NewMirrorClient(history.MirrorOptions{
			Endpoint: a.Config.Mirror.Endpoint,
			Timeout:  a.Config.Mirror.Timeout,
			Retry:    a.retryPolicy(),
		}, a.Logger)
		if err != nil {
			return nil, err
		}
	}
	return history.NewRepository(store, mirror, a.metrics, a.Logger), nil
}

// components is the evaluation pipeline built over one store.
type components struct {
	agent      *service.Agent
	dispatcher *alerting.Dispatcher
	history    *history.Repository
}

func (a *App) newComponents(store storage.Backend) (*components, error) {
	reg, err := a.newRegistry(store)
	if err != nil {
		return nil, err
	}
	hist, err := a.newHistory(store)
	if err != nil {
		return nil, err
	}
	dispatcher := alerting.NewDispatcher(reg, a.metrics, a.Logger)
	agent := service.NewAgent(
		store,
		alerting.NewEvaluator(a.Logger),
		dispatcher,
		hist,
		a.metrics,
		service.AgentOptions{MaxConcurrentRules: a.Config.Alerting.MaxConcurrentRules},
		a.Logger,
	)
	return &components{agent: agent, dispatcher: dispatcher, history: hist}, nil
}

// Run executes the long-running watch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, locker, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	comps, err := a.newComponents(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	source := fetcher.NewHTTPSource(fetcher.HTTPOptions{
		BaseURL:   a.Config.Analysis.BaseURL,
		Timeout:   a.Config.Analysis.RequestTimeout,
		UserAgent: a.Config.Analysis.UserAgent,
	}, a.Logger)

	svc := service.New(a.Config, sched, source, comps.agent, comps.history, locker, a.Logger)

	if a.Config.Metrics.Enabled {
		stop := a.serveMetrics()
		defer stop()
	}

	a.Logger.Info().Int("watches", len(a.Config.Watches)).Msg("starting price alert service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price alert service stopped")
	return nil
}

func (a *App) serveMetrics() func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.Config.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// EvaluateOptions configure a one-off evaluation of a payload file.
type EvaluateOptions struct {
	PayloadPath string
	Model       string
	Region      string
}

// ReplayOptions configure replay of archived payloads.
type ReplayOptions struct {
	Dir    string
	DryRun bool
}

// HistoryOptions select which alerts the history command lists.
type HistoryOptions struct {
	OwnerID string
	Model   string
	Region  string
	Limit   int
}

// ExportOptions hold parameters for exporting alert history.
// Empty OwnerID, Model and Region match every alert.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	OwnerID   string
	Model     string
	Region    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// SimulateOptions configure simulate-alert.
type SimulateOptions struct {
	RuleID string
	Value  float64
}
