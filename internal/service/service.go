package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/config"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/scheduler"
	"price-alerts/internal/storage"
)

// Evaluator runs one evaluation for an analysis snapshot. *Agent satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, analysis fetcher.Analysis) (*Report, error)
}

// Purger drops expired history.
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// Service drives scheduled evaluation of the configured watches.
type Service struct {
	scheduler *scheduler.Scheduler
	source    fetcher.Source
	agent     Evaluator
	purger    Purger
	logger    zerolog.Logger

	watches   []config.WatchConfig
	retention time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the watch service. locker may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.Source, agent Evaluator, purger Purger, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		source:    source,
		agent:     agent,
		purger:    purger,
		logger:    logger.With().Str("component", "service").Logger(),
		watches:   cfg.Watches,
		retention: cfg.History.Retention,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the scheduling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if len(s.watches) == 0 {
		return fmt.Errorf("no watches configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单次调度: 加锁后逐个评估 watch。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.RunWatches(ctx)
	return err
}

// RunWatches fetches and evaluates every watch. A failed watch does not stop the
// others; all failures are joined into the returned error.
func (s *Service) RunWatches(ctx context.Context) ([]*Report, error) {
	if s.source == nil || s.agent == nil {
		return nil, fmt.Errorf("service not fully configured")
	}

	var (
		reports []*Report
		errs    []error
	)
	for _, w := range s.watches {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := s.runWatch(ctx, w)
		if err != nil {
			s.logger.Error().Err(err).Str("model", w.Model).Str("region", w.Region).Msg("watch evaluation failed")
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}

	if s.purger != nil && s.retention > 0 {
		if _, err := s.purger.Purge(ctx, s.retention); err != nil {
			s.logger.Error().Err(err).Msg("history retention purge failed")
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func (s *Service) runWatch(ctx context.Context, w config.WatchConfig) (*Report, error) {
	model := strings.TrimSpace(w.Model)
	region := strings.TrimSpace(w.Region)

	analysis, err := s.source.FetchAnalysis(ctx, model, region)
	if err != nil {
		return nil, fmt.Errorf("fetch analysis %s/%s: %w", model, region, err)
	}
	if analysis.Model == "" {
		analysis.Model = model
	}
	if analysis.Region == "" {
		analysis.Region = region
	}

	report, err := s.agent.Evaluate(ctx, analysis)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("model", report.Model).
		Str("region", report.Region).
		Int("rules_triggered", report.RulesTriggered).
		Int("errors", len(report.NotificationErrors)).
		Msg("watch evaluated")
	return report, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
