// Package history persists triggered alerts to the local store and mirrors them
// to the remote tracker.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/metrics"
	"price-alerts/internal/storage"
)

// Write targets used in metrics.
const (
	targetLocal  = "local"
	targetMirror = "mirror"
)

// SaveResult reports both writes of a Save. Success reflects the local store only.
type SaveResult struct {
	ID      string        `json:"id"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Mirror  *MirrorResult `json:"mirror,omitempty"`
}

// Repository is the dual-write history repository. The local store is the source
// of truth; the mirror is best effort.
type Repository struct {
	store   storage.HistoryStore
	mirror  *MirrorClient
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRepository wires the local store and an optional mirror client (nil disables mirroring).
func NewRepository(store storage.HistoryStore, mirror *MirrorClient, m *metrics.Metrics, logger zerolog.Logger) *Repository {
	return &Repository{
		store:   store,
		mirror:  mirror,
		metrics: m,
		logger:  logger.With().Str("component", "history").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// MirrorEnabled reports whether records are replicated.
func (r *Repository) MirrorEnabled() bool {
	return r != nil && r.mirror != nil
}

// Save writes h locally and, when enabled, to the mirror. It never returns an
// error; failures of either write are described in the result.
func (r *Repository) Save(ctx context.Context, h storage.AlertHistory) SaveResult {
	h = storage.PrepareHistory(h, r.now())
	res := SaveResult{ID: h.ID}

	if err := r.saveLocal(ctx, h); err != nil {
		res.Error = err.Error()
		r.metrics.HistoryWrite(targetLocal, false)
		r.logger.Error().Err(err).Str("alert_id", h.ID).Str("rule_id", h.RuleID).Msg("failed to save alert history")
	} else {
		res.Success = true
		r.metrics.HistoryWrite(targetLocal, true)
	}

	if r.mirror != nil {
		m := r.mirror.Track(ctx, h)
		r.metrics.HistoryWrite(targetMirror, m.Success)
		res.Mirror = &m
	}
	return res
}

func (r *Repository) saveLocal(ctx context.Context, h storage.AlertHistory) (err error) {
	if r.store == nil {
		return storage.ErrNotConfigured
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during history insert: %v", rec)
		}
	}()
	_, err = r.store.InsertHistory(ctx, h)
	return err
}

// ByOwner lists an owner's alerts, newest first.
func (r *Repository) ByOwner(ctx context.Context, ownerID string, limit int) ([]storage.AlertHistory, error) {
	if r.store == nil {
		return nil, storage.ErrNotConfigured
	}
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	return r.store.ListHistoryByOwner(ctx, ownerID, limit)
}

// ByProduct lists alerts for a product in a region, newest first.
func (r *Repository) ByProduct(ctx context.Context, model, region string, limit int) ([]storage.AlertHistory, error) {
	if r.store == nil {
		return nil, storage.ErrNotConfigured
	}
	if model == "" || region == "" {
		return nil, errors.New("product model and region are required")
	}
	return r.store.ListHistoryByProduct(ctx, model, region, limit)
}

// Between lists alerts created in [from, to), oldest first.
func (r *Repository) Between(ctx context.Context, from, to time.Time) ([]storage.AlertHistory, error) {
	if r.store == nil {
		return nil, storage.ErrNotConfigured
	}
	if !to.After(from) {
		return nil, fmt.Errorf("invalid range: %s is not after %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return r.store.ListHistoryBetween(ctx, from, to)
}

// Purge deletes local records older than retention. Zero retention keeps everything.
func (r *Repository) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if r.store == nil || retention <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-retention)
	n, err := r.store.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	if n > 0 {
		r.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("purged expired alert history")
	}
	return n, nil
}
