// Package gormstore is the embedded local store used for single-node installs.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gorm_logger "gorm.io/gorm/logger"

	"price-alerts/internal/storage"
)

// Store implements storage.Backend on gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) a sqlite database at path.
func OpenSQLite(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	return New(db), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&ruleEntity{}, &historyEntity{}, &contactEntity{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// GetActiveRules lists active rules for a product/region in creation order.
func (s *Store) GetActiveRules(ctx context.Context, model, region string) ([]storage.AlertRule, error) {
	var ents []ruleEntity
	err := s.db.WithContext(ctx).
		Where("product_model = ? AND region = ? AND is_active = ?", model, region, true).
		Order("created_at ASC, id ASC").
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	return rulesToModels(ents), nil
}

// ListRules lists rules matching the filter.
func (s *Store) ListRules(ctx context.Context, filter storage.RuleFilter) ([]storage.AlertRule, error) {
	q := s.db.WithContext(ctx).Model(&ruleEntity{})
	if filter.OwnerID != "" {
		q = q.Where("user_id = ?", filter.OwnerID)
	}
	if filter.ProductModel != "" {
		q = q.Where("product_model = ?", filter.ProductModel)
	}
	if filter.Region != "" {
		q = q.Where("region = ?", filter.Region)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var ents []ruleEntity
	if err := q.Order("created_at ASC, id ASC").Find(&ents).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rulesToModels(ents), nil
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (storage.AlertRule, error) {
	var ent ruleEntity
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&ent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.AlertRule{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.AlertRule{}, fmt.Errorf("failed to get rule: %w", err)
	}
	return ent.toModel(), nil
}

// CreateRule inserts a rule, assigning an id and timestamps when absent.
func (s *Store) CreateRule(ctx context.Context, rule storage.AlertRule) (storage.AlertRule, error) {
	rule = storage.PrepareNewRule(rule, s.now())
	if err := rule.Validate(); err != nil {
		return storage.AlertRule{}, err
	}
	ent := ruleFromModel(rule)
	if err := s.db.WithContext(ctx).Create(&ent).Error; err != nil {
		return storage.AlertRule{}, fmt.Errorf("failed to create rule: %w", err)
	}
	return ent.toModel(), nil
}

// UpdateRule overwrites a rule's mutable fields. Missing rules yield storage.ErrNotFound.
func (s *Store) UpdateRule(ctx context.Context, rule storage.AlertRule) (storage.AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return storage.AlertRule{}, err
	}
	var existing ruleEntity
	err := s.db.WithContext(ctx).Where("id = ?", rule.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.AlertRule{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.AlertRule{}, fmt.Errorf("failed to load rule: %w", err)
	}

	ent := ruleFromModel(rule)
	ent.CreatedAt = existing.CreatedAt
	ent.UpdatedAt = s.now()
	if err := s.db.WithContext(ctx).Save(&ent).Error; err != nil {
		return storage.AlertRule{}, fmt.Errorf("failed to update rule: %w", err)
	}
	return s.GetRule(ctx, rule.ID)
}

// SetRuleActive toggles the active flag.
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&ruleEntity{}).Where("id = ?", id).Updates(map[string]any{
		"is_active":  active,
		"updated_at": s.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to set rule active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule. History rows referencing it are kept.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&ruleEntity{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertHistory persists a triggered alert.
func (s *Store) InsertHistory(ctx context.Context, h storage.AlertHistory) (storage.AlertHistory, error) {
	h = storage.PrepareHistory(h, s.now())
	ent := historyFromModel(h)
	if err := s.db.WithContext(ctx).Create(&ent).Error; err != nil {
		return storage.AlertHistory{}, fmt.Errorf("failed to save history: %w", err)
	}
	return ent.toModel(), nil
}

// ListHistoryByOwner lists an owner's alerts, most recent first.
func (s *Store) ListHistoryByOwner(ctx context.Context, ownerID string, limit int) ([]storage.AlertHistory, error) {
	return s.listHistory(ctx, limit, "user_id = ?", ownerID)
}

// ListHistoryByProduct lists alerts for a product/region, most recent first.
func (s *Store) ListHistoryByProduct(ctx context.Context, model, region string, limit int) ([]storage.AlertHistory, error) {
	return s.listHistory(ctx, limit, "product_model = ? AND region = ?", model, region)
}

func (s *Store) listHistory(ctx context.Context, limit int, where string, args ...any) ([]storage.AlertHistory, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	var ents []historyEntity
	err := s.db.WithContext(ctx).
		Where(where, args...).
		Order("created_at DESC, id ASC").
		Limit(limit).
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return historyToModels(ents), nil
}

// ListHistoryBetween lists alerts in [from, to) oldest first.
func (s *Store) ListHistoryBetween(ctx context.Context, from, to time.Time) ([]storage.AlertHistory, error) {
	var ents []historyEntity
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at ASC").
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list history between: %w", err)
	}
	return historyToModels(ents), nil
}

// DeleteHistoryBefore purges alerts older than the cutoff.
func (s *Store) DeleteHistoryBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", olderThan.UTC()).Delete(&historyEntity{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete history before: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetContact returns the owner's delivery endpoints.
func (s *Store) GetContact(ctx context.Context, ownerID string) (storage.Contact, error) {
	var ent contactEntity
	err := s.db.WithContext(ctx).Where("user_id = ?", ownerID).First(&ent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Contact{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Contact{}, fmt.Errorf("failed to get contact: %w", err)
	}
	return storage.Contact{
		OwnerID:    ent.UserID,
		Email:      ent.Email,
		WebhookURL: ent.WebhookURL,
		ChatID:     ent.ChatID,
		UpdatedAt:  ent.UpdatedAt.UTC(),
	}, nil
}

// UpsertContact stores the owner's delivery endpoints.
func (s *Store) UpsertContact(ctx context.Context, c storage.Contact) error {
	if c.OwnerID == "" {
		return fmt.Errorf("contact owner id is empty")
	}
	ent := contactEntity{
		UserID:     c.OwnerID,
		Email:      c.Email,
		WebhookURL: c.WebhookURL,
		ChatID:     c.ChatID,
		UpdatedAt:  s.now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&ent).Error
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func rulesToModels(ents []ruleEntity) []storage.AlertRule {
	rules := make([]storage.AlertRule, 0, len(ents))
	for _, e := range ents {
		rules = append(rules, e.toModel())
	}
	return rules
}

func historyToModels(ents []historyEntity) []storage.AlertHistory {
	items := make([]storage.AlertHistory, 0, len(ents))
	for _, e := range ents {
		items = append(items, e.toModel())
	}
	return items
}

var _ storage.Backend = (*Store)(nil)
