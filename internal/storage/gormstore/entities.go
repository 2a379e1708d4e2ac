package gormstore

import (
	"time"

	"github.com/shopspring/decimal"

	"price-alerts/internal/storage"
)

type ruleEntity struct {
	ID                   string          `gorm:"primaryKey;size:64"`
	UserID               string          `gorm:"index;not null"`
	ProductModel         string          `gorm:"index:idx_rule_product;not null"`
	Region               string          `gorm:"index:idx_rule_product;not null"`
	ConditionType        string          `gorm:"size:32;not null"`
	Threshold            decimal.Decimal `gorm:"type:numeric;not null"`
	TimePeriodDays       *int
	NotificationChannels []string `gorm:"serializer:json"`
	IsActive             bool     `gorm:"index;not null"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (ruleEntity) TableName() string { return "alert_rules" }

type historyEntity struct {
	ID                   string          `gorm:"primaryKey;size:64"`
	RuleID               string          `gorm:"index;not null"`
	UserID               string          `gorm:"index;not null"`
	ProductModel         string          `gorm:"index:idx_history_product;not null"`
	Region               string          `gorm:"index:idx_history_product"`
	ConditionType        string          `gorm:"size:32;not null"`
	Threshold            decimal.Decimal `gorm:"type:numeric;not null"`
	TriggeredValue       decimal.Decimal `gorm:"type:numeric;not null"`
	NotificationChannels []string        `gorm:"serializer:json"`
	NotificationStatus   map[string]bool `gorm:"serializer:json"`
	CreatedAt            time.Time       `gorm:"index"`
}

func (historyEntity) TableName() string { return "alert_history" }

type contactEntity struct {
	UserID     string `gorm:"primaryKey;size:64"`
	Email      string
	WebhookURL string
	ChatID     string
	UpdatedAt  time.Time
}

func (contactEntity) TableName() string { return "contacts" }

func ruleFromModel(r storage.AlertRule) ruleEntity {
	return ruleEntity{
		ID:                   r.ID,
		UserID:               r.OwnerID,
		ProductModel:         r.ProductModel,
		Region:               r.Region,
		ConditionType:        string(r.Condition),
		Threshold:            decimal.NewFromFloat(r.Threshold),
		TimePeriodDays:       r.TimePeriodDays,
		NotificationChannels: r.Channels,
		IsActive:             r.Active,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func (e ruleEntity) toModel() storage.AlertRule {
	return storage.AlertRule{
		ID:             e.ID,
		OwnerID:        e.UserID,
		ProductModel:   e.ProductModel,
		Region:         e.Region,
		Condition:      storage.ConditionKind(e.ConditionType),
		Threshold:      e.Threshold.InexactFloat64(),
		TimePeriodDays: e.TimePeriodDays,
		Channels:       e.NotificationChannels,
		Active:         e.IsActive,
		CreatedAt:      e.CreatedAt.UTC(),
		UpdatedAt:      e.UpdatedAt.UTC(),
	}
}

func historyFromModel(h storage.AlertHistory) historyEntity {
	return historyEntity{
		ID:                   h.ID,
		RuleID:               h.RuleID,
		UserID:               h.OwnerID,
		ProductModel:         h.ProductModel,
		Region:               h.Region,
		ConditionType:        string(h.Condition),
		Threshold:            decimal.NewFromFloat(h.Threshold),
		TriggeredValue:       decimal.NewFromFloat(h.TriggeredValue),
		NotificationChannels: h.NotificationChannels,
		NotificationStatus:   h.NotificationStatus,
		CreatedAt:            h.CreatedAt,
	}
}

func (e historyEntity) toModel() storage.AlertHistory {
	return storage.AlertHistory{
		ID:                   e.ID,
		RuleID:               e.RuleID,
		OwnerID:              e.UserID,
		ProductModel:         e.ProductModel,
		Region:               e.Region,
		Condition:            storage.ConditionKind(e.ConditionType),
		Threshold:            e.Threshold.InexactFloat64(),
		TriggeredValue:       e.TriggeredValue.InexactFloat64(),
		NotificationChannels: e.NotificationChannels,
		NotificationStatus:   e.NotificationStatus,
		CreatedAt:            e.CreatedAt.UTC(),
	}
}
