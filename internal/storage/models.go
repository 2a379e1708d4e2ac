package storage

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ConditionKind names the comparison a rule performs.
type ConditionKind string

const (
	// ConditionPriceDrop triggers on a percentage drop at or above the threshold.
	ConditionPriceDrop ConditionKind = "price_drop"
	// ConditionPriceBelow triggers when the lowest price is strictly under the threshold.
	ConditionPriceBelow ConditionKind = "price_below"
)

// Known reports whether the kind is one the evaluator understands.
func (k ConditionKind) Known() bool {
	return k == ConditionPriceDrop || k == ConditionPriceBelow
}

// AlertRule is a user's standing condition for a product in a region.
type AlertRule struct {
	ID             string
	OwnerID        string
	ProductModel   string
	Region         string
	Condition      ConditionKind
	Threshold      float64
	TimePeriodDays *int
	Channels       []string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate rejects rules that cannot be evaluated.
func (r AlertRule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id is empty")
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return fmt.Errorf("rule %s has non-finite threshold", r.ID)
	}
	if r.Threshold < 0 {
		return fmt.Errorf("rule %s has negative threshold %v", r.ID, r.Threshold)
	}
	// a zero drop is met by every snapshot
	if r.Condition == ConditionPriceDrop && r.Threshold == 0 {
		return fmt.Errorf("rule %s: price_drop threshold must be greater than zero", r.ID)
	}
	return nil
}

// AlertHistory is the immutable record of one triggered rule.
type AlertHistory struct {
	ID                   string
	RuleID               string
	OwnerID              string
	ProductModel         string
	Region               string
	Condition            ConditionKind
	Threshold            float64
	TriggeredValue       float64
	NotificationChannels []string
	NotificationStatus   map[string]bool
	CreatedAt            time.Time
}

// Contact holds the per-owner delivery endpoints.
type Contact struct {
	OwnerID    string
	Email      string
	WebhookURL string
	ChatID     string
	UpdatedAt  time.Time
}

// RuleFilter narrows ListRules. Empty fields match everything.
type RuleFilter struct {
	OwnerID      string
	ProductModel string
	Region       string
	ActiveOnly   bool
	Limit        int
}
