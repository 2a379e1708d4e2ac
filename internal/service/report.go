package service

import (
	"fmt"
	"time"

	"price-alerts/internal/history"
	"price-alerts/internal/storage"
)

// TriggeredAlert summarises one rule that fired during a run.
type TriggeredAlert struct {
	RuleID             string                `json:"rule_id"`
	OwnerID            string                `json:"user_id"`
	Condition          storage.ConditionKind `json:"condition_type"`
	Threshold          float64               `json:"threshold"`
	TriggeredValue     float64               `json:"triggered_value"`
	NotificationStatus map[string]bool       `json:"notification_status"`
	HistorySaved       bool                  `json:"history_saved"`
	HistoryID          string                `json:"history_id,omitempty"`
	Mirror             *history.MirrorResult `json:"mirror_status,omitempty"`
	Timestamp          time.Time             `json:"timestamp"`
}

// Report is the outcome of one evaluation run.
type Report struct {
	Model              string           `json:"model"`
	Region             string           `json:"region"`
	RulesEvaluated     int              `json:"rules_evaluated"`
	RulesTriggered     int              `json:"rules_triggered"`
	AlertsTriggered    []TriggeredAlert `json:"alerts_triggered"`
	NotificationErrors []string         `json:"notification_errors"`
}

func newReport(model, region string) *Report {
	return &Report{
		Model:              model,
		Region:             region,
		AlertsTriggered:    []TriggeredAlert{},
		NotificationErrors: []string{},
	}
}

// RunError is the single hard failure of a run.
type RunError struct {
	Model  string
	Region string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("failed to process alerts for %s/%s: %v", e.Model, e.Region, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
