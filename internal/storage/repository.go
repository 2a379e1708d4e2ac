package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// DefaultHistoryLimit bounds history reads when the caller passes no limit.
const DefaultHistoryLimit = 100

const (
	ruleColumns = `id, user_id, product_model, region, condition_type, threshold,
        time_period_days, notification_channels, is_active, created_at, updated_at`

	historyColumns = `id, rule_id, user_id, product_model, region, condition_type, threshold,
        triggered_value, notification_channels, notification_status, created_at`

	listActiveRulesSQL = `SELECT ` + ruleColumns + `
    FROM alert_rules
    WHERE product_model = $1
      AND region = $2
      AND is_active
    ORDER BY created_at, id;`

	getRuleSQL = `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1;`

	insertRuleSQL = `INSERT INTO alert_rules (` + ruleColumns + `)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`

	updateRuleSQL = `UPDATE alert_rules
    SET user_id = $2,
        product_model = $3,
        region = $4,
        condition_type = $5,
        threshold = $6,
        time_period_days = $7,
        notification_channels = $8,
        is_active = $9,
        updated_at = $10
    WHERE id = $1;`

	setRuleActiveSQL = `UPDATE alert_rules SET is_active = $2, updated_at = $3 WHERE id = $1;`

	deleteRuleSQL = `DELETE FROM alert_rules WHERE id = $1;`

	insertHistorySQL = `INSERT INTO alert_history (` + historyColumns + `)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`

	listHistoryByOwnerSQL = `SELECT ` + historyColumns + `
    FROM alert_history
    WHERE user_id = $1
    ORDER BY created_at DESC, id
    LIMIT $2;`

	listHistoryByProductSQL = `SELECT ` + historyColumns + `
    FROM alert_history
    WHERE product_model = $1
      AND region = $2
    ORDER BY created_at DESC, id
    LIMIT $3;`

	listHistoryBetweenSQL = `SELECT ` + historyColumns + `
    FROM alert_history
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	deleteHistoryBeforeSQL = `DELETE FROM alert_history WHERE created_at < $1;`

	getContactSQL = `SELECT user_id, email, webhook_url, chat_id, updated_at FROM contacts WHERE user_id = $1;`

	upsertContactSQL = `INSERT INTO contacts (user_id, email, webhook_url, chat_id, updated_at)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (user_id) DO UPDATE
    SET email       = EXCLUDED.email,
        webhook_url = EXCLUDED.webhook_url,
        chat_id     = EXCLUDED.chat_id,
        updated_at  = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RuleStore defines rule persistence.
type RuleStore interface {
	GetActiveRules(ctx context.Context, model, region string) ([]AlertRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]AlertRule, error)
	GetRule(ctx context.Context, id string) (AlertRule, error)
	CreateRule(ctx context.Context, rule AlertRule) (AlertRule, error)
	UpdateRule(ctx context.Context, rule AlertRule) (AlertRule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error
	DeleteRule(ctx context.Context, id string) error
}

// HistoryStore defines operations for triggered-alert history.
type HistoryStore interface {
	InsertHistory(ctx context.Context, h AlertHistory) (AlertHistory, error)
	ListHistoryByOwner(ctx context.Context, ownerID string, limit int) ([]AlertHistory, error)
	ListHistoryByProduct(ctx context.Context, model, region string, limit int) ([]AlertHistory, error)
	ListHistoryBetween(ctx context.Context, from, to time.Time) ([]AlertHistory, error)
	DeleteHistoryBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// ContactStore resolves per-owner delivery endpoints.
type ContactStore interface {
	GetContact(ctx context.Context, ownerID string) (Contact, error)
	UpsertContact(ctx context.Context, c Contact) error
}

// Backend is what the application needs from a local store.
type Backend interface {
	RuleStore
	HistoryStore
	ContactStore
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL-backed Backend.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetActiveRules lists active rules for a product/region in creation order.
func (s *Store) GetActiveRules(ctx context.Context, model, region string) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listActiveRulesSQL, model, region)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return collectRules(rows)
}

// ListRules lists rules matching the filter.
func (s *Store) ListRules(ctx context.Context, filter RuleFilter) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query, args := buildListRulesQuery(filter)
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return collectRules(rows)
}

func buildListRulesQuery(filter RuleFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.OwnerID != "" {
		add("user_id = $%d", filter.OwnerID)
	}
	if filter.ProductModel != "" {
		add("product_model = $%d", filter.ProductModel)
	}
	if filter.Region != "" {
		add("region = $%d", filter.Region)
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active")
	}

	var b strings.Builder
	b.WriteString("SELECT " + ruleColumns + " FROM alert_rules")
	if len(clauses) > 0 {
		b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY created_at, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}

	rule, err := scanRule(pool.QueryRow(ctx, getRuleSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return AlertRule{}, ErrNotFound
	}
	if err != nil {
		return AlertRule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// CreateRule inserts a rule, assigning an id and timestamps when absent.
func (s *Store) CreateRule(ctx context.Context, rule AlertRule) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}

	rule = PrepareNewRule(rule, s.now())
	if err := rule.Validate(); err != nil {
		return AlertRule{}, err
	}

	if _, err := pool.Exec(ctx, insertRuleSQL,
		rule.ID,
		rule.OwnerID,
		rule.ProductModel,
		rule.Region,
		string(rule.Condition),
		decimal.NewFromFloat(rule.Threshold).String(),
		nullableInt(rule.TimePeriodDays),
		nonNilStrings(rule.Channels),
		rule.Active,
		rule.CreatedAt,
		rule.UpdatedAt,
	); err != nil {
		return AlertRule{}, fmt.Errorf("insert rule: %w", err)
	}
	return rule, nil
}

// UpdateRule overwrites a rule's mutable fields. Missing rules yield ErrNotFound.
func (s *Store) UpdateRule(ctx context.Context, rule AlertRule) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}
	if err := rule.Validate(); err != nil {
		return AlertRule{}, err
	}

	rule.UpdatedAt = s.now()
	tag, err := pool.Exec(ctx, updateRuleSQL,
		rule.ID,
		rule.OwnerID,
		rule.ProductModel,
		rule.Region,
		string(rule.Condition),
		decimal.NewFromFloat(rule.Threshold).String(),
		nullableInt(rule.TimePeriodDays),
		nonNilStrings(rule.Channels),
		rule.Active,
		rule.UpdatedAt,
	)
	if err != nil {
		return AlertRule{}, fmt.Errorf("update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return AlertRule{}, ErrNotFound
	}
	return s.GetRule(ctx, rule.ID)
}

// SetRuleActive toggles the active flag.
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, setRuleActiveSQL, id, active, s.now())
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule. History rows referencing it are kept.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, deleteRuleSQL, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertHistory persists a triggered alert.
func (s *Store) InsertHistory(ctx context.Context, h AlertHistory) (AlertHistory, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertHistory{}, err
	}

	h = PrepareHistory(h, s.now())
	status, err := json.Marshal(h.NotificationStatus)
	if err != nil {
		return AlertHistory{}, fmt.Errorf("marshal notification status: %w", err)
	}

	if _, err := pool.Exec(ctx, insertHistorySQL,
		h.ID,
		h.RuleID,
		h.OwnerID,
		h.ProductModel,
		h.Region,
		string(h.Condition),
		decimal.NewFromFloat(h.Threshold).String(),
		decimal.NewFromFloat(h.TriggeredValue).String(),
		nonNilStrings(h.NotificationChannels),
		status,
		h.CreatedAt,
	); err != nil {
		return AlertHistory{}, fmt.Errorf("insert history: %w", err)
	}
	return h, nil
}

// ListHistoryByOwner lists an owner's alerts, most recent first.
func (s *Store) ListHistoryByOwner(ctx context.Context, ownerID string, limit int) ([]AlertHistory, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listHistoryByOwnerSQL, ownerID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list history by owner: %w", err)
	}
	return collectHistory(rows)
}

// ListHistoryByProduct lists alerts for a product/region, most recent first.
func (s *Store) ListHistoryByProduct(ctx context.Context, model, region string, limit int) ([]AlertHistory, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listHistoryByProductSQL, model, region, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list history by product: %w", err)
	}
	return collectHistory(rows)
}

// ListHistoryBetween lists alerts in [from, to) oldest first.
func (s *Store) ListHistoryBetween(ctx context.Context, from, to time.Time) ([]AlertHistory, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listHistoryBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list history between: %w", err)
	}
	return collectHistory(rows)
}

// DeleteHistoryBefore purges alerts older than the cutoff.
func (s *Store) DeleteHistoryBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deleteHistoryBeforeSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete history before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetContact returns the owner's delivery endpoints.
func (s *Store) GetContact(ctx context.Context, ownerID string) (Contact, error) {
	pool, err := s.getPool()
	if err != nil {
		return Contact{}, err
	}
	var c Contact
	err = pool.QueryRow(ctx, getContactSQL, ownerID).Scan(&c.OwnerID, &c.Email, &c.WebhookURL, &c.ChatID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// UpsertContact stores the owner's delivery endpoints.
func (s *Store) UpsertContact(ctx context.Context, c Contact) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.OwnerID) == "" {
		return fmt.Errorf("contact owner id is empty")
	}
	if _, err := pool.Exec(ctx, upsertContactSQL, c.OwnerID, c.Email, c.WebhookURL, c.ChatID, s.now()); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// PrepareNewRule fills the id and timestamps of a rule about to be created.
func PrepareNewRule(rule AlertRule, now time.Time) AlertRule {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	return rule
}

// PrepareHistory fills the id and creation time of a history record about to be written.
func PrepareHistory(h AlertHistory, now time.Time) AlertHistory {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	if h.NotificationStatus == nil {
		h.NotificationStatus = map[string]bool{}
	}
	return h
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func collectRules(rows pgx.Rows) ([]AlertRule, error) {
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

func scanRule(row pgx.Row) (AlertRule, error) {
	var (
		rule         AlertRule
		condition    string
		thresholdStr string
		period       sql.NullInt32
	)
	if err := row.Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.ProductModel,
		&rule.Region,
		&condition,
		&thresholdStr,
		&period,
		&rule.Channels,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return AlertRule{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return AlertRule{}, fmt.Errorf("parse threshold: %w", err)
	}
	rule.Condition = ConditionKind(condition)
	rule.Threshold = threshold.InexactFloat64()
	if period.Valid {
		days := int(period.Int32)
		rule.TimePeriodDays = &days
	}
	return rule, nil
}

func collectHistory(rows pgx.Rows) ([]AlertHistory, error) {
	defer rows.Close()

	items := make([]AlertHistory, 0)
	for rows.Next() {
		var (
			h            AlertHistory
			condition    string
			thresholdStr string
			valueStr     string
			status       []byte
		)
		if err := rows.Scan(
			&h.ID,
			&h.RuleID,
			&h.OwnerID,
			&h.ProductModel,
			&h.Region,
			&condition,
			&thresholdStr,
			&valueStr,
			&h.NotificationChannels,
			&status,
			&h.CreatedAt,
		); err != nil {
			return nil, err
		}

		threshold, err := decimal.NewFromString(thresholdStr)
		if err != nil {
			return nil, fmt.Errorf("parse threshold: %w", err)
		}
		value, err := decimal.NewFromString(valueStr)
		if err != nil {
			return nil, fmt.Errorf("parse triggered value: %w", err)
		}
		h.Condition = ConditionKind(condition)
		h.Threshold = threshold.InexactFloat64()
		h.TriggeredValue = value.InexactFloat64()
		if len(status) > 0 {
			if err := json.Unmarshal(status, &h.NotificationStatus); err != nil {
				return nil, fmt.Errorf("decode notification status: %w", err)
			}
		}
		items = append(items, h)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
