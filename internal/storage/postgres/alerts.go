package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tan-res-space/rag-interface-sub006/internal/alerting"
)

// AlertStore persists alerts in the alerts table.
//
// Obtain one via [Store.Alerts] rather than constructing directly.
// All methods are safe for concurrent use.
type AlertStore struct {
	pool *pgxpool.Pool
}

// Create implements [alerting.Store].
func (s *AlertStore) Create(ctx context.Context, a *alerting.Alert) error {
	const q = `
		INSERT INTO alerts
		    (id, rule_id, severity, message, triggered_at, resolved_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		a.ID,
		a.RuleID,
		a.Severity,
		a.Message,
		a.TriggeredAt,
		a.ResolvedAt,
		a.Acknowledged,
	)
	if err != nil {
		return fmt.Errorf("alert store: create alert: %w", err)
	}
	return nil
}

// Unresolved implements [alerting.Store]. It returns nil, nil when the rule
// has no unresolved alert.
func (s *AlertStore) Unresolved(ctx context.Context, ruleID string) (*alerting.Alert, error) {
	const q = selectAlerts + ` WHERE rule_id = $1 AND resolved_at IS NULL`

	rows, err := s.pool.Query(ctx, q, ruleID)
	if err != nil {
		return nil, fmt.Errorf("alert store: get unresolved: %w", err)
	}
	a, err := pgx.CollectOneRow(rows, scanAlert)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alert store: scan alert: %w", err)
	}
	return &a, nil
}

// Resolve implements [alerting.Store].
func (s *AlertStore) Resolve(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET resolved_at = $1 WHERE id = $2 AND resolved_at IS NULL`,
		at, id)
	if err != nil {
		return fmt.Errorf("alert store: resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerting.ErrAlertNotFound
	}
	return nil
}

// Acknowledge implements [alerting.Store].
func (s *AlertStore) Acknowledge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("alert store: acknowledge alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alerting.ErrAlertNotFound
	}
	return nil
}

// List implements [alerting.Store]. Results are ordered newest first.
func (s *AlertStore) List(ctx context.Context, f alerting.Filter) ([]alerting.Alert, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.Severity != "" {
		conditions = append(conditions, "severity = "+next(f.Severity))
	}
	if f.Acknowledged != nil {
		conditions = append(conditions, "acknowledged = "+next(*f.Acknowledged))
	}
	if f.Unresolved {
		conditions = append(conditions, "resolved_at IS NULL")
	}

	q := selectAlerts
	if len(conditions) > 0 {
		q += "\nWHERE " + strings.Join(conditions, "\n  AND ")
	}
	q += "\nORDER BY triggered_at DESC"
	if f.Limit > 0 {
		q += "\nLIMIT " + next(f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("alert store: list alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, scanAlert)
	if err != nil {
		return nil, fmt.Errorf("alert store: scan rows: %w", err)
	}
	if alerts == nil {
		alerts = []alerting.Alert{}
	}
	return alerts, nil
}

const selectAlerts = `
	SELECT id, rule_id, severity, message, triggered_at, resolved_at, acknowledged
	FROM   alerts`

// scanAlert scans one row in selectAlerts column order.
func scanAlert(row pgx.CollectableRow) (alerting.Alert, error) {
	var a alerting.Alert
	err := row.Scan(
		&a.ID,
		&a.RuleID,
		&a.Severity,
		&a.Message,
		&a.TriggeredAt,
		&a.ResolvedAt,
		&a.Acknowledged,
	)
	return a, err
}
