package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

const alertColumns = `id, item_id, location_id, category, message, urgency, status, submitted_by,
	acknowledged_by, acknowledged_at, resolved_at, dismissed_by, dismissed_at, created_at`

func scanAlert(row rowScanner) (*model.Alert, error) {
	var (
		a                       model.Alert
		ackAt, resAt, dismissAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.ItemID, &a.LocationID, &a.Category, &a.Message, &a.Tier, &a.Status,
		&a.SubmittedBy, &a.AcknowledgedBy, &ackAt, &resAt, &a.DismissedBy, &dismissAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.AcknowledgedAt = timePtr(ackAt)
	a.ResolvedAt = timePtr(resAt)
	a.DismissedAt = timePtr(dismissAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *SQLStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Status == "" {
		alert.Status = model.StatusPending
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	alert.CreatedAt = alert.CreatedAt.UTC()

	_, err := s.exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.ItemID, alert.LocationID, alert.Category, alert.Message, alert.Tier, alert.Status,
		alert.SubmittedBy, alert.AcknowledgedBy, nullTime(alert.AcknowledgedAt), nullTime(alert.ResolvedAt),
		alert.DismissedBy, nullTime(alert.DismissedAt), alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	a, err := scanAlert(s.queryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *SQLStore) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	where, args := buildAlertWhere(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *SQLStore) TransitionAlert(ctx context.Context, id string, from model.AlertStatus, change AlertChange) (bool, error) {
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	sets := []string{"status = ?"}
	args := []any{change.To}
	switch change.To {
	case model.StatusAcknowledged:
		sets = append(sets, "acknowledged_by = ?", "acknowledged_at = ?")
		args = append(args, change.Actor, at)
	case model.StatusResolved:
		sets = append(sets, "resolved_at = ?")
		args = append(args, at)
	case model.StatusDismissed:
		sets = append(sets, "dismissed_by = ?", "dismissed_at = ?")
		args = append(args, change.Actor, at)
	case model.StatusPending:
		sets = append(sets, "acknowledged_by = ''", "acknowledged_at = NULL")
	}
	args = append(args, id, from)

	result, err := s.exec(ctx,
		`UPDATE alerts SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("transition alert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows == 1, nil
}

// buildAlertWhere constructs a SQL WHERE clause from an AlertFilter.
func buildAlertWhere(filter model.AlertFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.OpenOnly {
		conditions = append(conditions, "status IN (?, ?)")
		args = append(args, model.StatusPending, model.StatusAcknowledged)
	}
	if filter.Tier != "" {
		conditions = append(conditions, "urgency = ?")
		args = append(args, filter.Tier)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.LocationID != "" {
		conditions = append(conditions, "location_id = ?")
		args = append(args, filter.LocationID)
	}
	if filter.ItemID != "" {
		conditions = append(conditions, "item_id = ?")
		args = append(args, filter.ItemID)
	}

	return strings.Join(conditions, " AND "), args
}
