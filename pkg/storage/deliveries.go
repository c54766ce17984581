package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

// deliveryPending marks a claimed attempt that has not finished yet.
const deliveryPending = "pending"

// StaleClaimAfter is how long a pending attempt blocks new claims. A process
// that dies mid-delivery never completes its row.
const StaleClaimAfter = 15 * time.Minute

func (s *SQLStore) ClaimDelivery(ctx context.Context, alertID, recipientID, channel string) (bool, error) {
	// A failed or stale pending row is taken over in place; anything else
	// blocks the claim.
	now := time.Now().UTC()
	result, err := s.exec(ctx,
		`INSERT INTO deliveries (alert_id, recipient_id, channel, status, error, attempted_at)
		 VALUES (?, ?, ?, ?, '', ?)
		 ON CONFLICT(alert_id, recipient_id, channel) DO UPDATE SET
		   status = excluded.status,
		   error = '',
		   attempted_at = excluded.attempted_at
		 WHERE deliveries.status = ?
		    OR (deliveries.status = ? AND deliveries.attempted_at < ?)`,
		alertID, recipientID, channel, deliveryPending, now,
		model.OutcomeFailed, deliveryPending, now.Add(-StaleClaimAfter),
	)
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLStore) CompleteDelivery(ctx context.Context, record *model.DeliveryRecord) error {
	if record.AttemptedAt.IsZero() {
		record.AttemptedAt = time.Now()
	}
	record.AttemptedAt = record.AttemptedAt.UTC()

	_, err := s.exec(ctx,
		`UPDATE deliveries SET status = ?, error = ?, attempted_at = ?
		 WHERE alert_id = ? AND recipient_id = ? AND channel = ?`,
		record.Status, record.Error, record.AttemptedAt,
		record.AlertID, record.RecipientID, record.Channel,
	)
	if err != nil {
		return fmt.Errorf("complete delivery: %w", err)
	}
	return nil
}

func (s *SQLStore) ListDeliveries(ctx context.Context, alertID string) ([]model.DeliveryRecord, error) {
	rows, err := s.query(ctx,
		`SELECT alert_id, recipient_id, channel, status, error, attempted_at
		 FROM deliveries WHERE alert_id = ? ORDER BY recipient_id, channel`, alertID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var records []model.DeliveryRecord
	for rows.Next() {
		var r model.DeliveryRecord
		if err := rows.Scan(&r.AlertID, &r.RecipientID, &r.Channel, &r.Status, &r.Error, &r.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		r.AttemptedAt = r.AttemptedAt.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}
