package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

func (s *SQLStore) InsertSample(ctx context.Context, sample *model.UsageSample) error {
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = time.Now()
	}
	sample.ObservedAt = sample.ObservedAt.UTC()

	_, err := s.exec(ctx,
		`INSERT INTO usage_samples (id, item_id, usage_rate, observed_at) VALUES (?, ?, ?, ?)`,
		sample.ID, sample.ItemID, sample.UsageRate, sample.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage sample: %w", err)
	}
	return nil
}

func (s *SQLStore) RecentSamples(ctx context.Context, itemID string, limit int) ([]model.UsageSample, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.query(ctx,
		`SELECT id, item_id, usage_rate, observed_at FROM usage_samples
		 WHERE item_id = ?
		 ORDER BY observed_at DESC, seq DESC
		 LIMIT ?`,
		itemID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage samples: %w", err)
	}
	defer rows.Close()

	samples := make([]model.UsageSample, 0, limit)
	for rows.Next() {
		var u model.UsageSample
		if err := rows.Scan(&u.ID, &u.ItemID, &u.UsageRate, &u.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan usage sample row: %w", err)
		}
		u.ObservedAt = u.ObservedAt.UTC()
		samples = append(samples, u)
	}
	return samples, rows.Err()
}
