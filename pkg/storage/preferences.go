package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

const preferenceColumns = `recipient_id, channel, channel_address, enabled, tier_filter, link_token, link_token_expires, updated_at`

func scanPreference(row rowScanner) (*model.NotificationPreference, error) {
	var (
		p       model.NotificationPreference
		expires sql.NullTime
	)
	if err := row.Scan(&p.RecipientID, &p.Channel, &p.ChannelAddress, &p.Enabled, &p.Filter,
		&p.LinkToken, &expires, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.LinkTokenExpires = timePtr(expires)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *SQLStore) GetPreference(ctx context.Context, recipientID, channel string) (*model.NotificationPreference, error) {
	p, err := scanPreference(s.queryRow(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE recipient_id = ? AND channel = ?`,
		recipientID, channel))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preference %s/%s: %w", recipientID, channel, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return p, nil
}

func (s *SQLStore) PreferencesFor(ctx context.Context, recipientID string) ([]model.NotificationPreference, error) {
	return s.listPreferences(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE recipient_id = ? ORDER BY channel`,
		recipientID)
}

func (s *SQLStore) ListPreferences(ctx context.Context) ([]model.NotificationPreference, error) {
	return s.listPreferences(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences ORDER BY recipient_id, channel`)
}

func (s *SQLStore) listPreferences(ctx context.Context, query string, args ...any) ([]model.NotificationPreference, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.NotificationPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference row: %w", err)
		}
		prefs = append(prefs, *p)
	}
	return prefs, rows.Err()
}

func (s *SQLStore) SavePreference(ctx context.Context, pref *model.NotificationPreference) error {
	if pref.Filter == "" {
		pref.Filter = model.FilterUrgentOnly
	}
	pref.UpdatedAt = time.Now().UTC()

	_, err := s.exec(ctx,
		`INSERT INTO notification_preferences (`+preferenceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(recipient_id, channel) DO UPDATE SET
		   channel_address = excluded.channel_address,
		   enabled = excluded.enabled,
		   tier_filter = excluded.tier_filter,
		   link_token = excluded.link_token,
		   link_token_expires = excluded.link_token_expires,
		   updated_at = excluded.updated_at`,
		pref.RecipientID, pref.Channel, pref.ChannelAddress, pref.Enabled, pref.Filter,
		pref.LinkToken, nullTime(pref.LinkTokenExpires), pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save preference: %w", err)
	}
	return nil
}

func (s *SQLStore) FindPreferenceByLinkToken(ctx context.Context, token string) (*model.NotificationPreference, error) {
	if token == "" {
		return nil, fmt.Errorf("empty link token: %w", ErrNotFound)
	}
	p, err := scanPreference(s.queryRow(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE link_token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("link token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find preference by token: %w", err)
	}
	return p, nil
}
