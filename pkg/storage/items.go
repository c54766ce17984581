package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

func (s *SQLStore) UpsertLocation(ctx context.Context, loc *model.Location) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	_, err := s.exec(ctx,
		`INSERT INTO locations (id, name, type, campus, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   type = excluded.type,
		   campus = excluded.campus`,
		loc.ID, loc.Name, loc.Type, loc.Campus, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

func (s *SQLStore) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	var l model.Location
	err := s.queryRow(ctx, `SELECT id, name, type, campus FROM locations WHERE id = ?`, id).
		Scan(&l.ID, &l.Name, &l.Type, &l.Campus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("location %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return &l, nil
}

func (s *SQLStore) ListLocations(ctx context.Context) ([]model.Location, error) {
	rows, err := s.query(ctx, `SELECT id, name, type, campus FROM locations ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Type, &l.Campus); err != nil {
			return nil, fmt.Errorf("scan location row: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

const itemColumns = `id, name, location_id, quantity, current_quantity, days_until_depletion, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.TrackedItem, error) {
	var (
		it   model.TrackedItem
		days sql.NullInt64
	)
	if err := row.Scan(&it.ID, &it.Name, &it.LocationID, &it.Quantity, &it.CurrentQuantity,
		&days, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	it.DaysUntilDepletion = intPtr(days)
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return &it, nil
}

func (s *SQLStore) CreateItem(ctx context.Context, item *model.TrackedItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CurrentQuantity < 0 {
		return fmt.Errorf("create item %q: %w", item.Name, ErrInsufficientStock)
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.exec(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.LocationID, item.Quantity, item.CurrentQuantity,
		nullInt(item.DaysUntilDepletion), item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *SQLStore) GetItem(ctx context.Context, id string) (*model.TrackedItem, error) {
	it, err := scanItem(s.queryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (s *SQLStore) FindItemByName(ctx context.Context, locationID, name string) (*model.TrackedItem, error) {
	it, err := scanItem(s.queryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE location_id = ? AND name = ? ORDER BY created_at LIMIT 1`,
		locationID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %q in %q: %w", name, locationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find item: %w", err)
	}
	return it, nil
}

func (s *SQLStore) ListItems(ctx context.Context) ([]model.TrackedItem, error) {
	rows, err := s.query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []model.TrackedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (s *SQLStore) AdjustQuantity(ctx context.Context, id string, delta int64) (int64, error) {
	var current int64
	err := s.queryRow(ctx,
		`UPDATE items SET current_quantity = current_quantity + ?, updated_at = ?
		 WHERE id = ? AND current_quantity + ? >= 0
		 RETURNING current_quantity`,
		delta, time.Now().UTC(), id, delta,
	).Scan(&current)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust quantity: %w", err)
	}

	// No row matched: either the item is missing or the guard rejected it.
	if _, getErr := s.GetItem(ctx, id); getErr != nil {
		return 0, getErr
	}
	return 0, fmt.Errorf("adjust item %q by %d: %w", id, delta, ErrInsufficientStock)
}

func (s *SQLStore) MoveItem(ctx context.Context, id, fromLocationID, toLocationID string) error {
	result, err := s.exec(ctx,
		`UPDATE items SET location_id = ?, updated_at = ? WHERE id = ? AND location_id = ?`,
		toLocationID, time.Now().UTC(), id, fromLocationID,
	)
	if err != nil {
		return fmt.Errorf("move item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("item %q in %q: %w", id, fromLocationID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) SetDaysUntilDepletion(ctx context.Context, id string, days *int64) error {
	result, err := s.exec(ctx,
		`UPDATE items SET days_until_depletion = ?, updated_at = ? WHERE id = ?`,
		nullInt(days), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update days until depletion: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	return nil
}
