package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a decrement would take stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// LocationStore persists the minimal location records the core needs.
type LocationStore interface {
	// UpsertLocation creates or replaces a location by ID.
	UpsertLocation(ctx context.Context, loc *model.Location) error

	// GetLocation retrieves a location by ID.
	GetLocation(ctx context.Context, id string) (*model.Location, error)

	// ListLocations returns all locations ordered by name.
	ListLocations(ctx context.Context) ([]model.Location, error)
}

// ItemStore persists tracked items. Quantities only move through AdjustQuantity.
type ItemStore interface {
	// CreateItem persists a new tracked item.
	CreateItem(ctx context.Context, item *model.TrackedItem) error

	// GetItem retrieves an item by ID.
	GetItem(ctx context.Context, id string) (*model.TrackedItem, error)

	// FindItemByName looks up an item by name within a location.
	FindItemByName(ctx context.Context, locationID, name string) (*model.TrackedItem, error)

	// ListItems returns all items ordered by name.
	ListItems(ctx context.Context) ([]model.TrackedItem, error)

	// AdjustQuantity atomically adds delta to the live stock and returns the
	// new value. A change that would go below zero fails with ErrInsufficientStock.
	AdjustQuantity(ctx context.Context, id string, delta int64) (int64, error)

	// MoveItem reassigns an item to another location if it is still in from.
	MoveItem(ctx context.Context, id, fromLocationID, toLocationID string) error

	// SetDaysUntilDepletion updates the cached forecast field. Nil clears it.
	SetDaysUntilDepletion(ctx context.Context, id string, days *int64) error
}

// SampleStore persists append-only usage observations.
type SampleStore interface {
	// InsertSample appends a usage sample.
	InsertSample(ctx context.Context, sample *model.UsageSample) error

	// RecentSamples returns up to limit samples for an item, newest first.
	RecentSamples(ctx context.Context, itemID string, limit int) ([]model.UsageSample, error)
}

// AlertChange describes a lifecycle transition to apply.
type AlertChange struct {
	To    model.AlertStatus
	Actor string
	At    time.Time
}

// AlertStore persists alerts and applies status transitions.
type AlertStore interface {
	// CreateAlert persists a new alert.
	CreateAlert(ctx context.Context, alert *model.Alert) error

	// GetAlert retrieves an alert by ID.
	GetAlert(ctx context.Context, id string) (*model.Alert, error)

	// ListAlerts returns alerts matching the filter, newest first.
	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)

	// TransitionAlert applies change only if the alert is still in status from.
	// It reports false when the status no longer matched.
	TransitionAlert(ctx context.Context, id string, from model.AlertStatus, change AlertChange) (bool, error)
}

// PreferenceRepository is the single source of recipient notification preferences.
type PreferenceRepository interface {
	// GetPreference retrieves the preference for one recipient-channel pair.
	GetPreference(ctx context.Context, recipientID, channel string) (*model.NotificationPreference, error)

	// PreferencesFor returns every channel preference of a recipient.
	PreferencesFor(ctx context.Context, recipientID string) ([]model.NotificationPreference, error)

	// ListPreferences returns all preferences ordered by recipient.
	ListPreferences(ctx context.Context) ([]model.NotificationPreference, error)

	// SavePreference creates or replaces a recipient-channel preference.
	SavePreference(ctx context.Context, pref *model.NotificationPreference) error

	// FindPreferenceByLinkToken looks up a pending channel link.
	FindPreferenceByLinkToken(ctx context.Context, token string) (*model.NotificationPreference, error)
}

// DeliveryLog records delivery attempts and doubles as the dedupe guard.
type DeliveryLog interface {
	// ClaimDelivery records a pending attempt. It reports false when the
	// pair was already claimed or delivered; failed attempts may be reclaimed.
	ClaimDelivery(ctx context.Context, alertID, recipientID, channel string) (bool, error)

	// CompleteDelivery stores the final outcome of a claimed attempt.
	CompleteDelivery(ctx context.Context, record *model.DeliveryRecord) error

	// ListDeliveries returns the log entries for an alert.
	ListDeliveries(ctx context.Context, alertID string) ([]model.DeliveryRecord, error)
}

// Storage defines the persistence layer for the whole pipeline.
type Storage interface {
	LocationStore
	ItemStore
	SampleStore
	AlertStore
	PreferenceRepository
	DeliveryLog

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
