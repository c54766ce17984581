package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/forecast"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/usage"
)

// ErrInsufficientStock is returned when a decrement would take stock below zero.
var ErrInsufficientStock = storage.ErrInsufficientStock

// Notifier hands a created alert to delivery without waiting for it.
type Notifier interface {
	Go(ctx context.Context, alert model.Alert)
}

// Tracker is the entry point for inbound events: it validates them,
// creates alerts and passes them on for notification.
type Tracker struct {
	store     storage.Storage
	alerts    *AlertManager
	samples   *usage.Store
	estimator *forecast.Estimator
	notifier  Notifier
	logger    *slog.Logger

	// depletionMu serializes the open-alert check with the create so that
	// concurrent samples raise one DEPLETION alert. It only covers this
	// process.
	depletionMu sync.Mutex
}

// NewTracker creates an event tracker. A nil notifier disables dispatch.
func NewTracker(store storage.Storage, alerts *AlertManager, samples *usage.Store, estimator *forecast.Estimator, notifier Notifier, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		alerts:    alerts,
		samples:   samples,
		estimator: estimator,
		notifier:  notifier,
		logger:    logger,
	}
}

// Alerts returns the lifecycle manager the tracker creates alerts through.
func (t *Tracker) Alerts() *AlertManager {
	return t.alerts
}

// Submit records a generic event as an alert. Delivery happens in the
// background and never fails the submission.
func (t *Tracker) Submit(ctx context.Context, ev NewAlert) (*Alert, error) {
	if _, err := t.location(ctx, ev.LocationID); err != nil {
		return nil, err
	}
	if ev.ItemID != "" {
		if _, err := t.store.GetItem(ctx, ev.ItemID); err != nil {
			return nil, fmt.Errorf("submit event: %w", err)
		}
	}
	return t.raise(ctx, ev)
}

// InventoryChange adds to or takes from an item's stock.
type InventoryChange struct {
	LocationID  string `json:"locationId"`
	ItemID      string `json:"itemId,omitempty"`
	ItemName    string `json:"itemName,omitempty"`
	Delta       int64  `json:"delta"`
	Capacity    int64  `json:"capacity,omitempty"`
	Reason      string `json:"reason,omitempty"`
	SubmittedBy string `json:"submittedBy"`
}

// ChangeInventory applies a stock delta, creating the item by name when it
// does not exist yet, and raises an INVENTORY_CHANGE alert.
func (t *Tracker) ChangeInventory(ctx context.Context, ch InventoryChange) (*TrackedItem, *Alert, error) {
	if ch.Delta == 0 {
		return nil, nil, fmt.Errorf("zero inventory delta: %w", ErrInvalidEvent)
	}
	ch.ItemName = strings.TrimSpace(ch.ItemName)
	if ch.ItemID == "" && ch.ItemName == "" {
		return nil, nil, fmt.Errorf("missing item: %w", ErrInvalidEvent)
	}
	if _, err := t.location(ctx, ch.LocationID); err != nil {
		return nil, nil, err
	}

	item, err := t.findOrCreateItem(ctx, ch)
	if err != nil {
		return nil, nil, err
	}

	qty, err := t.store.AdjustQuantity(ctx, item.ID, ch.Delta)
	if err != nil {
		return nil, nil, fmt.Errorf("change inventory of %s: %w", item.Name, err)
	}
	item.CurrentQuantity = qty

	message := fmt.Sprintf("%s: %+d", item.Name, ch.Delta)
	if ch.Reason != "" {
		message += " (" + ch.Reason + ")"
	}
	alert, err := t.raise(ctx, NewAlert{
		Category:    model.CategoryInventoryChange,
		Message:     message,
		LocationID:  item.LocationID,
		ItemID:      item.ID,
		SubmittedBy: ch.SubmittedBy,
	})
	if err != nil {
		return item, nil, err
	}
	return item, alert, nil
}

func (t *Tracker) findOrCreateItem(ctx context.Context, ch InventoryChange) (*TrackedItem, error) {
	if ch.ItemID != "" {
		item, err := t.store.GetItem(ctx, ch.ItemID)
		if err != nil {
			return nil, fmt.Errorf("change inventory: %w", err)
		}
		if item.LocationID != ch.LocationID {
			return nil, fmt.Errorf("item %s is not in location %s: %w", item.ID, ch.LocationID, ErrInvalidEvent)
		}
		return item, nil
	}

	item, err := t.store.FindItemByName(ctx, ch.LocationID, ch.ItemName)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("change inventory: %w", err)
	}
	if ch.Delta < 0 {
		return nil, fmt.Errorf("change inventory of unknown item %s: %w", ch.ItemName, ErrInsufficientStock)
	}

	capacity := ch.Capacity
	if capacity <= 0 {
		capacity = ch.Delta
	}
	item = &TrackedItem{Name: ch.ItemName, LocationID: ch.LocationID, Quantity: capacity}
	if err := t.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	t.logger.Info("item created", "item_id", item.ID, "name", item.Name, "location_id", item.LocationID)
	return item, nil
}

// Movement transfers an item between two locations of the same type.
type Movement struct {
	ItemID         string `json:"itemId"`
	FromLocationID string `json:"fromLocationId"`
	ToLocationID   string `json:"toLocationId"`
	Note           string `json:"note,omitempty"`
	SubmittedBy    string `json:"submittedBy"`
}

// MoveResource relocates an item and raises a RESOURCE_MOVEMENT alert at
// the destination.
func (t *Tracker) MoveResource(ctx context.Context, mv Movement) (*TrackedItem, *Alert, error) {
	if mv.ItemID == "" {
		return nil, nil, fmt.Errorf("missing item: %w", ErrInvalidEvent)
	}
	if mv.FromLocationID == mv.ToLocationID {
		return nil, nil, fmt.Errorf("source and destination are the same: %w", ErrInvalidEvent)
	}
	from, err := t.location(ctx, mv.FromLocationID)
	if err != nil {
		return nil, nil, err
	}
	to, err := t.location(ctx, mv.ToLocationID)
	if err != nil {
		return nil, nil, err
	}
	if from.Type != to.Type {
		return nil, nil, fmt.Errorf("cannot move between %q and %q locations: %w", from.Type, to.Type, ErrInvalidEvent)
	}

	item, err := t.store.GetItem(ctx, mv.ItemID)
	if err != nil {
		return nil, nil, fmt.Errorf("move resource: %w", err)
	}
	if item.LocationID != from.ID {
		return nil, nil, fmt.Errorf("item %s is not in location %s: %w", item.ID, from.ID, ErrInvalidEvent)
	}
	if err := t.store.MoveItem(ctx, item.ID, from.ID, to.ID); err != nil {
		return nil, nil, fmt.Errorf("move resource: %w", err)
	}
	item.LocationID = to.ID

	message := fmt.Sprintf("%s moved from %s to %s", item.Name, from.DisplayName(), to.DisplayName())
	if mv.Note != "" {
		message += " (" + mv.Note + ")"
	}
	alert, err := t.raise(ctx, NewAlert{
		Category:    model.CategoryResourceMovement,
		Message:     message,
		LocationID:  to.ID,
		ItemID:      item.ID,
		SubmittedBy: mv.SubmittedBy,
	})
	if err != nil {
		return item, nil, err
	}
	return item, alert, nil
}

// UsageResult is what recording a usage sample produced.
type UsageResult struct {
	Sample   model.UsageSample        `json:"sample"`
	Forecast *model.DepletionForecast `json:"forecast,omitempty"`
	Alert    *Alert                   `json:"alert,omitempty"`
}

// RecordUsage appends a usage sample, refreshes the item's cached forecast
// and raises a DEPLETION alert when stock is about to run out and no open
// depletion alert exists for the item.
func (t *Tracker) RecordUsage(ctx context.Context, itemID string, usageRate float64, observedAt time.Time) (*UsageResult, error) {
	if err := usage.Validate(itemID, usageRate); err != nil {
		return nil, err
	}
	item, err := t.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}

	sample, err := t.samples.Append(ctx, itemID, usageRate, observedAt)
	if err != nil {
		return nil, err
	}
	result := &UsageResult{Sample: sample}

	f, ok, err := t.estimator.Estimate(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return result, nil
	}
	result.Forecast = &f

	if err := t.store.SetDaysUntilDepletion(ctx, itemID, f.DaysUntilDepletion); err != nil {
		t.logger.Warn("cache days until depletion", "item_id", itemID, "error", err)
	}

	t.logger.Info("usage recorded",
		"item_id", itemID,
		"usage_rate", usageRate,
		"tier", f.Tier,
		"samples", f.SampleCount,
	)

	if f.LegacyTier != model.LegacyCritical {
		return result, nil
	}

	t.depletionMu.Lock()
	defer t.depletionMu.Unlock()
	open, err := t.alerts.List(ctx, AlertFilter{ItemID: itemID, Category: model.CategoryDepletion, OpenOnly: true, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("check open depletion alerts: %w", err)
	}
	if len(open) > 0 {
		return result, nil
	}

	alert, err := t.raise(ctx, NewAlert{
		Category:   model.CategoryDepletion,
		Message:    fmt.Sprintf("%s: %d left, about %d days until depleted", item.Name, item.CurrentQuantity, *f.DaysUntilDepletion),
		LocationID: item.LocationID,
		ItemID:     item.ID,
		Urgency:    f.Tier,
	})
	if err != nil {
		return nil, err
	}
	result.Alert = alert
	return result, nil
}

func (t *Tracker) raise(ctx context.Context, ev NewAlert) (*Alert, error) {
	alert, err := t.alerts.Create(ctx, ev)
	if err != nil {
		return nil, err
	}
	if t.notifier != nil {
		t.notifier.Go(ctx, *alert)
	}
	return alert, nil
}

func (t *Tracker) location(ctx context.Context, id string) (*Location, error) {
	if id == "" {
		return nil, fmt.Errorf("missing location: %w", ErrInvalidEvent)
	}
	loc, err := t.store.GetLocation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("unknown location %q: %w", id, ErrInvalidEvent)
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return loc, nil
}
