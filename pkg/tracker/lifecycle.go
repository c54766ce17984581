package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/triage"
)

var (
	// ErrInvalidTransition is returned when an alert cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid alert transition")

	// ErrInvalidEvent is returned for an inbound event with missing fields.
	ErrInvalidEvent = errors.New("invalid event")
)

// casAttempts bounds how often a lost compare-and-set is re-evaluated.
const casAttempts = 3

// LifecycleRecorder receives lifecycle events. Implemented by pkg/metrics.
type LifecycleRecorder interface {
	ObserveAlertCreated(category Category, tier Tier)
	ObserveTransition(from, to AlertStatus)
}

// NewAlert is the input for creating an alert. Urgency, when set, overrides
// the classifier and is matched case-insensitively.
type NewAlert struct {
	Category    Category `json:"category"`
	Message     string   `json:"message"`
	LocationID  string   `json:"locationId"`
	ItemID      string   `json:"itemId,omitempty"`
	Urgency     Tier     `json:"urgency,omitempty"`
	SubmittedBy string   `json:"submittedBy"`
}

// AlertManager owns alert creation and status transitions.
type AlertManager struct {
	alerts   storage.AlertStore
	recorder LifecycleRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewAlertManager creates an alert manager.
func NewAlertManager(alerts storage.AlertStore, logger *slog.Logger) *AlertManager {
	return &AlertManager{
		alerts: alerts,
		logger: logger,
		now:    time.Now,
	}
}

// SetRecorder attaches a metrics recorder.
func (m *AlertManager) SetRecorder(r LifecycleRecorder) {
	m.recorder = r
}

// Create persists a PENDING alert. The tier is fixed here and never
// recomputed afterwards.
func (m *AlertManager) Create(ctx context.Context, in NewAlert) (*Alert, error) {
	in.Category = Category(strings.ToUpper(strings.TrimSpace(string(in.Category))))
	if in.Category == "" {
		return nil, fmt.Errorf("missing category: %w", ErrInvalidEvent)
	}
	if in.LocationID == "" {
		return nil, fmt.Errorf("missing location: %w", ErrInvalidEvent)
	}

	tier := Tier(strings.ToUpper(strings.TrimSpace(string(in.Urgency))))
	switch {
	case tier == "":
		tier = triage.Classify(in.Category, in.Message)
		if !triage.KnownCategory(in.Category) {
			m.logger.Debug("unknown category classified with default tier", "category", in.Category, "tier", tier)
		}
	case !tier.Valid():
		return nil, fmt.Errorf("unknown urgency %q: %w", in.Urgency, ErrInvalidEvent)
	}

	alert := &Alert{
		ItemID:      in.ItemID,
		LocationID:  in.LocationID,
		Category:    in.Category,
		Message:     in.Message,
		Tier:        tier,
		Status:      StatusPending,
		SubmittedBy: in.SubmittedBy,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	m.logger.Info("alert created",
		"alert_id", alert.ID,
		"category", alert.Category,
		"tier", alert.Tier,
		"location_id", alert.LocationID,
	)
	if m.recorder != nil {
		m.recorder.ObserveAlertCreated(alert.Category, alert.Tier)
	}
	return alert, nil
}

// Get returns an alert by ID.
func (m *AlertManager) Get(ctx context.Context, id string) (*Alert, error) {
	return m.alerts.GetAlert(ctx, id)
}

// List returns alerts matching filter, newest first.
func (m *AlertManager) List(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	return m.alerts.ListAlerts(ctx, filter)
}

// Acknowledge moves a PENDING alert to ACKNOWLEDGED. Acknowledging an
// already acknowledged alert succeeds and keeps the original actor.
func (m *AlertManager) Acknowledge(ctx context.Context, id, actor string) (*Alert, error) {
	return m.transition(ctx, id, StatusAcknowledged, actor, func(from AlertStatus) (noop, ok bool) {
		switch from {
		case StatusPending:
			return false, true
		case StatusAcknowledged:
			return true, true
		}
		return false, false
	})
}

// Resolve closes a PENDING or ACKNOWLEDGED alert as worked.
func (m *AlertManager) Resolve(ctx context.Context, id string) (*Alert, error) {
	return m.transition(ctx, id, StatusResolved, "", nonTerminal)
}

// Dismiss closes a non-terminal alert as needing no work and records who
// dismissed it.
func (m *AlertManager) Dismiss(ctx context.Context, id, actor string) (*Alert, error) {
	return m.transition(ctx, id, StatusDismissed, actor, nonTerminal)
}

// Reopen returns an ACKNOWLEDGED alert to PENDING. It is a no-op for a
// PENDING alert; terminal alerts never reopen.
func (m *AlertManager) Reopen(ctx context.Context, id string) (*Alert, error) {
	return m.transition(ctx, id, StatusPending, "", func(from AlertStatus) (noop, ok bool) {
		switch from {
		case StatusPending:
			return true, true
		case StatusAcknowledged:
			return false, true
		}
		return false, false
	})
}

func nonTerminal(from AlertStatus) (noop, ok bool) {
	return false, !from.Terminal()
}

// transition applies a compare-and-set status change, re-evaluating the
// rule if another writer won the race.
func (m *AlertManager) transition(ctx context.Context, id string, to AlertStatus, actor string,
	allowed func(from AlertStatus) (noop, ok bool)) (*Alert, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		alert, err := m.alerts.GetAlert(ctx, id)
		if err != nil {
			return nil, err
		}

		noop, ok := allowed(alert.Status)
		if !ok {
			return nil, fmt.Errorf("alert %s: %s -> %s: %w", id, alert.Status, to, ErrInvalidTransition)
		}
		if noop {
			return alert, nil
		}

		from := alert.Status
		applied, err := m.alerts.TransitionAlert(ctx, id, from, storage.AlertChange{
			To:    to,
			Actor: actor,
			At:    m.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("transition alert %s: %w", id, err)
		}
		if !applied {
			continue
		}

		m.logger.Info("alert transitioned", "alert_id", id, "from", from, "to", to, "actor", actor)
		if m.recorder != nil {
			m.recorder.ObserveTransition(from, to)
		}
		return m.alerts.GetAlert(ctx, id)
	}
	return nil, fmt.Errorf("alert %s changed concurrently: %w", id, ErrInvalidTransition)
}
