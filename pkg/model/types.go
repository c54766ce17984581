package model

import "time"

// Tier is the unified urgency scale alerts and forecasts are compared on.
type Tier string

const (
	TierUrgent   Tier = "URGENT"     // Needs attention now
	TierSerious  Tier = "SERIOUS"    // Worth a human look soon
	TierDayToDay Tier = "DAY_TO_DAY" // Routine operations
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierUrgent, TierSerious, TierDayToDay:
		return true
	}
	return false
}

// LegacyTier is the older four-level scale still produced by forecasts.
type LegacyTier string

const (
	LegacyCritical LegacyTier = "CRITICAL"
	LegacyHigh     LegacyTier = "HIGH"
	LegacyMedium   LegacyTier = "MEDIUM"
	LegacyLow      LegacyTier = "LOW"
)

// Category identifies what kind of event raised an alert.
type Category string

const (
	CategoryDepletion          Category = "DEPLETION"
	CategoryMaintenance        Category = "MAINTENANCE"
	CategoryUrgentNeed         Category = "URGENT_NEED"
	CategoryEquipmentBreakdown Category = "EQUIPMENT_BREAKDOWN"
	CategoryFacilityIssue      Category = "FACILITY_ISSUE"
	CategoryInventoryChange    Category = "INVENTORY_CHANGE"
	CategoryResourceMovement   Category = "RESOURCE_MOVEMENT"
	CategoryBookLending        Category = "BOOK_LENDING"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusPending      AlertStatus = "PENDING"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusResolved     AlertStatus = "RESOLVED"
	StatusDismissed    AlertStatus = "DISMISSED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// TierFilter is a recipient's choice of which tiers reach them.
type TierFilter string

const (
	FilterUrgentOnly       TierFilter = "URGENT_ONLY"
	FilterUrgentAndSerious TierFilter = "URGENT_AND_SERIOUS"
	FilterAll              TierFilter = "ALL"
	FilterOff              TierFilter = "OFF"
)

// Valid reports whether f is one of the four known filters.
func (f TierFilter) Valid() bool {
	switch f {
	case FilterUrgentOnly, FilterUrgentAndSerious, FilterAll, FilterOff:
		return true
	}
	return false
}

// Allows reports whether an alert of tier t passes the filter.
func (f TierFilter) Allows(t Tier) bool {
	switch f {
	case FilterUrgentOnly:
		return t == TierUrgent
	case FilterUrgentAndSerious:
		return t == TierUrgent || t == TierSerious
	case FilterAll:
		return t.Valid()
	default:
		return false
	}
}

// Location is the minimal view of a campus location the core needs.
type Location struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Type   string `json:"type" db:"type"`
	Campus string `json:"campus,omitempty" db:"campus"`
}

// DisplayName renders "Campus - Location" when a campus is known.
func (l Location) DisplayName() string {
	if l.Campus == "" {
		return l.Name
	}
	return l.Campus + " - " + l.Name
}

// TrackedItem is a stocked resource whose depletion is forecast.
type TrackedItem struct {
	ID                 string    `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	LocationID         string    `json:"location_id" db:"location_id"`
	Quantity           int64     `json:"quantity" db:"quantity"`
	CurrentQuantity    int64     `json:"current_quantity" db:"current_quantity"`
	DaysUntilDepletion *int64    `json:"days_until_depletion,omitempty" db:"days_until_depletion"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// UsageSample is a single append-only consumption observation.
type UsageSample struct {
	ID         string    `json:"id" db:"id"`
	ItemID     string    `json:"item_id" db:"item_id"`
	UsageRate  float64   `json:"usage_rate" db:"usage_rate"`
	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
}

// DepletionForecast is derived from recent samples and never persisted
// beyond the item's cached DaysUntilDepletion.
type DepletionForecast struct {
	AverageDailyUsage  float64    `json:"average_daily_usage"`
	DaysUntilDepletion *int64     `json:"days_until_depletion"`
	LegacyTier         LegacyTier `json:"legacy_tier"`
	Tier               Tier       `json:"tier"`
	Confidence         float64    `json:"confidence"`
	SampleCount        int        `json:"sample_count"`
}

// ForecastQueryResult is one row of the predictions listing.
type ForecastQueryResult struct {
	ResourceID         string     `json:"resourceId"`
	ResourceName       string     `json:"resourceName"`
	CurrentQuantity    int64      `json:"currentQuantity"`
	DaysUntilDepletion *int64     `json:"daysUntilDepletion"`
	Tier               Tier       `json:"tier"`
	LegacyTier         LegacyTier `json:"legacyTier"`
	Confidence         float64    `json:"confidence"`
	Location           string     `json:"location"`
}

// Alert is a triaged event requiring human attention.
type Alert struct {
	ID             string      `json:"id" db:"id"`
	ItemID         string      `json:"item_id,omitempty" db:"item_id"`
	LocationID     string      `json:"location_id" db:"location_id"`
	Category       Category    `json:"category" db:"category"`
	Message        string      `json:"message" db:"message"`
	Tier           Tier        `json:"urgency" db:"urgency"`
	Status         AlertStatus `json:"status" db:"status"`
	SubmittedBy    string      `json:"submitted_by" db:"submitted_by"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
	DismissedBy    string      `json:"dismissed_by,omitempty" db:"dismissed_by"`
	DismissedAt    *time.Time  `json:"dismissed_at,omitempty" db:"dismissed_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// AlertFilter controls which alerts are listed.
type AlertFilter struct {
	Status     AlertStatus `json:"status,omitempty"`
	Tier       Tier        `json:"tier,omitempty"`
	Category   Category    `json:"category,omitempty"`
	LocationID string      `json:"location_id,omitempty"`
	ItemID     string      `json:"item_id,omitempty"`
	OpenOnly   bool        `json:"open_only,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// NotificationPreference gates delivery for one recipient-channel pair.
type NotificationPreference struct {
	RecipientID      string     `json:"recipient_id" db:"recipient_id"`
	Channel          string     `json:"channel" db:"channel"`
	ChannelAddress   string     `json:"channel_address,omitempty" db:"channel_address"`
	Enabled          bool       `json:"enabled" db:"enabled"`
	Filter           TierFilter `json:"filter" db:"tier_filter"`
	LinkToken        string     `json:"-" db:"link_token"`
	LinkTokenExpires *time.Time `json:"-" db:"link_token_expires"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// EffectiveFilter folds the enabled flag into the filter.
func (p NotificationPreference) EffectiveFilter() TierFilter {
	if !p.Enabled {
		return FilterOff
	}
	return p.Filter
}

// Connected reports whether the channel has an address to deliver to.
func (p NotificationPreference) Connected() bool {
	return p.ChannelAddress != ""
}

// DeliveryOutcome is the per-recipient result of routing an alert.
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeSkipped   DeliveryOutcome = "skipped"   // No usable preference or address
	OutcomeFiltered  DeliveryOutcome = "filtered"  // Tier not allowed by the filter
	OutcomeDuplicate DeliveryOutcome = "duplicate" // Already delivered for this alert
	OutcomeFailed    DeliveryOutcome = "failed"
)

// RecipientDelivery records what happened for one recipient.
type RecipientDelivery struct {
	RecipientID string          `json:"recipient_id"`
	Channel     string          `json:"channel,omitempty"`
	Outcome     DeliveryOutcome `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
}

// DeliveryReport aggregates the outcome of one routing call.
type DeliveryReport struct {
	AlertID    string              `json:"alert_id"`
	Tier       Tier                `json:"tier"`
	Deliveries []RecipientDelivery `json:"deliveries"`
}

// Count returns how many recipients ended with the given outcome.
func (r DeliveryReport) Count(outcome DeliveryOutcome) int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Outcome == outcome {
			n++
		}
	}
	return n
}

// DeliveryRecord is a row of the delivery log.
type DeliveryRecord struct {
	AlertID     string          `json:"alert_id" db:"alert_id"`
	RecipientID string          `json:"recipient_id" db:"recipient_id"`
	Channel     string          `json:"channel" db:"channel"`
	Status      DeliveryOutcome `json:"status" db:"status"`
	Error       string          `json:"error,omitempty" db:"error"`
	AttemptedAt time.Time       `json:"attempted_at" db:"attempted_at"`
}
