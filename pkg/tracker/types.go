package tracker

import "github.com/ogulcanaydogan/resource-sentinel/pkg/model"

// Re-export types from model package for convenience.
type (
	Alert       = model.Alert
	AlertFilter = model.AlertFilter
	AlertStatus = model.AlertStatus
	Category    = model.Category
	Tier        = model.Tier
	TrackedItem = model.TrackedItem
	Location    = model.Location
)

// Re-export constants.
const (
	StatusPending      = model.StatusPending
	StatusAcknowledged = model.StatusAcknowledged
	StatusResolved     = model.StatusResolved
	StatusDismissed    = model.StatusDismissed
)
