// Package triage maps events and forecasts onto the unified urgency tiers.
package triage

import (
	"strings"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

// Depletion horizons in days. Each bound is inclusive.
const (
	CriticalWithinDays = 7
	HighWithinDays     = 14
	MediumWithinDays   = 30
)

// DefaultTier is what any unrecognized category or label maps to.
const DefaultTier = model.TierSerious

var categoryTiers = map[model.Category]model.Tier{
	model.CategoryEquipmentBreakdown: model.TierUrgent,
	model.CategoryUrgentNeed:         model.TierUrgent,
	model.CategoryMaintenance:        model.TierSerious,
	model.CategoryFacilityIssue:      model.TierSerious,
	model.CategoryDepletion:          model.TierSerious,
	model.CategoryInventoryChange:    model.TierDayToDay,
	model.CategoryResourceMovement:   model.TierDayToDay,
	model.CategoryBookLending:        model.TierDayToDay,
}

// Classify returns the tier for an event category. The message is accepted
// for call-site symmetry but never parsed; the category is authoritative.
func Classify(category model.Category, _ string) model.Tier {
	if tier, ok := categoryTiers[category]; ok {
		return tier
	}
	return DefaultTier
}

// KnownCategory reports whether the category has an explicit table entry.
func KnownCategory(category model.Category) bool {
	_, ok := categoryTiers[category]
	return ok
}

// NormalizeLegacyTier folds a legacy four-level label (or a current tier
// label) into the three-level scale. Matching is case-insensitive.
func NormalizeLegacyTier(label string) model.Tier {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case string(model.LegacyCritical), string(model.TierUrgent):
		return model.TierUrgent
	case string(model.LegacyHigh), string(model.LegacyMedium), string(model.TierSerious):
		return model.TierSerious
	case string(model.LegacyLow), string(model.TierDayToDay), "DAY-TO-DAY":
		return model.TierDayToDay
	default:
		return DefaultTier
	}
}

// LegacyTierForDays maps days until depletion onto the legacy scale.
func LegacyTierForDays(days int64) model.LegacyTier {
	switch {
	case days <= CriticalWithinDays:
		return model.LegacyCritical
	case days <= HighWithinDays:
		return model.LegacyHigh
	case days <= MediumWithinDays:
		return model.LegacyMedium
	default:
		return model.LegacyLow
	}
}

// TierForDays maps days until depletion straight onto the alert tiers.
func TierForDays(days int64) model.Tier {
	return NormalizeLegacyTier(string(LegacyTierForDays(days)))
}

// Markers looked for in untiered free text.
var (
	urgentMarkers  = []string{"🚨 URGENT", "URGENT ALERT", "[URGENT]"}
	seriousMarkers = []string{"SERIOUS", "⚠️"}
)

// SniffTier infers a tier from free text that carries no tier of its own,
// such as a direct message. Text without markers is routine.
func SniffTier(text string) model.Tier {
	for _, m := range urgentMarkers {
		if strings.Contains(text, m) {
			return model.TierUrgent
		}
	}
	for _, m := range seriousMarkers {
		if strings.Contains(text, m) {
			return model.TierSerious
		}
	}
	return model.TierDayToDay
}

// Label returns the human-readable tier name.
func Label(tier model.Tier) string {
	switch tier {
	case model.TierUrgent:
		return "Urgent"
	case model.TierDayToDay:
		return "Day-to-Day"
	default:
		return "Serious"
	}
}

// Rank orders tiers for sorting, most urgent first.
func Rank(tier model.Tier) int {
	switch tier {
	case model.TierUrgent:
		return 0
	case model.TierSerious:
		return 1
	case model.TierDayToDay:
		return 2
	default:
		return 3
	}
}

// LegacyRank orders legacy tiers, most urgent first.
func LegacyRank(tier model.LegacyTier) int {
	switch tier {
	case model.LegacyCritical:
		return 0
	case model.LegacyHigh:
		return 1
	case model.LegacyMedium:
		return 2
	case model.LegacyLow:
		return 3
	default:
		return 4
	}
}
