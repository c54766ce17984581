package forecast

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/triage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/usage"
)

// Config tunes the estimator. Zero values fall back to the defaults.
type Config struct {
	Window               int
	ConfidenceSaturation int
}

// Recorder receives forecast observations. Implemented by pkg/metrics.
type Recorder interface {
	ObserveForecast(tier model.Tier)
}

// Estimator computes depletion forecasts for stored items.
type Estimator struct {
	items      storage.ItemStore
	locations  storage.LocationStore
	samples    *usage.Store
	window     int
	saturation int
	recorder   Recorder
	logger     *slog.Logger
}

// NewEstimator creates an estimator over the given stores.
func NewEstimator(items storage.ItemStore, locations storage.LocationStore, samples *usage.Store, cfg Config, logger *slog.Logger) *Estimator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.ConfidenceSaturation <= 0 {
		cfg.ConfidenceSaturation = DefaultConfidenceSaturation
	}
	return &Estimator{
		items:      items,
		locations:  locations,
		samples:    samples,
		window:     cfg.Window,
		saturation: cfg.ConfidenceSaturation,
		logger:     logger,
	}
}

// SetRecorder attaches a metrics recorder.
func (e *Estimator) SetRecorder(r Recorder) {
	e.recorder = r
}

// Estimate recomputes the forecast for one item. It reports false when the
// item has no usage samples; the error is reserved for storage failures and
// unknown items.
func (e *Estimator) Estimate(ctx context.Context, itemID string) (model.DepletionForecast, bool, error) {
	item, err := e.items.GetItem(ctx, itemID)
	if err != nil {
		return model.DepletionForecast{}, false, fmt.Errorf("estimate %s: %w", itemID, err)
	}
	return e.estimateItem(ctx, item)
}

func (e *Estimator) estimateItem(ctx context.Context, item *model.TrackedItem) (model.DepletionForecast, bool, error) {
	seq, err := e.samples.Recent(ctx, item.ID, e.window)
	if err != nil {
		return model.DepletionForecast{}, false, fmt.Errorf("estimate %s: %w", item.ID, err)
	}
	f, ok := compute(item.CurrentQuantity, seq, e.saturation)
	if ok && e.recorder != nil {
		e.recorder.ObserveForecast(f.Tier)
	}
	return f, ok, nil
}

// Predictions returns one row per item, most urgent first. Items without
// samples fall back to their cached days until depletion, or LOW when
// nothing is cached.
func (e *Estimator) Predictions(ctx context.Context) ([]model.ForecastQueryResult, error) {
	items, err := e.items.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	locations, err := e.locationNames(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]model.ForecastQueryResult, 0, len(items))
	for i := range items {
		item := &items[i]
		row := model.ForecastQueryResult{
			ResourceID:      item.ID,
			ResourceName:    item.Name,
			CurrentQuantity: item.CurrentQuantity,
			Location:        locations[item.LocationID],
		}

		f, ok, err := e.estimateItem(ctx, item)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			row.DaysUntilDepletion = f.DaysUntilDepletion
			row.LegacyTier = f.LegacyTier
			row.Confidence = f.Confidence
		case item.DaysUntilDepletion != nil:
			days := *item.DaysUntilDepletion
			row.DaysUntilDepletion = &days
			row.LegacyTier = triage.LegacyTierForDays(days)
		default:
			row.LegacyTier = model.LegacyLow
		}
		row.Tier = triage.NormalizeLegacyTier(string(row.LegacyTier))
		results = append(results, row)
	}

	SortByUrgency(results)
	return results, nil
}

// Refresh writes recomputed days until depletion into the cached field of
// every item that has samples. It returns how many items were updated.
func (e *Estimator) Refresh(ctx context.Context) (int, error) {
	items, err := e.items.ListItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("list items: %w", err)
	}

	updated := 0
	for i := range items {
		f, ok, err := e.estimateItem(ctx, &items[i])
		if err != nil {
			return updated, err
		}
		if !ok {
			continue
		}
		if err := e.items.SetDaysUntilDepletion(ctx, items[i].ID, f.DaysUntilDepletion); err != nil {
			return updated, fmt.Errorf("refresh %s: %w", items[i].ID, err)
		}
		updated++
	}

	e.logger.Info("depletion forecasts refreshed", "items", len(items), "updated", updated)
	return updated, nil
}

func (e *Estimator) locationNames(ctx context.Context) (map[string]string, error) {
	locs, err := e.locations.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	names := make(map[string]string, len(locs))
	for _, l := range locs {
		names[l.ID] = l.DisplayName()
	}
	return names, nil
}

// SortByUrgency orders rows by tier, then legacy tier, then days ascending
// with unknown days last, then by name.
func SortByUrgency(rows []model.ForecastQueryResult) {
	slices.SortStableFunc(rows, func(a, b model.ForecastQueryResult) int {
		if c := cmp.Compare(triage.Rank(a.Tier), triage.Rank(b.Tier)); c != 0 {
			return c
		}
		if c := cmp.Compare(triage.LegacyRank(a.LegacyTier), triage.LegacyRank(b.LegacyTier)); c != 0 {
			return c
		}
		switch {
		case a.DaysUntilDepletion == nil && b.DaysUntilDepletion != nil:
			return 1
		case a.DaysUntilDepletion != nil && b.DaysUntilDepletion == nil:
			return -1
		case a.DaysUntilDepletion != nil && b.DaysUntilDepletion != nil:
			if c := cmp.Compare(*a.DaysUntilDepletion, *b.DaysUntilDepletion); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ResourceName, b.ResourceName)
	})
}
