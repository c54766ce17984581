// Package seed loads YAML fixtures of locations, items and recipients into
// a store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/usage"
	"gopkg.in/yaml.v3"
)

// Fixture is the top-level seed document.
type Fixture struct {
	Locations  []model.Location `yaml:"locations"`
	Items      []Item           `yaml:"items"`
	Recipients []Recipient      `yaml:"recipients"`
}

// Item is a tracked item with an optional usage history, one rate per day
// ending today.
type Item struct {
	Name            string    `yaml:"name"`
	Location        string    `yaml:"location"`
	Quantity        int64     `yaml:"quantity"`
	CurrentQuantity *int64    `yaml:"current_quantity"`
	Usage           []float64 `yaml:"usage"`
}

// Recipient is a notification preference.
type Recipient struct {
	ID      string           `yaml:"id"`
	Channel string           `yaml:"channel"`
	Address string           `yaml:"address"`
	Filter  model.TierFilter `yaml:"filter"`
	Enabled *bool            `yaml:"enabled"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Locations  int `json:"locations"`
	Items      int `json:"items"`
	Samples    int `json:"samples"`
	Recipients int `json:"recipients"`
}

// Load reads and validates a YAML fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates YAML fixture data.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed data: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references and required fields.
func (f *Fixture) Validate() error {
	locations := make(map[string]bool, len(f.Locations))
	for i, l := range f.Locations {
		if l.ID == "" || l.Name == "" {
			return fmt.Errorf("location %d: missing id or name", i)
		}
		locations[l.ID] = true
	}
	for i, it := range f.Items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("item %d: missing name", i)
		}
		if !locations[it.Location] {
			return fmt.Errorf("item %s: unknown location %q", it.Name, it.Location)
		}
		if it.Quantity < 0 || (it.CurrentQuantity != nil && *it.CurrentQuantity < 0) {
			return fmt.Errorf("item %s: negative quantity", it.Name)
		}
		for _, r := range it.Usage {
			if err := usage.Validate(it.Name, r); err != nil {
				return fmt.Errorf("item %s: %w", it.Name, err)
			}
		}
	}
	for i, r := range f.Recipients {
		if r.ID == "" || r.Channel == "" {
			return fmt.Errorf("recipient %d: missing id or channel", i)
		}
		if r.Filter != "" && !r.Filter.Valid() {
			return fmt.Errorf("recipient %s: unknown filter %q", r.ID, r.Filter)
		}
	}
	return nil
}

// Apply writes the fixture. Locations and recipients are upserted; items
// that already exist by name in their location are left untouched, so
// applying the same fixture twice does not duplicate usage history.
func (f *Fixture) Apply(ctx context.Context, store storage.Storage, samples *usage.Store, logger *slog.Logger) (Summary, error) {
	var sum Summary

	for i := range f.Locations {
		if err := store.UpsertLocation(ctx, &f.Locations[i]); err != nil {
			return sum, err
		}
		sum.Locations++
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, it := range f.Items {
		_, err := store.FindItemByName(ctx, it.Location, it.Name)
		if err == nil {
			logger.Debug("seed item exists", "name", it.Name, "location_id", it.Location)
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return sum, err
		}

		current := it.Quantity
		if it.CurrentQuantity != nil {
			current = *it.CurrentQuantity
		}
		item := &model.TrackedItem{
			Name:            it.Name,
			LocationID:      it.Location,
			Quantity:        it.Quantity,
			CurrentQuantity: current,
		}
		if err := store.CreateItem(ctx, item); err != nil {
			return sum, err
		}
		sum.Items++

		for day, rate := range it.Usage {
			at := today.AddDate(0, 0, day-len(it.Usage)+1)
			if _, err := samples.Append(ctx, item.ID, rate, at); err != nil {
				return sum, err
			}
			sum.Samples++
		}
	}

	for _, r := range f.Recipients {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		filter := r.Filter
		if filter == model.FilterOff {
			enabled = false
			filter = model.FilterUrgentOnly
		}
		pref := &model.NotificationPreference{
			RecipientID:    r.ID,
			Channel:        r.Channel,
			ChannelAddress: r.Address,
			Enabled:        enabled,
			Filter:         filter,
		}
		if err := store.SavePreference(ctx, pref); err != nil {
			return sum, err
		}
		sum.Recipients++
	}

	logger.Info("seed applied",
		"locations", sum.Locations,
		"items", sum.Items,
		"samples", sum.Samples,
		"recipients", sum.Recipients,
	)
	return sum, nil
}
