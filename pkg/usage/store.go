// Package usage keeps the append-only consumption history of tracked items.
package usage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
)

// ErrInvalidSample is returned for a sample with no item, or a usage rate
// that is negative, NaN or infinite.
var ErrInvalidSample = errors.New("invalid usage sample")

// Store records usage samples and reads them back newest first.
type Store struct {
	samples storage.SampleStore
	now     func() time.Time
}

// NewStore creates a sample store backed by the given storage.
func NewStore(samples storage.SampleStore) *Store {
	return &Store{samples: samples, now: time.Now}
}

// WithClock overrides the clock used for samples without a timestamp.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Append validates and persists one observation. A zero observedAt means now.
func (s *Store) Append(ctx context.Context, itemID string, usageRate float64, observedAt time.Time) (model.UsageSample, error) {
	if err := Validate(itemID, usageRate); err != nil {
		return model.UsageSample{}, err
	}
	if observedAt.IsZero() {
		observedAt = s.now()
	}

	sample := model.UsageSample{
		ItemID:     itemID,
		UsageRate:  usageRate,
		ObservedAt: observedAt.UTC(),
	}
	if err := s.samples.InsertSample(ctx, &sample); err != nil {
		return model.UsageSample{}, fmt.Errorf("append sample: %w", err)
	}
	return sample, nil
}

// Recent returns up to limit samples for the item, newest first. The
// sequence is a snapshot taken at call time; ties on observedAt come out in
// reverse insertion order.
func (s *Store) Recent(ctx context.Context, itemID string, limit int) (iter.Seq[model.UsageSample], error) {
	if limit <= 0 {
		return func(func(model.UsageSample) bool) {}, nil
	}
	samples, err := s.samples.RecentSamples(ctx, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent samples: %w", err)
	}
	return slices.Values(samples), nil
}

// Validate checks the fields Append would reject.
func Validate(itemID string, usageRate float64) error {
	if itemID == "" {
		return fmt.Errorf("empty item id: %w", ErrInvalidSample)
	}
	if math.IsNaN(usageRate) || math.IsInf(usageRate, 0) {
		return fmt.Errorf("usage rate %v is not finite: %w", usageRate, ErrInvalidSample)
	}
	if usageRate < 0 {
		return fmt.Errorf("usage rate %v is negative: %w", usageRate, ErrInvalidSample)
	}
	return nil
}
