// Package export writes forecast snapshots to a directory or an S3 bucket.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

// Snapshot is one exported predictions listing.
type Snapshot struct {
	GeneratedAt time.Time                   `json:"generatedAt"`
	Predictions []model.ForecastQueryResult `json:"predictions"`
}

// Sink stores an exported object and returns where it ended up.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// PredictionSource produces the predictions listing. Implemented by
// *forecast.Estimator.
type PredictionSource interface {
	Predictions(ctx context.Context) ([]model.ForecastQueryResult, error)
}

// Exporter snapshots predictions into a sink.
type Exporter struct {
	source PredictionSource
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewExporter creates an exporter.
func NewExporter(source PredictionSource, sink Sink, logger *slog.Logger) *Exporter {
	return &Exporter{source: source, sink: sink, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for the snapshot time and key.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Export writes the current predictions and returns the stored location.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	rows, err := e.source.Predictions(ctx)
	if err != nil {
		return "", fmt.Errorf("load predictions: %w", err)
	}
	if rows == nil {
		rows = []model.ForecastQueryResult{}
	}

	at := e.now().UTC()
	data, err := json.MarshalIndent(Snapshot{GeneratedAt: at, Predictions: rows}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	location, err := e.sink.Put(ctx, Key(at), data)
	if err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	e.logger.Info("forecast snapshot exported", "location", location, "items", len(rows))
	return location, nil
}

// Key names the snapshot taken at t.
func Key(t time.Time) string {
	return "forecasts/" + t.UTC().Format("20060102T150405Z") + ".json"
}
