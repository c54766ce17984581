package tracker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/forecast"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/tracker"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (n *recordingNotifier) Go(_ context.Context, alert model.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) categories() []model.Category {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Category
	for _, a := range n.alerts {
		out = append(out, a.Category)
	}
	return out
}

type intakeFixture struct {
	db       *storage.SQLStore
	tracker  *tracker.Tracker
	notifier *recordingNotifier
}

func newIntake(t *testing.T) *intakeFixture {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "print-1", Name: "Print House", Type: "print", Campus: "Main"}))
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "print-2", Name: "Annex Print Room", Type: "print", Campus: "North"}))
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "lib-1", Name: "Library", Type: "library", Campus: "Main"}))

	logger := testLogger()
	samples := usage.NewStore(db)
	estimator := forecast.NewEstimator(db, db, samples, forecast.Config{}, logger)
	notifier := &recordingNotifier{}
	tr := tracker.NewTracker(db, tracker.NewAlertManager(db, logger), samples, estimator, notifier, logger)
	return &intakeFixture{db: db, tracker: tr, notifier: notifier}
}

func TestSubmit(t *testing.T) {
	f := newIntake(t)
	a, err := f.tracker.Submit(context.Background(), tracker.NewAlert{
		Category:    model.CategoryFacilityIssue,
		Message:     "Leaking roof",
		LocationID:  "lib-1",
		SubmittedBy: "staff-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TierSerious, a.Tier)
	assert.Equal(t, []model.Category{model.CategoryFacilityIssue}, f.notifier.categories())
}

func TestSubmit_UnknownLocation(t *testing.T) {
	f := newIntake(t)
	_, err := f.tracker.Submit(context.Background(), tracker.NewAlert{
		Category:   model.CategoryMaintenance,
		LocationID: "nowhere",
	})
	assert.ErrorIs(t, err, tracker.ErrInvalidEvent)
	assert.Empty(t, f.notifier.categories())
}

func TestSubmit_WithoutNotifier(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.UpsertLocation(context.Background(), &model.Location{ID: "lib-1", Name: "Library"}))
	logger := testLogger()
	samples := usage.NewStore(db)
	tr := tracker.NewTracker(db, tracker.NewAlertManager(db, logger), samples,
		forecast.NewEstimator(db, db, samples, forecast.Config{}, logger), nil, logger)

	_, err := tr.Submit(context.Background(), tracker.NewAlert{Category: model.CategoryMaintenance, LocationID: "lib-1"})
	assert.NoError(t, err)
}

func TestChangeInventory_CreatesByName(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()

	item, alert, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{
		LocationID: "print-1",
		ItemName:   "Toner",
		Delta:      12,
		Reason:     "delivery",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), item.CurrentQuantity)
	assert.Equal(t, int64(12), item.Quantity)
	assert.Equal(t, "Toner: +12 (delivery)", alert.Message)
	assert.Equal(t, model.TierDayToDay, alert.Tier)

	again, alert, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{
		LocationID: "print-1",
		ItemName:   "Toner",
		Delta:      -5,
	})
	require.NoError(t, err)
	assert.Equal(t, item.ID, again.ID)
	assert.Equal(t, int64(7), again.CurrentQuantity)
	assert.Equal(t, "Toner: -5", alert.Message)
	assert.Len(t, f.notifier.categories(), 2)
}

func TestChangeInventory_RejectsNegativeStock(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()

	_, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Toner", Delta: -1})
	assert.ErrorIs(t, err, tracker.ErrInsufficientStock)

	item, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Toner", Delta: 3})
	require.NoError(t, err)
	_, _, err = f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemID: item.ID, Delta: -4})
	assert.ErrorIs(t, err, tracker.ErrInsufficientStock)

	got, err := f.db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.CurrentQuantity)
	assert.Len(t, f.notifier.categories(), 1)
}

func TestChangeInventory_Invalid(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()

	_, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Toner"})
	assert.ErrorIs(t, err, tracker.ErrInvalidEvent)
	_, _, err = f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", Delta: 1})
	assert.ErrorIs(t, err, tracker.ErrInvalidEvent)
	_, _, err = f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "nowhere", ItemName: "Toner", Delta: 1})
	assert.ErrorIs(t, err, tracker.ErrInvalidEvent)
}

func TestMoveResource(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()
	item, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Stapler", Delta: 2})
	require.NoError(t, err)

	moved, alert, err := f.tracker.MoveResource(ctx, tracker.Movement{
		ItemID:         item.ID,
		FromLocationID: "print-1",
		ToLocationID:   "print-2",
		SubmittedBy:    "staff-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "print-2", moved.LocationID)
	assert.Equal(t, "print-2", alert.LocationID)
	assert.Equal(t, model.CategoryResourceMovement, alert.Category)
	assert.Equal(t, "Stapler moved from Main - Print House to North - Annex Print Room", alert.Message)

	got, err := f.db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "print-2", got.LocationID)
}

func TestMoveResource_Rejections(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()
	item, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Stapler", Delta: 2})
	require.NoError(t, err)

	cases := []tracker.Movement{
		{ItemID: item.ID, FromLocationID: "print-1", ToLocationID: "lib-1"},
		{ItemID: item.ID, FromLocationID: "print-1", ToLocationID: "print-1"},
		{ItemID: item.ID, FromLocationID: "print-2", ToLocationID: "print-1"},
		{ItemID: item.ID, FromLocationID: "print-1", ToLocationID: "nowhere"},
		{FromLocationID: "print-1", ToLocationID: "print-2"},
	}
	for _, mv := range cases {
		_, _, err := f.tracker.MoveResource(ctx, mv)
		assert.ErrorIs(t, err, tracker.ErrInvalidEvent, "%+v", mv)
	}
}

func TestRecordUsage_RaisesSingleDepletionAlert(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()
	item, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Paper", Delta: 20})
	require.NoError(t, err)

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	res, err := f.tracker.RecordUsage(ctx, item.ID, 5, base)
	require.NoError(t, err)
	require.NotNil(t, res.Forecast)
	assert.Equal(t, int64(4), *res.Forecast.DaysUntilDepletion)
	assert.Equal(t, model.TierUrgent, res.Forecast.Tier)
	require.NotNil(t, res.Alert)
	assert.Equal(t, model.CategoryDepletion, res.Alert.Category)
	assert.Equal(t, model.TierUrgent, res.Alert.Tier)

	res, err = f.tracker.RecordUsage(ctx, item.ID, 5, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Nil(t, res.Alert)

	cached, err := f.db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, cached.DaysUntilDepletion)
	assert.Equal(t, int64(4), *cached.DaysUntilDepletion)
}

func TestRecordUsage_ConcurrentSamplesRaiseOneAlert(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()
	item, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Paper", Delta: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tracker.RecordUsage(ctx, item.ID, 5, time.Time{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	open, err := f.tracker.Alerts().List(ctx, model.AlertFilter{ItemID: item.ID, Category: model.CategoryDepletion})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRecordUsage_ReraisesAfterResolve(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()
	item, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Paper", Delta: 10})
	require.NoError(t, err)

	now := time.Now()
	first, err := f.tracker.RecordUsage(ctx, item.ID, 4, now)
	require.NoError(t, err)
	require.NotNil(t, first.Alert)
	_, err = f.tracker.Alerts().Resolve(ctx, first.Alert.ID)
	require.NoError(t, err)

	second, err := f.tracker.RecordUsage(ctx, item.ID, 4, now.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, second.Alert)
	assert.NotEqual(t, first.Alert.ID, second.Alert.ID)
}

func TestRecordUsage_NoAlertWhenStockIsHealthy(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()
	item, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Pens", Delta: 500})
	require.NoError(t, err)

	res, err := f.tracker.RecordUsage(ctx, item.ID, 2, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.TierDayToDay, res.Forecast.Tier)
	assert.Nil(t, res.Alert)
	assert.Equal(t, []model.Category{model.CategoryInventoryChange}, f.notifier.categories())
}

func TestRecordUsage_Invalid(t *testing.T) {
	f := newIntake(t)
	ctx := context.Background()

	_, err := f.tracker.RecordUsage(ctx, "missing", 1, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	item, _, err := f.tracker.ChangeInventory(ctx, tracker.InventoryChange{LocationID: "print-1", ItemName: "Pens", Delta: 5})
	require.NoError(t, err)
	_, err = f.tracker.RecordUsage(ctx, item.ID, -1, time.Now())
	assert.ErrorIs(t, err, usage.ErrInvalidSample)
}
