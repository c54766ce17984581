package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *storage.SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedItem(t *testing.T, db *storage.SQLStore, qty int64) *model.TrackedItem {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "loc-1", Name: "Print House", Type: "print", Campus: "Main"}))
	item := &model.TrackedItem{Name: "Paper Ream", LocationID: "loc-1", Quantity: 100, CurrentQuantity: qty}
	require.NoError(t, db.CreateItem(ctx, item))
	return item
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := storage.Open("mysql", "whatever")
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "nested", "sentinel.db"))
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, storage.DialectSQLite, db.Dialect())
	assert.NoError(t, db.Ping(context.Background()))
}

func TestOpen_Reopen_KeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.UpsertLocation(context.Background(), &model.Location{ID: "loc-1", Name: "Library"}))
	require.NoError(t, db.Close())

	db, err = storage.NewSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	loc, err := db.GetLocation(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "Library", loc.Name)
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM items WHERE id = ? AND location_id = ?"
	assert.Equal(t, q, storage.Rebind(storage.DialectSQLite, q))
	assert.Equal(t, "SELECT * FROM items WHERE id = $1 AND location_id = $2", storage.Rebind(storage.DialectPostgres, q))
}

func TestLocations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "b", Name: "Science Lab", Type: "lab"}))
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "a", Name: "Art Room", Type: "room"}))
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "b", Name: "Chemistry Lab", Type: "lab", Campus: "North"}))

	loc, err := db.GetLocation(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Chemistry Lab", loc.Name)
	assert.Equal(t, "North", loc.Campus)

	all, err := db.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Art Room", all[0].Name)

	_, err = db.GetLocation(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestItems_CreateGetFind(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	item := seedItem(t, db, 40)
	assert.NotEmpty(t, item.ID)

	got, err := db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.CurrentQuantity)
	assert.Nil(t, got.DaysUntilDepletion)

	found, err := db.FindItemByName(ctx, "loc-1", "Paper Ream")
	require.NoError(t, err)
	assert.Equal(t, item.ID, found.ID)

	_, err = db.FindItemByName(ctx, "loc-2", "Paper Ream")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = db.CreateItem(ctx, &model.TrackedItem{Name: "Bad", LocationID: "loc-1", CurrentQuantity: -1})
	assert.ErrorIs(t, err, storage.ErrInsufficientStock)
}

func TestAdjustQuantity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	item := seedItem(t, db, 10)

	qty, err := db.AdjustQuantity(ctx, item.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), qty)

	qty, err = db.AdjustQuantity(ctx, item.ID, -15)
	require.NoError(t, err)
	assert.Equal(t, int64(0), qty)

	_, err = db.AdjustQuantity(ctx, item.ID, -1)
	assert.ErrorIs(t, err, storage.ErrInsufficientStock)

	got, err := db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.CurrentQuantity)

	_, err = db.AdjustQuantity(ctx, "missing", 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAdjustQuantity_ConcurrentNoLostUpdates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	item := seedItem(t, db, 0)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := db.AdjustQuantity(ctx, item.ID, 2)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := db.AdjustQuantity(ctx, item.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(75), got.CurrentQuantity)
}

func TestMoveItem(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	item := seedItem(t, db, 3)
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "loc-2", Name: "Annex", Type: "print"}))

	assert.ErrorIs(t, db.MoveItem(ctx, item.ID, "loc-2", "loc-1"), storage.ErrNotFound)
	require.NoError(t, db.MoveItem(ctx, item.ID, "loc-1", "loc-2"))

	got, err := db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "loc-2", got.LocationID)
}

func TestSetDaysUntilDepletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	item := seedItem(t, db, 3)

	days := int64(12)
	require.NoError(t, db.SetDaysUntilDepletion(ctx, item.ID, &days))
	got, err := db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DaysUntilDepletion)
	assert.Equal(t, int64(12), *got.DaysUntilDepletion)

	require.NoError(t, db.SetDaysUntilDepletion(ctx, item.ID, nil))
	got, err = db.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DaysUntilDepletion)

	assert.ErrorIs(t, db.SetDaysUntilDepletion(ctx, "missing", nil), storage.ErrNotFound)
}

func TestRecentSamples_Ordering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, rate := range []float64{1, 2, 3} {
		require.NoError(t, db.InsertSample(ctx, &model.UsageSample{
			ItemID: "item-1", UsageRate: rate, ObservedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	// Same timestamp as the newest: insertion order breaks the tie.
	require.NoError(t, db.InsertSample(ctx, &model.UsageSample{ItemID: "item-1", UsageRate: 4, ObservedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, db.InsertSample(ctx, &model.UsageSample{ItemID: "item-2", UsageRate: 9, ObservedAt: base}))

	samples, err := db.RecentSamples(ctx, "item-1", 10)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	rates := []float64{samples[0].UsageRate, samples[1].UsageRate, samples[2].UsageRate, samples[3].UsageRate}
	assert.Equal(t, []float64{4, 3, 2, 1}, rates)
	assert.True(t, samples[0].ObservedAt.Equal(base.Add(2*time.Hour)))

	limited, err := db.RecentSamples(ctx, "item-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := db.RecentSamples(ctx, "item-3", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAlerts_CreateListTransition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a1 := &model.Alert{LocationID: "loc-1", Category: model.CategoryEquipmentBreakdown, Message: "Projector", Tier: model.TierUrgent}
	a2 := &model.Alert{LocationID: "loc-2", Category: model.CategoryInventoryChange, Message: "Paper: +5", Tier: model.TierDayToDay}
	require.NoError(t, db.CreateAlert(ctx, a1))
	require.NoError(t, db.CreateAlert(ctx, a2))
	assert.Equal(t, model.StatusPending, a1.Status)

	urgent, err := db.ListAlerts(ctx, model.AlertFilter{Tier: model.TierUrgent})
	require.NoError(t, err)
	require.Len(t, urgent, 1)
	assert.Equal(t, a1.ID, urgent[0].ID)

	byLoc, err := db.ListAlerts(ctx, model.AlertFilter{LocationID: "loc-2"})
	require.NoError(t, err)
	assert.Len(t, byLoc, 1)

	ok, err := db.TransitionAlert(ctx, a1.ID, model.StatusPending, storage.AlertChange{To: model.StatusAcknowledged, Actor: "alice"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale from-status loses the compare-and-set.
	ok, err = db.TransitionAlert(ctx, a1.ID, model.StatusPending, storage.AlertChange{To: model.StatusDismissed})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := db.GetAlert(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAcknowledged, got.Status)
	assert.Equal(t, "alice", got.AcknowledgedBy)
	assert.NotNil(t, got.AcknowledgedAt)
	assert.Nil(t, got.ResolvedAt)

	ok, err = db.TransitionAlert(ctx, a1.ID, model.StatusAcknowledged, storage.AlertChange{To: model.StatusResolved})
	require.NoError(t, err)
	assert.True(t, ok)

	open, err := db.ListAlerts(ctx, model.AlertFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, a2.ID, open[0].ID)

	limited, err := db.ListAlerts(ctx, model.AlertFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = db.GetAlert(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPreferences(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetPreference(ctx, "user-1", "telegram")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	expires := time.Now().Add(time.Hour)
	pref := &model.NotificationPreference{RecipientID: "user-1", Channel: "telegram", Enabled: true, LinkToken: "tok-1", LinkTokenExpires: &expires}
	require.NoError(t, db.SavePreference(ctx, pref))
	assert.Equal(t, model.FilterUrgentOnly, pref.Filter)

	byToken, err := db.FindPreferenceByLinkToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byToken.RecipientID)
	require.NotNil(t, byToken.LinkTokenExpires)

	pref.ChannelAddress = "12345"
	pref.LinkToken = ""
	pref.LinkTokenExpires = nil
	pref.Filter = model.FilterAll
	require.NoError(t, db.SavePreference(ctx, pref))
	require.NoError(t, db.SavePreference(ctx, &model.NotificationPreference{RecipientID: "user-1", Channel: "slack", Enabled: false, Filter: model.FilterAll}))
	require.NoError(t, db.SavePreference(ctx, &model.NotificationPreference{RecipientID: "user-2", Channel: "telegram", Enabled: true}))

	got, err := db.GetPreference(ctx, "user-1", "telegram")
	require.NoError(t, err)
	assert.Equal(t, "12345", got.ChannelAddress)
	assert.Equal(t, model.FilterAll, got.Filter)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LinkTokenExpires)

	_, err = db.FindPreferenceByLinkToken(ctx, "tok-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = db.FindPreferenceByLinkToken(ctx, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mine, err := db.PreferencesFor(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "slack", mine[0].Channel)
	assert.False(t, mine[0].Enabled)

	all, err := db.ListPreferences(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeliveryLog_ClaimSemantics(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ok, err := db.ClaimDelivery(ctx, "alert-1", "user-1", "telegram")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimDelivery(ctx, "alert-1", "user-1", "telegram")
	require.NoError(t, err)
	assert.False(t, ok, "pending claim must block")

	// A different channel is a different key.
	ok, err = db.ClaimDelivery(ctx, "alert-1", "user-1", "slack")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.CompleteDelivery(ctx, &model.DeliveryRecord{
		AlertID: "alert-1", RecipientID: "user-1", Channel: "telegram", Status: model.OutcomeFailed, Error: "timeout",
	}))

	ok, err = db.ClaimDelivery(ctx, "alert-1", "user-1", "telegram")
	require.NoError(t, err)
	assert.True(t, ok, "failed delivery can be retried")

	require.NoError(t, db.CompleteDelivery(ctx, &model.DeliveryRecord{
		AlertID: "alert-1", RecipientID: "user-1", Channel: "telegram", Status: model.OutcomeDelivered,
	}))

	ok, err = db.ClaimDelivery(ctx, "alert-1", "user-1", "telegram")
	require.NoError(t, err)
	assert.False(t, ok)

	records, err := db.ListDeliveries(ctx, "alert-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "slack", records[0].Channel)
	assert.Equal(t, model.DeliveryOutcome("pending"), records[0].Status)
	assert.Equal(t, model.OutcomeDelivered, records[1].Status)
	assert.Empty(t, records[1].Error)
}

func TestDeliveryLog_StalePendingReclaimed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ok, err := db.ClaimDelivery(ctx, "alert-1", "user-1", "telegram")
	require.NoError(t, err)
	require.True(t, ok)

	// Age the pending row past the bound, as if its owner died mid-delivery.
	require.NoError(t, db.CompleteDelivery(ctx, &model.DeliveryRecord{
		AlertID: "alert-1", RecipientID: "user-1", Channel: "telegram", Status: "pending",
		AttemptedAt: time.Now().Add(-2 * storage.StaleClaimAfter),
	}))

	ok, err = db.ClaimDelivery(ctx, "alert-1", "user-1", "telegram")
	require.NoError(t, err)
	assert.True(t, ok, "stale pending claim is taken over")

	ok, err = db.ClaimDelivery(ctx, "alert-1", "user-1", "telegram")
	require.NoError(t, err)
	assert.False(t, ok, "fresh pending claim still blocks")
}

func TestPostgres_RoundTrip(t *testing.T) {
	dsn := os.Getenv("SENTINEL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SENTINEL_TEST_POSTGRES_DSN not set")
	}
	db, err := storage.Open("postgres", dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	loc := &model.Location{Name: "PG Lab", Type: "lab"}
	require.NoError(t, db.UpsertLocation(ctx, loc))
	item := &model.TrackedItem{Name: "Beakers", LocationID: loc.ID, CurrentQuantity: 2}
	require.NoError(t, db.CreateItem(ctx, item))

	qty, err := db.AdjustQuantity(ctx, item.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), qty)

	_, err = db.AdjustQuantity(ctx, item.ID, -6)
	assert.ErrorIs(t, err, storage.ErrInsufficientStock)

	alert := &model.Alert{LocationID: loc.ID, Category: model.CategoryMaintenance, Tier: model.TierSerious}
	require.NoError(t, db.CreateAlert(ctx, alert))
	ok, err := db.TransitionAlert(ctx, alert.ID, model.StatusPending, storage.AlertChange{To: model.StatusResolved})
	require.NoError(t, err)
	assert.True(t, ok)
}
