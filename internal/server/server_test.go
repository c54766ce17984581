package server_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ogulcanaydogan/resource-sentinel/internal/server"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/alerts"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/forecast"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/tracker"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu    sync.Mutex
	texts []string
}

func (c *fakeChannel) Name() string { return "telegram" }

func (c *fakeChannel) Deliver(_ context.Context, _, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

type fixture struct {
	srv     *server.Server
	db      *storage.SQLStore
	channel *fakeChannel
}

func setupServer(t *testing.T, withTelegram bool) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "print-1", Name: "Print House", Type: "print", Campus: "Main"}))
	require.NoError(t, db.UpsertLocation(ctx, &model.Location{ID: "print-2", Name: "Annex Print Room", Type: "print", Campus: "North"}))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	samples := usage.NewStore(db)
	estimator := forecast.NewEstimator(db, db, samples, forecast.Config{}, logger)
	manager := tracker.NewAlertManager(db, logger)
	tr := tracker.NewTracker(db, manager, samples, estimator, nil, logger)

	channel := &fakeChannel{}
	registry := alerts.NewRegistry()
	require.NoError(t, registry.Register(channel))
	router := alerts.NewRouter(db, registry, alerts.NewLogDeduper(db), alerts.Config{}, logger)
	prefs := alerts.NewPreferences(db, logger)

	deps := server.Deps{
		Store:       db,
		Tracker:     tr,
		Samples:     samples,
		Estimator:   estimator,
		Router:      router,
		Preferences: prefs,
		Bot:         alerts.NewTelegramBot(prefs, channel, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("sentinel_up 1\n"))
		}),
	}
	if withTelegram {
		deps.Telegram = alerts.NewTelegramChannel("123:abc", "", "sentinel_bot")
	}
	return &fixture{srv: server.NewServer(deps, logger), db: db, channel: channel}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func (f *fixture) submit(t *testing.T, body string) model.Alert {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/alerts", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Alert](t, w)
}

func TestServer_Health(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestServer_HealthStorageDown(t *testing.T) {
	f := setupServer(t, false)
	require.NoError(t, f.db.Close())

	w := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sentinel_up")
}

func TestServer_SubmitAndGetAlert(t *testing.T) {
	f := setupServer(t, false)

	a := f.submit(t, `{"category":"EQUIPMENT_BREAKDOWN","message":"Press 2 jammed","locationId":"print-1","submittedBy":"staff-1"}`)
	assert.Equal(t, model.TierUrgent, a.Tier)
	assert.Equal(t, model.StatusPending, a.Status)

	w := f.do(t, http.MethodGet, "/api/v1/alerts/"+a.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, a.ID, decode[model.Alert](t, w).ID)
}

func TestServer_SubmitErrors(t *testing.T) {
	f := setupServer(t, false)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"category":`, http.StatusBadRequest},
		{"missing category", `{"message":"x","locationId":"print-1"}`, http.StatusBadRequest},
		{"unknown location", `{"category":"MAINTENANCE","message":"x","locationId":"nowhere"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/alerts", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestServer_GetAlertNotFound(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodGet, "/api/v1/alerts/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Lifecycle(t *testing.T) {
	f := setupServer(t, false)
	a := f.submit(t, `{"category":"MAINTENANCE","message":"Replace bulbs","locationId":"print-1"}`)

	w := f.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", `{"actor":"manager-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	acked := decode[model.Alert](t, w)
	assert.Equal(t, model.StatusAcknowledged, acked.Status)
	assert.Equal(t, "manager-1", acked.AcknowledgedBy)

	w = f.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/reopen", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusPending, decode[model.Alert](t, w).Status)

	w = f.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/resolve", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusResolved, decode[model.Alert](t, w).Status)

	w = f.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/dismiss", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/reopen", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_ListAlerts(t *testing.T) {
	f := setupServer(t, false)
	f.submit(t, `{"category":"EQUIPMENT_BREAKDOWN","message":"Press down","locationId":"print-1"}`)
	f.submit(t, `{"category":"MAINTENANCE","message":"Dust filters","locationId":"print-2"}`)

	w := f.do(t, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Alert](t, w), 2)

	w = f.do(t, http.MethodGet, "/api/v1/alerts?tier=urgent", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]model.Alert](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, model.CategoryEquipmentBreakdown, list[0].Category)

	w = f.do(t, http.MethodGet, "/api/v1/alerts?location=print-2&open=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Alert](t, w), 1)

	w = f.do(t, http.MethodGet, "/api/v1/alerts?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ListAlertsEmpty(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestServer_InventoryAndForecast(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/inventory/changes", `{"locationId":"print-1","itemName":"Toner","delta":20,"reason":"delivery"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var change struct {
		Item  model.TrackedItem `json:"item"`
		Alert model.Alert       `json:"alert"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&change))
	assert.Equal(t, int64(20), change.Item.CurrentQuantity)
	assert.Equal(t, model.CategoryInventoryChange, change.Alert.Category)
	itemID := change.Item.ID

	w = f.do(t, http.MethodGet, "/api/v1/items/"+itemID+"/forecast", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/items/"+itemID+"/samples", `{"usageRate":5}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/items/"+itemID+"/forecast", "")
	require.Equal(t, http.StatusOK, w.Code)
	fc := decode[model.DepletionForecast](t, w)
	require.NotNil(t, fc.DaysUntilDepletion)
	assert.Equal(t, int64(4), *fc.DaysUntilDepletion)
	assert.Equal(t, model.TierUrgent, fc.Tier)

	w = f.do(t, http.MethodGet, "/api/v1/items/"+itemID+"/samples", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.UsageSample](t, w), 1)

	w = f.do(t, http.MethodGet, "/api/v1/predictions", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]model.ForecastQueryResult](t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, "Toner", rows[0].ResourceName)

	w = f.do(t, http.MethodGet, "/api/v1/alerts?category=DEPLETION", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Alert](t, w), 1)
}

func TestServer_InventoryErrors(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/inventory/changes", `{"locationId":"print-1","itemName":"Toner","delta":-3}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/inventory/changes", `{"locationId":"print-1","itemName":"Toner","delta":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/items/missing/samples", `{"usageRate":1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/items/missing/samples", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/items/missing/samples", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Movement(t *testing.T) {
	f := setupServer(t, false)
	w := f.do(t, http.MethodPost, "/api/v1/inventory/changes", `{"locationId":"print-1","itemName":"Paper","delta":10}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var change struct {
		Item model.TrackedItem `json:"item"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&change))

	body := `{"itemId":"` + change.Item.ID + `","fromLocationId":"print-1","toLocationId":"print-2"}`
	w = f.do(t, http.MethodPost, "/api/v1/inventory/movements", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var moved struct {
		Item  model.TrackedItem `json:"item"`
		Alert model.Alert       `json:"alert"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&moved))
	assert.Equal(t, "print-2", moved.Item.LocationID)
	assert.Equal(t, "print-2", moved.Alert.LocationID)

	w = f.do(t, http.MethodPost, "/api/v1/inventory/movements", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Preferences(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodGet, "/api/v1/recipients/r1/preference", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[alerts.PreferenceView](t, w)
	assert.True(t, view.Enabled)
	assert.Equal(t, model.FilterUrgentOnly, view.Filter)

	w = f.do(t, http.MethodPut, "/api/v1/recipients/r1/preference", `{"filter":"all"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.FilterAll, decode[alerts.PreferenceView](t, w).Filter)

	w = f.do(t, http.MethodPut, "/api/v1/recipients/r1/preference", `{"filter":"SOMETIMES"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_MessageAndNotify(t *testing.T) {
	f := setupServer(t, false)
	require.NoError(t, f.db.SavePreference(context.Background(), &model.NotificationPreference{
		RecipientID:    "r1",
		Channel:        "telegram",
		ChannelAddress: "42",
		Enabled:        true,
		Filter:         model.FilterAll,
	}))

	w := f.do(t, http.MethodPost, "/api/v1/recipients/r1/messages", `{"title":"Note","body":"Shift starts at 9"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[model.DeliveryReport](t, w)
	assert.Equal(t, 1, report.Count(model.OutcomeDelivered))

	w = f.do(t, http.MethodPost, "/api/v1/recipients/r1/messages", `{"title":"Note"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	a := f.submit(t, `{"category":"MAINTENANCE","message":"Dust filters","locationId":"print-1"}`)
	w = f.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/notify", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[model.DeliveryReport](t, w).Count(model.OutcomeDelivered))

	w = f.do(t, http.MethodPost, "/api/v1/alerts/"+a.ID+"/notify", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[model.DeliveryReport](t, w).Count(model.OutcomeDuplicate))
	assert.Equal(t, 2, f.channel.count())

	w = f.do(t, http.MethodGet, "/api/v1/alerts/"+a.ID+"/deliveries", "")
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[[]model.DeliveryRecord](t, w)
	require.Len(t, records, 1)
	assert.Equal(t, model.OutcomeDelivered, records[0].Status)
}

func TestServer_TelegramLink(t *testing.T) {
	f := setupServer(t, true)

	w := f.do(t, http.MethodPost, "/api/v1/recipients/r1/telegram/link", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var link struct {
		Link  string `json:"link"`
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&link))
	assert.Equal(t, "https://t.me/sentinel_bot?start="+link.Token, link.Link)

	update := `{"update_id":1,"message":{"message_id":1,"chat":{"id":42},"text":"/start ` + link.Token + `"}}`
	w = f.do(t, http.MethodPost, "/api/v1/telegram/webhook", update)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/recipients/r1/preference", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[alerts.PreferenceView](t, w).Connected)
	assert.Equal(t, 1, f.channel.count())
}

func TestServer_TelegramNotConfigured(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/recipients/r1/telegram/link", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_TelegramWebhookAlwaysOK(t *testing.T) {
	f := setupServer(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/telegram/webhook", `not json`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/telegram/webhook", `{"update_id":2,"message":{"chat":{"id":7},"text":"/start expired-token"}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/telegram/webhook", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
