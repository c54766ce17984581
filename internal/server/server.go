package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/alerts"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/forecast"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/tracker"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/usage"
)

const (
	requestTimeout     = 10 * time.Second
	defaultMaxBodySize = 1 << 20
	defaultSampleLimit = forecast.DefaultWindow
)

// Deps are the components the API serves. Telegram, Bot and Metrics are optional.
type Deps struct {
	Store       storage.Storage
	Tracker     *tracker.Tracker
	Samples     *usage.Store
	Estimator   *forecast.Estimator
	Router      *alerts.Router
	Preferences *alerts.Preferences
	Telegram    *alerts.TelegramChannel
	Bot         *alerts.TelegramBot
	Metrics     http.Handler
	MaxBodySize int64
}

// Server provides the JSON API, health check and metrics endpoints.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates an API server.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if deps.MaxBodySize <= 0 {
		deps.MaxBodySize = defaultMaxBodySize
	}
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}

	s.mux.HandleFunc("POST /api/v1/alerts", s.handleSubmitAlert)
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	s.mux.HandleFunc("GET /api/v1/alerts/{id}", s.handleGetAlert)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/acknowledge", s.handleAcknowledge)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.handleResolve)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/dismiss", s.handleDismiss)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/reopen", s.handleReopen)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/notify", s.handleNotify)
	s.mux.HandleFunc("GET /api/v1/alerts/{id}/deliveries", s.handleDeliveries)

	s.mux.HandleFunc("POST /api/v1/inventory/changes", s.handleInventoryChange)
	s.mux.HandleFunc("POST /api/v1/inventory/movements", s.handleMovement)

	s.mux.HandleFunc("POST /api/v1/items/{id}/samples", s.handleAddSample)
	s.mux.HandleFunc("GET /api/v1/items/{id}/samples", s.handleListSamples)
	s.mux.HandleFunc("GET /api/v1/items/{id}/forecast", s.handleForecast)
	s.mux.HandleFunc("GET /api/v1/predictions", s.handlePredictions)

	s.mux.HandleFunc("GET /api/v1/recipients/{id}/preference", s.handleGetPreference)
	s.mux.HandleFunc("PUT /api/v1/recipients/{id}/preference", s.handleSetPreference)
	s.mux.HandleFunc("POST /api/v1/recipients/{id}/messages", s.handleMessage)
	s.mux.HandleFunc("POST /api/v1/recipients/{id}/telegram/link", s.handleTelegramLink)
	s.mux.HandleFunc("POST /api/v1/telegram/webhook", s.handleTelegramWebhook)
	s.mux.HandleFunc("GET /api/v1/telegram/webhook", s.handleTelegramWebhookStatus)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitAlert(w http.ResponseWriter, r *http.Request) {
	var ev tracker.NewAlert
	if !s.decode(w, r, &ev) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := s.deps.Tracker.Submit(ctx, ev)
	if err != nil {
		s.writeError(w, "submit alert", err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.AlertFilter{
		Status:     model.AlertStatus(strings.ToUpper(q.Get("status"))),
		Tier:       model.Tier(strings.ToUpper(q.Get("tier"))),
		Category:   model.Category(strings.ToUpper(q.Get("category"))),
		LocationID: q.Get("location"),
		ItemID:     q.Get("item"),
		OpenOnly:   q.Get("open") == "true",
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid limit"))
			return
		}
		filter.Limit = limit
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	list, err := s.deps.Tracker.Alerts().List(ctx, filter)
	if err != nil {
		s.writeError(w, "list alerts", err)
		return
	}
	if list == nil {
		list = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := s.deps.Tracker.Alerts().Get(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, "get alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	s.transition(w, r, "acknowledge alert", func(ctx context.Context, m *tracker.AlertManager, id string) (*model.Alert, error) {
		return m.Acknowledge(ctx, id, req.Actor)
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "resolve alert", func(ctx context.Context, m *tracker.AlertManager, id string) (*model.Alert, error) {
		return m.Resolve(ctx, id)
	})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	s.transition(w, r, "dismiss alert", func(ctx context.Context, m *tracker.AlertManager, id string) (*model.Alert, error) {
		return m.Dismiss(ctx, id, req.Actor)
	})
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "reopen alert", func(ctx context.Context, m *tracker.AlertManager, id string) (*model.Alert, error) {
		return m.Reopen(ctx, id)
	})
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op string,
	apply func(context.Context, *tracker.AlertManager, string) (*model.Alert, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := apply(ctx, s.deps.Tracker.Alerts(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleNotify routes an existing alert again and waits for the report.
// Deliveries that already succeeded come back as duplicates.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := s.deps.Tracker.Alerts().Get(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, "notify alert", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Router.RouteAll(ctx, alert))
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id := r.PathValue("id")
	if _, err := s.deps.Tracker.Alerts().Get(ctx, id); err != nil {
		s.writeError(w, "list deliveries", err)
		return
	}
	records, err := s.deps.Store.ListDeliveries(ctx, id)
	if err != nil {
		s.writeError(w, "list deliveries", err)
		return
	}
	if records == nil {
		records = []model.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type itemAlertResponse struct {
	Item  *model.TrackedItem `json:"item"`
	Alert *model.Alert       `json:"alert,omitempty"`
}

func (s *Server) handleInventoryChange(w http.ResponseWriter, r *http.Request) {
	var ch tracker.InventoryChange
	if !s.decode(w, r, &ch) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	item, alert, err := s.deps.Tracker.ChangeInventory(ctx, ch)
	if err != nil {
		s.writeError(w, "change inventory", err)
		return
	}
	writeJSON(w, http.StatusCreated, itemAlertResponse{Item: item, Alert: alert})
}

func (s *Server) handleMovement(w http.ResponseWriter, r *http.Request) {
	var mv tracker.Movement
	if !s.decode(w, r, &mv) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	item, alert, err := s.deps.Tracker.MoveResource(ctx, mv)
	if err != nil {
		s.writeError(w, "move resource", err)
		return
	}
	writeJSON(w, http.StatusCreated, itemAlertResponse{Item: item, Alert: alert})
}

type sampleRequest struct {
	UsageRate  *float64  `json:"usageRate"`
	ObservedAt time.Time `json:"observedAt"`
}

func (s *Server) handleAddSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UsageRate == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("usageRate is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := s.deps.Tracker.RecordUsage(ctx, r.PathValue("id"), *req.UsageRate, req.ObservedAt)
	if err != nil {
		s.writeError(w, "record usage", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	limit := defaultSampleLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid limit"))
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id := r.PathValue("id")
	if _, err := s.deps.Store.GetItem(ctx, id); err != nil {
		s.writeError(w, "list samples", err)
		return
	}
	seq, err := s.deps.Samples.Recent(ctx, id, limit)
	if err != nil {
		s.writeError(w, "list samples", err)
		return
	}
	samples := slices.Collect(seq)
	if samples == nil {
		samples = []model.UsageSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	f, ok, err := s.deps.Estimator.Estimate(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, "estimate", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("insufficient usage data"))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rows, err := s.deps.Estimator.Predictions(ctx)
	if err != nil {
		s.writeError(w, "predictions", err)
		return
	}
	if rows == nil {
		rows = []model.ForecastQueryResult{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func channelParam(r *http.Request) string {
	if c := r.URL.Query().Get("channel"); c != "" {
		return c
	}
	return "telegram"
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	view, err := s.deps.Preferences.Get(ctx, r.PathValue("id"), channelParam(r))
	if err != nil {
		s.writeError(w, "get preference", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var upd alerts.PreferenceUpdate
	if !s.decode(w, r, &upd) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	view, err := s.deps.Preferences.Set(ctx, r.PathValue("id"), channelParam(r), upd)
	if err != nil {
		s.writeError(w, "set preference", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type messageRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("body is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, s.deps.Router.RouteText(ctx, r.PathValue("id"), req.Title, req.Body))
}

type linkResponse struct {
	Link      string    `json:"link"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleTelegramLink(w http.ResponseWriter, r *http.Request) {
	if s.deps.Telegram == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("telegram is not configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	token, expires, err := s.deps.Preferences.IssueLinkToken(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, "issue link token", err)
		return
	}
	writeJSON(w, http.StatusCreated, linkResponse{
		Link:      s.deps.Telegram.DeepLink(token),
		Token:     token,
		ExpiresAt: expires,
	})
}

// handleTelegramWebhook always answers 200 so Telegram does not redeliver.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update alerts.TelegramUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.deps.MaxBodySize)).Decode(&update); err != nil {
		s.logger.Warn("decode telegram update", "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if s.deps.Bot != nil {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if err := s.deps.Bot.HandleUpdate(ctx, update); err != nil {
			s.logger.Error("handle telegram update", "update_id", update.UpdateID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTelegramWebhookStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Telegram webhook active"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.deps.MaxBodySize)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return s.decode(w, r, v)
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op, "error", err)
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tracker.ErrInvalidEvent),
		errors.Is(err, usage.ErrInvalidSample),
		errors.Is(err, alerts.ErrInvalidPreference):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrInvalidTransition),
		errors.Is(err, storage.ErrInsufficientStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
