package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/triage"
	"golang.org/x/sync/errgroup"
)

// Router defaults.
const (
	DefaultWorkers         = 8
	DefaultDeliveryTimeout = 10 * time.Second

	// completeTimeout bounds recording an outcome once the routing context
	// may already be done.
	completeTimeout = 5 * time.Second
)

// Config tunes routing. Zero values fall back to the defaults.
type Config struct {
	Workers         int
	DeliveryTimeout time.Duration
	BodyLimit       int
}

// Recorder receives per-delivery outcomes. Implemented by pkg/metrics.
type Recorder interface {
	ObserveDelivery(channel string, outcome model.DeliveryOutcome)
}

// Router filters recipients by preference and dispatches notifications to
// their channels. A failure on one recipient never affects another.
type Router struct {
	prefs    storage.PreferenceRepository
	channels *Registry
	dedupe   Deduper
	cfg      Config
	recorder Recorder
	logger   *slog.Logger
}

// NewRouter creates a router. A nil deduper disables deduplication.
func NewRouter(prefs storage.PreferenceRepository, channels *Registry, dedupe Deduper, cfg Config, logger *slog.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	return &Router{
		prefs:    prefs,
		channels: channels,
		dedupe:   dedupe,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetRecorder attaches a metrics recorder.
func (r *Router) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// Channels returns the channel registry the router dispatches to.
func (r *Router) Channels() *Registry {
	return r.channels
}

// Route delivers an alert to the given recipients.
func (r *Router) Route(ctx context.Context, alert *model.Alert, recipients []string) model.DeliveryReport {
	text := Format(alert.Tier, Title(alert), alert.Message, r.cfg.BodyLimit)
	return r.route(ctx, alert.ID, alert.Tier, text, recipients)
}

// RouteAll delivers an alert to every recipient with a stored preference.
func (r *Router) RouteAll(ctx context.Context, alert *model.Alert) model.DeliveryReport {
	recipients, err := r.Recipients(ctx)
	if err != nil {
		r.logger.Error("load recipients", "alert_id", alert.ID, "error", err)
		return model.DeliveryReport{AlertID: alert.ID, Tier: alert.Tier}
	}
	return r.Route(ctx, alert, recipients)
}

// RouteText sends a direct message that carries no tier of its own. The
// tier is inferred from the body.
func (r *Router) RouteText(ctx context.Context, recipientID, title, body string) model.DeliveryReport {
	tier := triage.SniffTier(body)
	text := Format(tier, title, body, r.cfg.BodyLimit)
	return r.route(ctx, "msg-"+uuid.New().String(), tier, text, []string{recipientID})
}

// Recipients lists every recipient with at least one preference.
func (r *Router) Recipients(ctx context.Context) ([]string, error) {
	prefs, err := r.prefs.ListPreferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	seen := make(map[string]bool, len(prefs))
	var ids []string
	for _, p := range prefs {
		if !seen[p.RecipientID] {
			seen[p.RecipientID] = true
			ids = append(ids, p.RecipientID)
		}
	}
	return ids, nil
}

type dispatchJob struct {
	index   int
	channel Channel
	key     DeliveryKey
	address string
}

func (r *Router) route(ctx context.Context, id string, tier model.Tier, text string, recipients []string) model.DeliveryReport {
	report := model.DeliveryReport{AlertID: id, Tier: tier}
	var jobs []dispatchJob

	seen := make(map[string]bool, len(recipients))
	for _, recipientID := range recipients {
		if seen[recipientID] {
			continue
		}
		seen[recipientID] = true

		prefs, err := r.prefs.PreferencesFor(ctx, recipientID)
		if err != nil {
			report.Deliveries = append(report.Deliveries, model.RecipientDelivery{
				RecipientID: recipientID, Outcome: model.OutcomeFailed, Reason: err.Error(),
			})
			continue
		}
		if len(prefs) == 0 {
			report.Deliveries = append(report.Deliveries, model.RecipientDelivery{
				RecipientID: recipientID, Outcome: model.OutcomeSkipped, Reason: "no preference",
			})
			continue
		}

		for _, p := range prefs {
			d := model.RecipientDelivery{RecipientID: recipientID, Channel: p.Channel}
			filter := p.EffectiveFilter()
			switch {
			case filter == model.FilterOff:
				d.Outcome, d.Reason = model.OutcomeSkipped, "notifications off"
			case !p.Connected():
				d.Outcome, d.Reason = model.OutcomeSkipped, "channel not connected"
			case !filter.Allows(tier):
				d.Outcome, d.Reason = model.OutcomeFiltered, fmt.Sprintf("%s excluded by %s", tier, filter)
			}
			if d.Outcome == "" {
				ch, err := r.channels.Get(p.Channel)
				if err != nil {
					d.Outcome, d.Reason = model.OutcomeFailed, err.Error()
				} else {
					jobs = append(jobs, dispatchJob{
						index:   len(report.Deliveries),
						channel: ch,
						key:     DeliveryKey{AlertID: id, RecipientID: recipientID, Channel: p.Channel},
						address: p.ChannelAddress,
					})
				}
			}
			report.Deliveries = append(report.Deliveries, d)
		}
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, job := range jobs {
		g.Go(func() error {
			outcome, reason := r.dispatch(ctx, job, text)
			report.Deliveries[job.index].Outcome = outcome
			report.Deliveries[job.index].Reason = reason
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range report.Deliveries {
		if r.recorder != nil {
			r.recorder.ObserveDelivery(d.Channel, d.Outcome)
		}
	}
	return report
}

func (r *Router) dispatch(ctx context.Context, job dispatchJob, text string) (outcome model.DeliveryOutcome, reason string) {
	log := r.logger.With("alert_id", job.key.AlertID, "recipient_id", job.key.RecipientID, "channel", job.key.Channel)

	defer func() {
		if p := recover(); p != nil {
			log.Error("channel panicked", "panic", p)
			outcome, reason = model.OutcomeFailed, fmt.Sprintf("panic: %v", p)
			r.complete(ctx, job.key, outcome, reason, log)
		}
	}()

	if r.dedupe != nil {
		claimed, err := r.dedupe.Claim(ctx, job.key)
		if err != nil {
			log.Warn("dedupe claim failed", "error", err)
			return model.OutcomeFailed, err.Error()
		}
		if !claimed {
			return model.OutcomeDuplicate, "already delivered"
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.DeliveryTimeout)
	err := job.channel.Deliver(callCtx, job.address, text)
	cancel()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout: " + err.Error()
		} else {
			reason = err.Error()
		}
		log.Warn("delivery failed", "error", err)
		r.complete(ctx, job.key, model.OutcomeFailed, reason, log)
		return model.OutcomeFailed, reason
	}

	log.Debug("notification delivered")
	r.complete(ctx, job.key, model.OutcomeDelivered, "", log)
	return model.OutcomeDelivered, ""
}

func (r *Router) complete(ctx context.Context, key DeliveryKey, outcome model.DeliveryOutcome, reason string, log *slog.Logger) {
	if r.dedupe == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()
	if err := r.dedupe.Complete(ctx, key, outcome, reason); err != nil {
		log.Warn("record delivery outcome", "error", err)
	}
}
