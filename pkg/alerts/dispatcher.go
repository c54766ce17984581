package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
)

// DefaultRouteTimeout bounds one detached routing pass.
const DefaultRouteTimeout = time.Minute

// Dispatcher routes alerts in the background so that intake never waits on
// or fails because of delivery.
type Dispatcher struct {
	router   *Router
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
	mu       sync.Mutex
	onReport []func(model.DeliveryReport)
}

// NewDispatcher creates a dispatcher over router. A non-positive timeout
// uses DefaultRouteTimeout.
func NewDispatcher(router *Router, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultRouteTimeout
	}
	return &Dispatcher{router: router, timeout: timeout, logger: logger}
}

// OnReport registers a callback invoked with every finished report.
func (d *Dispatcher) OnReport(fn func(model.DeliveryReport)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onReport = append(d.onReport, fn)
}

// Go routes alert to all recipients on a background goroutine. Values from
// ctx are kept but its cancellation is not.
func (d *Dispatcher) Go(ctx context.Context, alert model.Alert) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("dispatch panicked", "alert_id", alert.ID, "panic", p)
			}
		}()

		routeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		report := d.router.RouteAll(routeCtx, &alert)
		d.logger.Info("alert dispatched",
			"alert_id", alert.ID,
			"tier", alert.Tier,
			"delivered", report.Count(model.OutcomeDelivered),
			"failed", report.Count(model.OutcomeFailed),
			"filtered", report.Count(model.OutcomeFiltered),
			"skipped", report.Count(model.OutcomeSkipped),
			"duplicate", report.Count(model.OutcomeDuplicate),
		)

		d.mu.Lock()
		callbacks := append([]func(model.DeliveryReport){}, d.onReport...)
		d.mu.Unlock()
		for _, fn := range callbacks {
			fn(report)
		}
	}()
}

// Wait blocks until every dispatch started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
