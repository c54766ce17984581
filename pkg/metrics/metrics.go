// Package metrics exposes Prometheus counters for alerts, deliveries and
// forecasts.
package metrics

import (
	"net/http"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/alerts"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/forecast"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

var (
	_ alerts.Recorder           = (*Metrics)(nil)
	_ forecast.Recorder         = (*Metrics)(nil)
	_ tracker.LifecycleRecorder = (*Metrics)(nil)
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	AlertsCreated *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Deliveries    *prometheus.CounterVec
	Forecasts     *prometheus.CounterVec
	RouteReports  *prometheus.HistogramVec
}

// New creates and registers all collectors. Go runtime and process
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts created, by category and urgency tier.",
		}, []string{"category", "tier"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Applied alert status transitions.",
		}, []string{"from", "to"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery outcomes, by channel.",
		}, []string{"channel", "outcome"}),
		Forecasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_total",
			Help:      "Depletion forecasts computed, by tier.",
		}, []string{"tier"}),
		RouteReports: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_recipients",
			Help:      "Recipients considered per routed alert.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}, []string{"tier"}),
	}

	m.registry.MustRegister(m.AlertsCreated, m.Transitions, m.Deliveries, m.Forecasts, m.RouteReports)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAlertCreated(category model.Category, tier model.Tier) {
	m.AlertsCreated.WithLabelValues(string(category), string(tier)).Inc()
}

func (m *Metrics) ObserveTransition(from, to model.AlertStatus) {
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ObserveDelivery(channel string, outcome model.DeliveryOutcome) {
	if channel == "" {
		channel = "none"
	}
	m.Deliveries.WithLabelValues(channel, string(outcome)).Inc()
}

func (m *Metrics) ObserveForecast(tier model.Tier) {
	m.Forecasts.WithLabelValues(string(tier)).Inc()
}

// ObserveReport records the size of a routing report. It matches the
// dispatcher's OnReport callback.
func (m *Metrics) ObserveReport(report model.DeliveryReport) {
	m.RouteReports.WithLabelValues(string(report.Tier)).Observe(float64(len(report.Deliveries)))
}
