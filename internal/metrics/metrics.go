package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one yoroguard process. Every
// method is safe to call on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	EventsTotal          *prometheus.CounterVec
	EventsDroppedTotal   prometheus.Counter
	AuditsTotal          *prometheus.CounterVec
	ProcessStartsTotal   *prometheus.CounterVec
	ProcessFailuresTotal *prometheus.CounterVec
	HandlerPanicsTotal   prometheus.Counter
	NatsPublishErrors    prometheus.Counter
}

// New creates the collectors on a private registry so several instances
// can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoroguard_events_total",
			Help: "Canonical events emitted, by service and severity",
		}, []string{"service", "severity"}),
		EventsDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "yoroguard_events_dropped_total",
			Help: "Duplicate events suppressed by the recent-event buffer",
		}),
		AuditsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoroguard_audits_total",
			Help: "Audit runs, by service and resulting status",
		}, []string{"service", "status"}),
		ProcessStartsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoroguard_process_starts_total",
			Help: "Supervised process starts, by mode",
		}, []string{"mode"}),
		ProcessFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yoroguard_process_failures_total",
			Help: "Supervisor operations that failed, by operation",
		}, []string{"op"}),
		HandlerPanicsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "yoroguard_handler_panics_total",
			Help: "Output handlers that panicked and were isolated",
		}),
		NatsPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "yoroguard_nats_publish_errors_total",
			Help: "Failed NATS publishes of canonical events",
		}),
	}
}

func (m *Metrics) IncEvent(service, severity string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(service, severity).Inc()
}

func (m *Metrics) IncEventDropped() {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.Inc()
}

func (m *Metrics) IncAudit(service, status string) {
	if m == nil {
		return
	}
	m.AuditsTotal.WithLabelValues(service, status).Inc()
}

func (m *Metrics) IncProcessStart(mode string) {
	if m == nil {
		return
	}
	m.ProcessStartsTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncProcessFailure(op string) {
	if m == nil {
		return
	}
	m.ProcessFailuresTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) IncHandlerPanic() {
	if m == nil {
		return
	}
	m.HandlerPanicsTotal.Inc()
}

func (m *Metrics) IncNatsPublishError() {
	if m == nil {
		return
	}
	m.NatsPublishErrors.Inc()
}
