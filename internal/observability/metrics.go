package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/timer"
)

const namespace = "sla_engine"

// Metrics holds the service's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	transitions *prometheus.CounterVec
	violations  *prometheus.CounterVec
	escalations *prometheus.CounterVec

	jobRetries  *prometheus.CounterVec
	jobFailures *prometheus.CounterVec

	sweepDuration prometheus.Histogram
	sweepTimers   *prometheus.CounterVec
}

// NewMetrics registers every collector. activeTimers, when set, is exported as a gauge.
func NewMetrics(activeTimers func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP errors by error code.",
		}, []string{"route", "method", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_transitions_total",
			Help:      "Timer transitions by metric and event type.",
		}, []string{"metric", "type"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Violation records by metric and severity.",
		}, []string{"metric", "severity"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation commands issued by metric and action.",
		}, []string{"metric", "action"}),
		jobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "retries_total",
			Help:      "Background job retries by job kind.",
		}, []string{"kind"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "failures_total",
			Help:      "Background jobs that exhausted their retries by job kind.",
		}, []string{"kind"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of periodic timer sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		sweepTimers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "timers_total",
			Help:      "Timers touched by sweeps by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.errors,
		m.transitions, m.violations, m.escalations,
		m.jobRetries, m.jobFailures,
		m.sweepDuration, m.sweepTimers,
	)
	if activeTimers != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_timers",
			Help:      "Non-terminal timers held in memory.",
		}, func() float64 { return float64(activeTimers()) }))
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterHandlers counts engine outputs published on the dispatcher.
func (m *Metrics) RegisterHandlers(dispatcher events.Dispatcher) {
	if m == nil || dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTimerTransitioned, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.TimerTransitionedPayload); ok {
			m.transitions.WithLabelValues(string(p.Event.Metric), string(p.Event.Type)).Inc()
		}
		return nil
	})
	dispatcher.Subscribe(events.EventViolationRecorded, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.ViolationRecordedPayload); ok {
			m.violations.WithLabelValues(string(p.Violation.Metric), string(p.Violation.Severity)).Inc()
		}
		return nil
	})
	dispatcher.Subscribe(events.EventEscalationIssued, func(_ context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.EscalationIssuedPayload); ok {
			m.escalations.WithLabelValues(string(p.Command.Metric), p.Command.ActionName).Inc()
		}
		return nil
	})
}

// RecordRequest counts one HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError counts an error response.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordJobRetry counts a retried background job.
func (m *Metrics) RecordJobRetry(kind string) {
	if m == nil {
		return
	}
	m.jobRetries.WithLabelValues(kind).Inc()
}

// RecordJobFailure counts a background job that gave up.
func (m *Metrics) RecordJobFailure(kind string) {
	if m == nil {
		return
	}
	m.jobFailures.WithLabelValues(kind).Inc()
}

// ObserveSweep records one completed sweep.
func (m *Metrics) ObserveSweep(stats timer.SweepStats, took time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
	m.sweepTimers.WithLabelValues("scanned").Add(float64(stats.Scanned))
	m.sweepTimers.WithLabelValues("violated").Add(float64(stats.Violated))
	m.sweepTimers.WithLabelValues("escalated").Add(float64(stats.Escalated))
	m.sweepTimers.WithLabelValues("failed").Add(float64(stats.Failed))
	m.sweepTimers.WithLabelValues("evicted").Add(float64(stats.Evicted))
}
