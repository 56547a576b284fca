package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleettag"

// Metrics groups the collectors shared by the tagger and the history service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	updates         *prometheus.CounterVec
	failures        *prometheus.CounterVec
	unreachable     *prometheus.CounterVec
	files           *prometheus.CounterVec
	missingIDs      prometheus.Counter
	events          *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_request_duration_seconds",
			Help:      "Latency of engine query requests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind", "result"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_updates_total",
			Help:      "Successful tag updates per engine.",
		}, []string{"engine"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_update_failures_total",
			Help:      "Rejected tag updates per engine.",
		}, []string{"engine"}),
		unreachable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_unreachable_total",
			Help:      "Engine branches aborted by transport errors or bad responses.",
		}, []string{"engine", "phase"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Tag files processed by final status.",
		}, []string{"status"}),
		missingIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_object_ids_total",
			Help:      "Object ids that could not be tagged on any engine.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_events_total",
			Help:      "Events consumed by the history service.",
		}, []string{"subject", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration,
		m.updates,
		m.failures,
		m.unreachable,
		m.files,
		m.missingIDs,
		m.events,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one engine request. kind is clear, select or update.
func (m *Metrics) ObserveRequest(kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.requestDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

// AddUpdates records successful and failed updates for engine.
func (m *Metrics) AddUpdates(engine string, success, failed int) {
	if m == nil {
		return
	}
	if success > 0 {
		m.updates.WithLabelValues(engine).Add(float64(success))
	}
	if failed > 0 {
		m.failures.WithLabelValues(engine).Add(float64(failed))
	}
}

// EngineUnreachable records an aborted engine branch during phase.
func (m *Metrics) EngineUnreachable(engine, phase string) {
	if m == nil {
		return
	}
	m.unreachable.WithLabelValues(engine, phase).Inc()
}

// FileFinished records the disposition of a tag file.
func (m *Metrics) FileFinished(success bool, missing int) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	m.files.WithLabelValues(status).Inc()
	if missing > 0 {
		m.missingIDs.Add(float64(missing))
	}
}

// EventConsumed records an event handled by a subscriber.
func (m *Metrics) EventConsumed(subject string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(subject, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WriteTextfile writes the registry to path for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return errors.New("nil metrics")
	}
	if path == "" {
		return errors.New("textfile path is required")
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
