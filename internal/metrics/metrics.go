// Package metrics exposes Prometheus counters for ensure operations,
// preset activations and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/eventbus"
	"github.com/dokzlo13/lightctl/internal/preset"
)

const namespace = "lightctl"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	attempts      prometheus.Histogram
	duration      prometheus.Histogram
	failedDevices prometheus.Counter
	presets       *prometheus.CounterVec
	droppedEvents *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Finished ensure_state operations by result code and caller.",
		}, []string{"result", "source"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_attempts",
			Help:      "Dispatch cycles used per operation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time per operation.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		failedDevices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_devices_total",
			Help:      "Devices left unverified when an operation gave up.",
		}),
		presets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preset_activations_total",
			Help:      "Preset activations by outcome.",
		}, []string{"result"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events dropped because the bus queue was full or closing.",
		}, []string{"event_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.attempts,
		m.duration,
		m.failedDevices,
		m.presets,
		m.droppedEvents,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(rec ensure.OperationRecord) {
	res := rec.Result
	m.operations.WithLabelValues(string(res.Code), sourceKind(rec.Source)).Inc()
	if res.Attempts > 0 {
		m.attempts.Observe(float64(res.Attempts))
	}
	m.duration.Observe(res.Elapsed.Seconds())
	m.failedDevices.Add(float64(len(res.FailedDeviceIDs)))
}

// ObservePreset records one preset activation.
func (m *Metrics) ObservePreset(a preset.Activation) {
	m.presets.WithLabelValues(string(a.Result.Code)).Inc()
}

// ObserveDrop counts an event the bus could not deliver.
func (m *Metrics) ObserveDrop(t eventbus.EventType) {
	m.droppedEvents.WithLabelValues(string(t)).Inc()
}

// Subscribe wires the bus into the collectors. Call before the first Publish.
func (m *Metrics) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeOperationCompleted, eventbus.OperationHandler(m.ObserveOperation))
	bus.Subscribe(eventbus.EventTypePresetActivated, func(e eventbus.Event) {
		if a, ok := e.Data.(preset.Activation); ok {
			m.ObservePreset(a)
		}
	})
	bus.OnDrop(m.ObserveDrop)
}

// Middleware counts requests under a fixed route label.
func (m *Metrics) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// sourceKind keeps label cardinality bounded: "preset:<id>" becomes "preset".
func sourceKind(source string) string {
	if source == "" {
		return "unknown"
	}
	kind, _, _ := strings.Cut(source, ":")
	return kind
}
