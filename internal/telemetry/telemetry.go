// Package telemetry records connection lifecycle metrics.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels used for concluded connections.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
)

// Collector captures telemetry events emitted by the client.
//
// Hooks run inline with connection bookkeeping and notification delivery,
// so implementations must be inexpensive.
type Collector interface {
	ConnectionStarted()
	ConnectionConcluded(outcome string, elapsed time.Duration)
	ProgressDelivered()
	ProgressCoalesced()
	HandlerPanicked(kind string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ConnectionStarted()                        {}
func (noopCollector) ConnectionConcluded(string, time.Duration) {}
func (noopCollector) ProgressDelivered()                        {}
func (noopCollector) ProgressCoalesced()                        {}
func (noopCollector) HandlerPanicked(string)                    {}

// PrometheusCollector exposes connection metrics via Prometheus.
type PrometheusCollector struct {
	started   prometheus.Counter
	concluded *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	progress  *prometheus.CounterVec
	panics    *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg, reusing collectors
// that are already registered under the same name.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	started, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conncall_connections_started_total",
		Help: "Number of connections started.",
	}))
	if err != nil {
		return nil, err
	}
	concluded, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conncall_connections_concluded_total",
		Help: "Number of connections that delivered their terminal notification, by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conncall_connection_duration_seconds",
		Help:    "Time from start to conclusion, by outcome.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	inFlight, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conncall_connections_in_flight",
		Help: "Connections started but not yet concluded.",
	}))
	if err != nil {
		return nil, err
	}
	progress, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conncall_progress_notifications_total",
		Help: "Progress notifications by result (delivered or coalesced).",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	panics, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conncall_handler_panics_total",
		Help: "Recovered panics raised by notification handlers.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		started:   started,
		concluded: concluded,
		duration:  duration,
		inFlight:  inFlight,
		progress:  progress,
		panics:    panics,
	}, nil
}

// register adds c to reg, returning the existing collector when one with the
// same descriptor is already present.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// ConnectionStarted counts a started connection.
func (p *PrometheusCollector) ConnectionStarted() {
	if p == nil {
		return
	}
	p.started.Inc()
	p.inFlight.Inc()
}

// ConnectionConcluded records the terminal outcome of a connection.
func (p *PrometheusCollector) ConnectionConcluded(outcome string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.inFlight.Dec()
	p.concluded.WithLabelValues(outcome).Inc()
	p.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ProgressDelivered counts a progress notification handed to a handler.
func (p *PrometheusCollector) ProgressDelivered() {
	if p == nil {
		return
	}
	p.progress.WithLabelValues("delivered").Inc()
}

// ProgressCoalesced counts a progress notification merged into a pending one.
func (p *PrometheusCollector) ProgressCoalesced() {
	if p == nil {
		return
	}
	p.progress.WithLabelValues("coalesced").Inc()
}

// HandlerPanicked counts a recovered handler panic.
func (p *PrometheusCollector) HandlerPanicked(kind string) {
	if p == nil {
		return
	}
	p.panics.WithLabelValues(kind).Inc()
}
