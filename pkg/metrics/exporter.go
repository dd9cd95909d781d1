// Package metrics exports render run observations as Prometheus collectors
package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/types"
)

// ExporterOptions controls collector configuration
type ExporterOptions struct {
	Namespace       string
	DurationBuckets []float64
}

// Exporter adapts the supervisor's RunMetrics interface to Prometheus
// collectors
type Exporter struct {
	frameDurationSeconds *prom.HistogramVec
	framesTotal          *prom.CounterVec
	retriesTotal         prom.Counter
	workerFailuresTotal  prom.Counter
	framesInFlight       prom.Gauge
}

var _ interfaces.RunMetrics = (*Exporter)(nil)

// NewExporter creates and registers Prometheus collectors for a render run
func NewExporter(reg prom.Registerer, opts ExporterOptions) (*Exporter, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "framesmith"
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_duration_seconds",
		Help:      "Frame render duration in seconds.",
		Buckets:   buckets,
	}, []string{"status"})
	framesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Total number of finalized frames by terminal status.",
	}, []string{"status"})
	retries := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Total number of transient retries.",
	})
	workerFailures := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "worker_failures_total",
		Help:      "Total number of worker-fatal failures counted against the circuit breaker.",
	})
	inFlight := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "frames_in_flight",
		Help:      "Number of frames currently submitted and not yet finalized.",
	})

	for _, c := range []prom.Collector{durationVec, framesVec, retries, workerFailures, inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return &Exporter{
		frameDurationSeconds: durationVec,
		framesTotal:          framesVec,
		retriesTotal:         retries,
		workerFailuresTotal:  workerFailures,
		framesInFlight:       inFlight,
	}, nil
}

// ObserveFrame records one finalized frame
func (e *Exporter) ObserveFrame(status types.FrameStatus, duration time.Duration) {
	e.framesTotal.WithLabelValues(string(status)).Inc()
	if duration > 0 {
		e.frameDurationSeconds.WithLabelValues(string(status)).Observe(duration.Seconds())
	}
}

// ObserveRetry records one transient retry
func (e *Exporter) ObserveRetry() {
	e.retriesTotal.Inc()
}

// ObserveWorkerFailure records one worker-fatal failure
func (e *Exporter) ObserveWorkerFailure() {
	e.workerFailuresTotal.Inc()
}

// SetInFlight updates the in-flight gauge
func (e *Exporter) SetInFlight(n int) {
	e.framesInFlight.Set(float64(n))
}
