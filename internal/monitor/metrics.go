// Package monitor exposes calibration progress as Prometheus metrics.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Step outcomes used as the outcome label
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
)

// Metrics holds the calibration collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	steps            *prometheus.CounterVec
	readingsCaptured *prometheus.CounterVec
	samplesPersisted *prometheus.CounterVec
	stepDuration     prometheus.Histogram
	wavelength       prometheus.Gauge
}

// NewMetrics creates and registers the calibration collectors together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spectess_steps_total",
			Help: "Wavelength steps by outcome",
		}, []string{"outcome"}),

		readingsCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spectess_readings_captured_total",
			Help: "Photometer readings appended to the step buffer",
		}, []string{"role"}),

		samplesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spectess_samples_persisted_total",
			Help: "Samples committed to the database",
		}, []string{"role"}),

		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spectess_step_duration_seconds",
			Help:    "Time from step start to completion",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		wavelength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spectess_wavelength_nm",
			Help: "Current monochromator wavelength",
		}),
	}

	m.registry.MustRegister(
		m.steps,
		m.readingsCaptured,
		m.samplesPersisted,
		m.stepDuration,
		m.wavelength,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// StepFinished records the outcome of a step and, for completed steps, its duration
func (m *Metrics) StepFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCompleted {
		m.stepDuration.Observe(elapsed.Seconds())
	}
}

// ReadingCaptured counts a reading appended to the buffer
func (m *Metrics) ReadingCaptured(role string) {
	if m == nil {
		return
	}
	m.readingsCaptured.WithLabelValues(role).Inc()
}

// SamplesPersisted counts committed samples
func (m *Metrics) SamplesPersisted(role string, n int) {
	if m == nil {
		return
	}
	m.samplesPersisted.WithLabelValues(role).Add(float64(n))
}

// SetWavelength sets the current wavelength gauge
func (m *Metrics) SetWavelength(wavelength int) {
	if m == nil {
		return
	}
	m.wavelength.Set(float64(wavelength))
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HealthHandler answers liveness probes
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
