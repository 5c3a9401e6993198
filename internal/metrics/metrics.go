// Package metrics records per-run signing metrics and writes them in the
// node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunMetrics provides methods to record signing metrics for one run.
// A nil *RunMetrics records nothing.
type RunMetrics struct {
	registry *prometheus.Registry

	filesSigned        prometheus.Counter
	filesFailed        *prometheus.CounterVec
	signDuration       prometheus.Histogram
	resolutionDuration *prometheus.HistogramVec
	runInfo            *prometheus.GaugeVec
}

// NewRunMetrics creates metrics on a fresh registry so that repeated runs in
// one process never collide.
func NewRunMetrics() *RunMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &RunMetrics{
		registry: reg,
		filesSigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "dsign_files_signed_total",
			Help: "Total number of files signed successfully",
		}),
		filesFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsign_files_failed_total",
				Help: "Total number of files that failed to sign",
			},
			[]string{"kind"},
		),
		signDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsign_sign_duration_seconds",
			Help:    "Duration of individual signing operations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		resolutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dsign_credential_resolution_seconds",
				Help:    "Duration of credential resolution in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"strategy"},
		),
		runInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dsign_run_info",
				Help: "Identifies the run that produced these metrics (always 1)",
			},
			[]string{"run_id"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *RunMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRun labels the metrics with the run ID.
func (m *RunMetrics) RecordRun(runID string) {
	if m == nil {
		return
	}
	m.runInfo.WithLabelValues(runID).Set(1)
}

// RecordSigned records a successful signing.
func (m *RunMetrics) RecordSigned(d time.Duration) {
	if m == nil {
		return
	}
	m.filesSigned.Inc()
	m.signDuration.Observe(d.Seconds())
}

// RecordFailed records a failed signing by failure kind.
func (m *RunMetrics) RecordFailed(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.filesFailed.WithLabelValues(kind).Inc()
	m.signDuration.Observe(d.Seconds())
}

// RecordResolution records how long credential resolution took.
func (m *RunMetrics) RecordResolution(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolutionDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// WriteTextfile writes all metrics to path atomically.
func (m *RunMetrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
