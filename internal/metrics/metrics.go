// Package metrics collects batch conversion metrics and exports them in the
// Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one process.
type Metrics struct {
	reg *prometheus.Registry

	FilesTotal         *prometheus.CounterVec
	ConversionDuration *prometheus.HistogramVec
	BytesTotal         *prometheus.CounterVec
	HDRFilesTotal      prometheus.Counter
	LastRunTimestamp   prometheus.Gauge
}

// New creates metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		FilesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jpegconv_files_total",
				Help: "Processed files by result and terminal stage",
			},
			[]string{"result", "stage"},
		),

		ConversionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jpegconv_conversion_duration_seconds",
				Help:    "Per-file conversion time distribution",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"result"},
		),

		BytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jpegconv_bytes_total",
				Help: "Bytes read and written",
			},
			[]string{"direction"},
		),

		HDRFilesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "jpegconv_hdr_files_total",
				Help: "Converted files that carried HDR data",
			},
		),

		LastRunTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "jpegconv_last_run_timestamp_seconds",
				Help: "Unix time of the last finished batch",
			},
		),
	}
}

// Observe records the outcome of one file.
func (m *Metrics) Observe(ok bool, stage string, hdr bool, took time.Duration, in, out int64) {
	result := "failed"
	if ok {
		result = "converted"
	}
	m.FilesTotal.WithLabelValues(result, stage).Inc()
	m.ConversionDuration.WithLabelValues(result).Observe(took.Seconds())
	m.BytesTotal.WithLabelValues("in").Add(float64(in))
	if ok {
		m.BytesTotal.WithLabelValues("out").Add(float64(out))
		if hdr {
			m.HDRFilesTotal.Inc()
		}
	}
}

// Finish marks the end of a batch.
func (m *Metrics) Finish(at time.Time) {
	m.LastRunTimestamp.Set(float64(at.Unix()))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteTextfile writes all metrics to path for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
