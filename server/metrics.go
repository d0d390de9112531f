package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry     *prometheus.Registry
	scansTotal   *prometheus.CounterVec
	scanDuration prometheus.Histogram
	uploadBytes  prometheus.Histogram
	rejectedBusy prometheus.Counter
}

func newMetrics(inFlight func() float64) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pescan",
			Subsystem: "http",
			Name:      "scans_total",
			Help:      "Scan requests by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pescan",
			Subsystem: "http",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock time spent per scan request.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pescan",
			Subsystem: "http",
			Name:      "upload_bytes",
			Help:      "Size distribution of accepted uploads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		rejectedBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pescan",
			Subsystem: "http",
			Name:      "rejected_busy_total",
			Help:      "Scan requests rejected because the worker pool was saturated.",
		}),
	}

	inFlightGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "pescan",
		Subsystem: "pipeline",
		Name:      "in_flight_scans",
		Help:      "Pipelines currently holding a worker slot.",
	}, inFlight)

	m.registry.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.uploadBytes,
		m.rejectedBusy,
		inFlightGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
