// Package metrics exposes scan results as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3leaps/simstat/pkg/crawler"
)

const (
	namespace = "simstat"

	// Labels
	resultLabel   = "result"
	statusLabel   = "status"
	severityLabel = "severity"
	stageLabel    = "stage"

	resultOK       = "ok"
	resultFailed   = "failed"
	resultCanceled = "canceled"
)

var scansTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "number of scans by result",
	},
	[]string{resultLabel},
)

var scanDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "wall time of a scan",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	},
)

var lastScanMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_scan_timestamp_seconds",
		Help:      "unix time the last scan finished",
	},
)

var jobsMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs",
		Help:      "number of jobs in each status at the last scan",
	},
	[]string{statusLabel},
)

var diagnosticsMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "diagnostics",
		Help:      "number of diagnostics by severity and stage at the last scan",
	},
	[]string{severityLabel, stageLabel},
)

// ObserveScan records the outcome of one scan. set may be nil when the
// scan failed before producing results.
func ObserveScan(set *crawler.JobSet, err error) {
	result := resultOK
	switch {
	case set == nil:
		result = resultFailed
	case err != nil:
		result = resultCanceled
	}
	scansTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
	if set == nil {
		return
	}

	scanDurationMetric.Observe(set.Summary.Duration.Seconds())
	lastScanMetric.Set(float64(time.Now().Unix()))

	jobsMetric.Reset()
	for status, n := range set.Summary.ByStatus {
		jobsMetric.With(prometheus.Labels{statusLabel: string(status)}).Set(float64(n))
	}

	diagnosticsMetric.Reset()
	for _, d := range set.Diagnostics {
		diagnosticsMetric.With(prometheus.Labels{severityLabel: d.Severity, stageLabel: d.Stage}).Inc()
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(scansTotalMetric)
	prometheus.MustRegister(scanDurationMetric)
	prometheus.MustRegister(lastScanMetric)
	prometheus.MustRegister(jobsMetric)
	prometheus.MustRegister(diagnosticsMetric)
}
