package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/3leaps/simstat/pkg/crawler"
)

// Source returns the most recent scan result, or nil before the first scan.
type Source interface {
	Snapshot() *crawler.JobSet
}

// jobCollector publishes per-job gauges from the latest snapshot.
type jobCollector struct {
	source    Source
	percent   *prometheus.Desc
	remaining *prometheus.Desc
	elapsed   *prometheus.Desc
	info      *prometheus.Desc // WARN: one series per job directory
}

// NewJobCollector returns a collector reading per-job values from src at
// scrape time.
func NewJobCollector(src Source) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_job_%s", namespace, name)
	}
	labels := []string{"group", "job"}

	return &jobCollector{
		source: src,
		percent: prometheus.NewDesc(
			fqName("percent"),
			"Simulated progress in percent. Absent when the target duration is unknown.",
			labels, nil,
		),
		remaining: prometheus.NewDesc(
			fqName("remaining_seconds"),
			"Extrapolated wall time left. Absent unless finite.",
			labels, nil,
		),
		elapsed: prometheus.NewDesc(
			fqName("elapsed_seconds"),
			"Wall time between the first and last progress samples.",
			labels, nil,
		),
		info: prometheus.NewDesc(
			fqName("info"),
			"Always 1; carries status and scheduler id.",
			append(labels, "status", "hpc_code"), nil,
		),
	}
}

func (c *jobCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.percent
	ch <- c.remaining
	ch <- c.elapsed
	ch <- c.info
}

// Collect implements Collector.
func (c *jobCollector) Collect(ch chan<- prometheus.Metric) {
	set := c.source.Snapshot()
	if set == nil {
		return
	}
	for _, r := range set.Records {
		if r.Percent != nil {
			ch <- prometheus.MustNewConstMetric(c.percent, prometheus.GaugeValue, *r.Percent, r.Group, r.JobName)
		}
		if r.Remaining.Finite() {
			ch <- prometheus.MustNewConstMetric(c.remaining, prometheus.GaugeValue, r.Remaining.Duration.Seconds(), r.Group, r.JobName)
		}
		ch <- prometheus.MustNewConstMetric(c.elapsed, prometheus.GaugeValue, r.Elapsed.Seconds(), r.Group, r.JobName)
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
			r.Group, r.JobName, string(r.Status), fmt.Sprintf("%d", r.HPCCode))
	}
}
