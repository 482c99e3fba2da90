// Prometheus metrics for the sampler.  The collector is the sampler's observer; the daemon serves
// the registry.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobmonitor/rules"
	"jobmonitor/sampler"
)

type Collector struct {
	registry *prometheus.Registry

	jobsRunning      prometheus.Gauge
	jobsWithWarnings prometheus.Gauge
	nodesInUse       prometheus.Gauge
	ruleWarnings     *prometheus.CounterVec
	jobsFinished     prometheus.Counter
	persistFailures  prometheus.Counter
	snapshotSeconds  prometheus.Histogram
}

var _ = sampler.Observer((*Collector)(nil))

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobmonitor_jobs_running",
			Help: "Running jobs in the last snapshot",
		}),
		jobsWithWarnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobmonitor_jobs_with_warnings",
			Help: "Jobs with warnings in the last snapshot",
		}),
		nodesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobmonitor_nodes_in_use",
			Help: "Nodes in use in the last snapshot, if known",
		}),
		ruleWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobmonitor_rule_warnings_total",
			Help: "Warnings raised, by rule",
		}, []string{"rule"}),
		jobsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobmonitor_jobs_finished_total",
			Help: "Tracked jobs that have finished",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobmonitor_persist_failures_total",
			Help: "Snapshots whose records could not all be written",
		}),
		snapshotSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobmonitor_snapshot_seconds",
			Help:    "Time to process one snapshot",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	c.registry.MustRegister(
		c.jobsRunning,
		c.jobsWithWarnings,
		c.nodesInUse,
		c.ruleWarnings,
		c.jobsFinished,
		c.persistFailures,
		c.snapshotSeconds,
	)
	// All rules show up, even those that have not fired.
	for _, r := range rules.All() {
		c.ruleWarnings.WithLabelValues(r.Name())
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SnapshotDone(running, withWarnings, nodesInUse int, elapsed time.Duration) {
	c.jobsRunning.Set(float64(running))
	c.jobsWithWarnings.Set(float64(withWarnings))
	c.nodesInUse.Set(float64(nodesInUse))
	c.snapshotSeconds.Observe(elapsed.Seconds())
}

func (c *Collector) RuleFired(ordinal int) {
	name := "unknown"
	if r := rules.ByOrdinal(ordinal); r != nil {
		name = r.Name()
	}
	c.ruleWarnings.WithLabelValues(name).Inc()
}

func (c *Collector) JobFinished() {
	c.jobsFinished.Inc()
}

func (c *Collector) PersistFailed() {
	c.persistFailures.Inc()
}
