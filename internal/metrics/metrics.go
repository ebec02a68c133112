// Package metrics exposes Prometheus counters and gauges for the job
// engine: how many jobs are queued/triggered/finished, how long a
// trigger takes to settle, and how the journal is keeping up.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for one Manager.
type Collector struct {
	jobsQueued    prometheus.Counter
	jobsTriggered prometheus.Counter
	jobsDone      prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsCancelled prometheus.Counter

	triggerLatency prometheus.Histogram
	replayDuration prometheus.Gauge

	jobsPending  prometheus.Gauge
	jobsRunning  prometheus.Gauge
	journalFsync prometheus.Counter

	mu sync.Mutex
}

// NewCollector creates and registers a fresh metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		jobsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobengine_jobs_queued_total",
			Help: "Total number of suspend jobs recorded into the job table",
		}),
		jobsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobengine_jobs_triggered_total",
			Help: "Total number of jobs promoted from suspend to running trigger",
		}),
		jobsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobengine_jobs_done_total",
			Help: "Total number of jobs that finished with JobResult Done",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobengine_jobs_failed_total",
			Help: "Total number of jobs that finished with a non-Done result",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobengine_jobs_cancelled_total",
			Help: "Total number of queued jobs cancelled before running",
		}),
		triggerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobengine_trigger_latency_seconds",
			Help:    "Time from a job becoming the unit's trigger to it finishing",
			Buckets: prometheus.DefBuckets,
		}),
		replayDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobengine_replay_duration_seconds",
			Help: "Time taken to replay the journal on the last boot",
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobengine_jobs_pending",
			Help: "Current number of suspend jobs waiting in the job table",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobengine_jobs_running",
			Help: "Current number of unit slots with a running trigger",
		}),
		journalFsync: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobengine_journal_fsync_total",
			Help: "Total number of fsync calls the journal's batch writer performed",
		}),
	}

	prometheus.MustRegister(c.jobsQueued)
	prometheus.MustRegister(c.jobsTriggered)
	prometheus.MustRegister(c.jobsDone)
	prometheus.MustRegister(c.jobsFailed)
	prometheus.MustRegister(c.jobsCancelled)
	prometheus.MustRegister(c.triggerLatency)
	prometheus.MustRegister(c.replayDuration)
	prometheus.MustRegister(c.jobsPending)
	prometheus.MustRegister(c.jobsRunning)
	prometheus.MustRegister(c.journalFsync)

	return c
}

// RecordQueued records a suspend job being added to the job table.
func (c *Collector) RecordQueued() {
	c.jobsQueued.Inc()
}

// RecordTriggered records a job being promoted to a running trigger.
func (c *Collector) RecordTriggered() {
	c.jobsTriggered.Inc()
}

// RecordFinished records a job finishing, with the time it spent as the
// unit's trigger. done should be true only for JobResult Done.
func (c *Collector) RecordFinished(done bool, triggerSeconds float64) {
	if done {
		c.jobsDone.Inc()
	} else {
		c.jobsFailed.Inc()
	}
	c.triggerLatency.Observe(triggerSeconds)
}

// RecordCancelled records a queued job cancelled before it ran.
func (c *Collector) RecordCancelled() {
	c.jobsCancelled.Inc()
}

// RecordFsync records one journal batch fsync.
func (c *Collector) RecordFsync() {
	c.journalFsync.Inc()
}

// SetReplayDuration records how long the last boot's journal replay took.
func (c *Collector) SetReplayDuration(seconds float64) {
	c.replayDuration.Set(seconds)
}

// UpdateTableStats sets the current pending/running gauges from the
// live table's counts (internal/jobengine.Manager.TableCounts).
func (c *Collector) UpdateTableStats(pending, running int) {
	c.jobsPending.Set(float64(pending))
	c.jobsRunning.Set(float64(running))
}

// StartServer serves the /metrics endpoint on port until the process
// exits or the listener fails.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
