// Package jobmetrics instruments background and batch jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
	pending  *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveItem counts one processed receipt item by outcome and branch.
func (m *Metrics) ObserveItem(outcome, branch string) {
	if m == nil || outcome == "" {
		return
	}
	m.items.WithLabelValues(outcome, branchLabel(branch)).Inc()
}

// SetPending records the number of sources still waiting for a voucher.
func (m *Metrics) SetPending(branch string, count int) {
	if m == nil || count < 0 {
		return
	}
	m.pending.WithLabelValues(branchLabel(branch)).Set(float64(count))
}

func branchLabel(branch string) string {
	if branch == "" {
		return "all"
	}
	return branch
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_receipt_batch_items_total",
		Help: "Receipt batch items processed, by outcome and branch.",
	}, []string{"outcome", "branch"})
	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_receipt_pending_sources",
		Help: "Source transactions without a receipt voucher at the start of the last run.",
	}, []string{"branch"})
	registerer.MustRegister(runs, failures, duration, items, pending)
	return &Metrics{runs: runs, failures: failures, duration: duration, items: items, pending: pending}
}
