package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	unknown     prometheus.Counter
	overdue     prometheus.Gauge
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

// AddTransitions counts presence status changes, labelled by target status
// (MISSING or the status a reacquired asset returns to).
func (m *Metrics) AddTransitions(to string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.transitions.WithLabelValues(to).Add(float64(count))
}

// AddUnknownDevices counts responding MACs that match no asset.
func (m *Metrics) AddUnknownDevices(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.unknown.Add(float64(count))
}

// SetOverdue records the open overdue assignment count from the last check.
func (m *Metrics) SetOverdue(count int) {
	if m == nil {
		return
	}
	m.overdue.Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amats_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amats_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "amats_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amats_presence_transitions_total",
		Help: "Asset status changes applied by the presence reconciler.",
	}, []string{"to"})
	unknown := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amats_presence_unknown_devices_total",
		Help: "Responding MAC addresses that matched no tracked asset.",
	})
	overdue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amats_assignments_overdue",
		Help: "Open assignments past their due time at the last overdue check.",
	})
	registerer.MustRegister(runs, failures, duration, transitions, unknown, overdue)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		transitions: transitions,
		unknown:     unknown,
		overdue:     overdue,
	}
}
