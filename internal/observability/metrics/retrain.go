package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RetrainMetrics contains metrics for the retraining job queue.
type RetrainMetrics struct {
	JobsTotal   *prometheus.CounterVec
	JobDuration prometheus.Histogram
	Coalesced   prometheus.Counter
	Dropped     prometheus.Counter
	Running     prometheus.Gauge
}

// NewRetrainMetrics creates and registers the retrain metrics.
func NewRetrainMetrics(registry *prometheus.Registry) (*RetrainMetrics, error) {
	m := &RetrainMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register retrain metrics: %w", err)
	}
	return m, nil
}

func (m *RetrainMetrics) initMetrics() {
	m.JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodnet_retrain_jobs_total",
			Help: "Total number of finished retrain jobs by final status",
		},
		[]string{"status"},
	)
	m.JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "foodnet_retrain_job_duration_seconds",
		Help:    "Run time of retrain jobs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
	})
	m.Coalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_retrain_requests_coalesced_total",
		Help: "Total number of retrain requests merged into a pending job",
	})
	m.Dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_retrain_requests_dropped_total",
		Help: "Total number of retrain requests dropped because the queue was full",
	})
	m.Running = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "foodnet_retrain_running",
		Help: "Whether a retrain job is running (1) or not (0)",
	})
}

// RecordJob records a finished job.
func (m *RetrainMetrics) RecordJob(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.Observe(duration.Seconds())
}

// IncrementCoalesced counts a merged request.
func (m *RetrainMetrics) IncrementCoalesced() {
	if m == nil {
		return
	}
	m.Coalesced.Inc()
}

// IncrementDropped counts a dropped request.
func (m *RetrainMetrics) IncrementDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

// SetRunning sets the running gauge.
func (m *RetrainMetrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *RetrainMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.JobsTotal.Describe(ch)
	ch <- m.JobDuration.Desc()
	ch <- m.Coalesced.Desc()
	ch <- m.Dropped.Desc()
	ch <- m.Running.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *RetrainMetrics) Collect(ch chan<- prometheus.Metric) {
	m.JobsTotal.Collect(ch)
	ch <- m.JobDuration
	ch <- m.Coalesced
	ch <- m.Dropped
	ch <- m.Running
}
