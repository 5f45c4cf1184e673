package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains metrics for image and correction handling.
type PipelineMetrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestErrors       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	InferenceDuration   prometheus.Histogram
	PredictionsPerImage prometheus.Histogram
	RecordsCreated      prometheus.Counter
	CorrectionsApplied  prometheus.Counter
	CorrectionsFailed   prometheus.Counter
	ActiveRequestsGauge prometheus.Gauge
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodnet_requests_total",
			Help: "Total number of handled requests by kind and status",
		},
		[]string{"kind", "status"},
	)
	m.RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodnet_request_errors_total",
			Help: "Total number of failed requests by kind and error category",
		},
		[]string{"kind", "error_type"},
	)
	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foodnet_request_duration_seconds",
			Help:    "Time taken to handle a request",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"kind"},
	)
	m.InferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "foodnet_inference_duration_seconds",
		Help:    "Time taken for model inference including preprocessing",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.PredictionsPerImage = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "foodnet_predictions_per_image",
		Help:    "Number of predictions returned per image",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
	})
	m.RecordsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_records_created_total",
		Help: "Total number of image records created",
	})
	m.CorrectionsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_corrections_applied_total",
		Help: "Total number of correction items applied",
	})
	m.CorrectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_corrections_failed_total",
		Help: "Total number of correction items that failed",
	})
	m.ActiveRequestsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "foodnet_active_requests",
		Help: "Number of requests currently being handled",
	})
}

// RecordRequest records the outcome of one request.
func (m *PipelineMetrics) RecordRequest(kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RequestsTotal.WithLabelValues(kind, StatusError).Inc()
		m.RequestErrors.WithLabelValues(kind, errorType(err)).Inc()
	} else {
		m.RequestsTotal.WithLabelValues(kind, StatusSuccess).Inc()
	}
	m.RequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordInference records one inference call and its prediction count.
func (m *PipelineMetrics) RecordInference(duration time.Duration, predictions int) {
	if m == nil {
		return
	}
	m.InferenceDuration.Observe(duration.Seconds())
	m.PredictionsPerImage.Observe(float64(predictions))
}

// IncrementRecordsCreated counts a new image record.
func (m *PipelineMetrics) IncrementRecordsCreated() {
	if m == nil {
		return
	}
	m.RecordsCreated.Inc()
}

// RecordCorrections adds the item counts of one correction batch.
func (m *PipelineMetrics) RecordCorrections(applied, failed int) {
	if m == nil {
		return
	}
	m.CorrectionsApplied.Add(float64(applied))
	m.CorrectionsFailed.Add(float64(failed))
}

// TrackActive increments the active request gauge and returns a func that
// decrements it.
func (m *PipelineMetrics) TrackActive() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveRequestsGauge.Inc()
	return m.ActiveRequestsGauge.Dec
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RequestsTotal.Describe(ch)
	m.RequestErrors.Describe(ch)
	m.RequestDuration.Describe(ch)
	ch <- m.InferenceDuration.Desc()
	ch <- m.PredictionsPerImage.Desc()
	ch <- m.RecordsCreated.Desc()
	ch <- m.CorrectionsApplied.Desc()
	ch <- m.CorrectionsFailed.Desc()
	ch <- m.ActiveRequestsGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RequestsTotal.Collect(ch)
	m.RequestErrors.Collect(ch)
	m.RequestDuration.Collect(ch)
	ch <- m.InferenceDuration
	ch <- m.PredictionsPerImage
	ch <- m.RecordsCreated
	ch <- m.CorrectionsApplied
	ch <- m.CorrectionsFailed
	ch <- m.ActiveRequestsGauge
}
