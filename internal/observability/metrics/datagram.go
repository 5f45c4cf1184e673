package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Transfer outcomes for DatagramMetrics.RecordTransfer.
const (
	TransferCompleted = "completed"
	TransferExpired   = "expired"
	TransferOversized = "oversized"
)

// Rejection reasons for DatagramMetrics.IncrementRejected.
const (
	RejectBusy        = "busy"
	RejectRateLimited = "rate_limited"
	RejectStrayEnd    = "stray_end"
)

// DatagramMetrics contains metrics for the UDP ingestion server.
type DatagramMetrics struct {
	DatagramsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	ReadErrors        prometheus.Counter
	Transfers         *prometheus.CounterVec
	TransferSize      prometheus.Histogram
	Rejected          *prometheus.CounterVec
	ReplyErrors       prometheus.Counter
	PendingTransfers  prometheus.Gauge
	QueueDepth        prometheus.Gauge
}

// NewDatagramMetrics creates and registers the datagram metrics.
func NewDatagramMetrics(registry *prometheus.Registry) (*DatagramMetrics, error) {
	m := &DatagramMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datagram metrics: %w", err)
	}
	return m, nil
}

func (m *DatagramMetrics) initMetrics() {
	m.DatagramsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_udp_datagrams_received_total",
		Help: "Total number of datagrams received",
	})
	m.BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_udp_bytes_received_total",
		Help: "Total number of payload bytes received",
	})
	m.ReadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_udp_read_errors_total",
		Help: "Total number of socket read errors",
	})
	m.Transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodnet_udp_transfers_total",
			Help: "Total number of chunked image transfers by outcome",
		},
		[]string{"outcome"},
	)
	m.TransferSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "foodnet_udp_transfer_size_bytes",
		Help:    "Size of reassembled image payloads",
		Buckets: prometheus.ExponentialBuckets(1024, 2, 15), // 1KB to 16MB
	})
	m.Rejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodnet_udp_rejected_total",
			Help: "Total number of datagrams or units of work rejected by reason",
		},
		[]string{"reason"},
	)
	m.ReplyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foodnet_udp_reply_errors_total",
		Help: "Total number of failed reply writes",
	})
	m.PendingTransfers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "foodnet_udp_pending_transfers",
		Help: "Number of transfers currently being reassembled",
	})
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "foodnet_udp_queue_depth",
		Help: "Number of units of work waiting for a worker",
	})
}

// RecordDatagram counts one received datagram of size bytes.
func (m *DatagramMetrics) RecordDatagram(size int) {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(size))
}

// IncrementReadErrors counts a socket read error.
func (m *DatagramMetrics) IncrementReadErrors() {
	if m == nil {
		return
	}
	m.ReadErrors.Inc()
}

// RecordTransfer counts a finished transfer with the given outcome.
func (m *DatagramMetrics) RecordTransfer(outcome string, size int) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(outcome).Inc()
	if outcome == TransferCompleted {
		m.TransferSize.Observe(float64(size))
	}
}

// IncrementRejected counts a rejection.
func (m *DatagramMetrics) IncrementRejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

// IncrementReplyErrors counts a failed reply.
func (m *DatagramMetrics) IncrementReplyErrors() {
	if m == nil {
		return
	}
	m.ReplyErrors.Inc()
}

// SetPendingTransfers sets the number of transfers in progress.
func (m *DatagramMetrics) SetPendingTransfers(n int) {
	if m == nil {
		return
	}
	m.PendingTransfers.Set(float64(n))
}

// SetQueueDepth sets the number of queued units of work.
func (m *DatagramMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *DatagramMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.DatagramsReceived.Desc()
	ch <- m.BytesReceived.Desc()
	ch <- m.ReadErrors.Desc()
	m.Transfers.Describe(ch)
	ch <- m.TransferSize.Desc()
	m.Rejected.Describe(ch)
	ch <- m.ReplyErrors.Desc()
	ch <- m.PendingTransfers.Desc()
	ch <- m.QueueDepth.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *DatagramMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.DatagramsReceived
	ch <- m.BytesReceived
	ch <- m.ReadErrors
	m.Transfers.Collect(ch)
	ch <- m.TransferSize
	m.Rejected.Collect(ch)
	ch <- m.ReplyErrors
	ch <- m.PendingTransfers
	ch <- m.QueueDepth
}
