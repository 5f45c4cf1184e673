package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains all Prometheus metrics related to the MQTT relay.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MessagesDelivered prometheus.Counter
	Errors            *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	LastConnectTime   prometheus.Gauge
	MessageSize       prometheus.Histogram
	PublishLatency    prometheus.Histogram
	ForwardLatency    prometheus.Histogram
}

// NewMQTTMetrics creates and registers the MQTT relay metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})
	m.MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_messages_received_total",
			Help: "Total number of MQTT messages received by topic",
		},
		[]string{"topic"},
	)
	m.MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_delivered_total",
		Help: "Total number of MQTT messages successfully delivered",
	})
	m.Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_errors_total",
			Help: "Total number of MQTT relay errors by category",
		},
		[]string{"error_type"},
	)
	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnect_attempts_total",
		Help: "Total number of MQTT reconnection attempts",
	})
	m.LastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_last_connect_time_seconds",
		Help: "Timestamp of the last successful MQTT connection",
	})
	m.MessageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_message_size_bytes",
		Help:    "Size of MQTT messages in bytes",
		Buckets: prometheus.ExponentialBuckets(64, 2, 18),
	})
	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})
	m.ForwardLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_forward_latency_seconds",
		Help:    "Round trip time of a relayed datagram request",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
}

// UpdateConnectionStatus updates the connection status and last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.SetToCurrentTime()
	} else {
		m.ConnectionStatus.Set(0)
	}
}

// RecordReceived counts an inbound message.
func (m *MQTTMetrics) RecordReceived(topic string, size int) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(topic).Inc()
	m.MessageSize.Observe(float64(size))
}

// RecordPublish records a publish attempt.
func (m *MQTTMetrics) RecordPublish(latency time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Errors.WithLabelValues(errorType(err)).Inc()
		return
	}
	m.MessagesDelivered.Inc()
	m.PublishLatency.Observe(latency.Seconds())
}

// RecordForward records one relayed datagram exchange.
func (m *MQTTMetrics) RecordForward(latency time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Errors.WithLabelValues(errorType(err)).Inc()
		return
	}
	m.ForwardLatency.Observe(latency.Seconds())
}

// IncrementReconnectAttempts counts a reconnection attempt.
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	m.MessagesReceived.Describe(ch)
	ch <- m.MessagesDelivered.Desc()
	m.Errors.Describe(ch)
	ch <- m.ReconnectAttempts.Desc()
	ch <- m.LastConnectTime.Desc()
	ch <- m.MessageSize.Desc()
	ch <- m.PublishLatency.Desc()
	ch <- m.ForwardLatency.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	m.MessagesReceived.Collect(ch)
	ch <- m.MessagesDelivered
	m.Errors.Collect(ch)
	ch <- m.ReconnectAttempts
	ch <- m.LastConnectTime
	ch <- m.MessageSize
	ch <- m.PublishLatency
	ch <- m.ForwardLatency
}
