package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_connection_state",
			Help: "Feed bridge connection state (0=disconnected, 1=connecting, 2=connected, 3=draining) (state code)",
		},
	)

	FeedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_reconnects_total",
			Help: "Total number of upstream connection attempts after a disconnect (count)",
		},
	)

	FeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_total",
			Help: "Total number of events read from the upstream feed (count)",
		},
		[]string{"status"},
	)

	FeedPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_publish_total",
			Help: "Total number of publish outcomes for feed events (count)",
		},
		[]string{"status"},
	)

	FeedInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_in_flight",
			Help: "Events queued for publishing but not yet confirmed (count)",
		},
	)

	ConsumerRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_records_total",
			Help: "Total number of broker messages handled by the sink consumer (count)",
		},
		[]string{"status"},
	)

	ConsumerStalledPartitions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "consumer_stalled_partitions",
			Help: "Partitions halted after exhausting sink retries (count)",
		},
	)

	ConsumerCommittedOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consumer_committed_offset",
			Help: "Last offset committed per partition (offset)",
		},
		[]string{"topic", "partition"},
	)

	SinkAppendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sink_append_duration_ms",
			Help:    "Duration of durable sink appends in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"sink", "status"},
	)

	SinkReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sink_read_duration_ms",
			Help:    "Duration of full sink reads in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"sink"},
	)

	DashboardEventsPlotted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboard_events_plotted",
			Help: "Events in the most recent dashboard view (count)",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "operation"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)
)

var (
	bridgeOnce    sync.Once
	consumerOnce  sync.Once
	dashboardOnce sync.Once
	brokerOnce    sync.Once
	breakerOnce   sync.Once
	retryOnce     sync.Once
)

func RegisterBridgeMetrics() {
	bridgeOnce.Do(func() {
		prometheus.MustRegister(FeedConnectionState)
		prometheus.MustRegister(FeedReconnectsTotal)
		prometheus.MustRegister(FeedEventsTotal)
		prometheus.MustRegister(FeedPublishTotal)
		prometheus.MustRegister(FeedInFlight)
		registerRetryMetrics()
	})
}

func RegisterConsumerMetrics() {
	consumerOnce.Do(func() {
		prometheus.MustRegister(ConsumerRecordsTotal)
		prometheus.MustRegister(ConsumerStalledPartitions)
		prometheus.MustRegister(ConsumerCommittedOffset)
		prometheus.MustRegister(SinkAppendDuration)
		prometheus.MustRegister(DLQMessagesTotal)
		registerRetryMetrics()
	})
}

// RetryAttemptsTotal is shared by the bridge and the consumer.
func registerRetryMetrics() {
	retryOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
	})
}

func RegisterDashboardMetrics() {
	dashboardOnce.Do(func() {
		prometheus.MustRegister(SinkReadDuration)
		prometheus.MustRegister(DashboardEventsPlotted)
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaMessageSizeBytes)
		prometheus.MustRegister(KafkaWriteDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	breakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func SetFeedConnectionState(code int) {
	FeedConnectionState.Set(float64(code))
}

func IncFeedEvent(status string) {
	FeedEventsTotal.WithLabelValues(status).Inc()
}

func IncFeedPublish(status string) {
	FeedPublishTotal.WithLabelValues(status).Inc()
}

func IncConsumerRecord(status string) {
	ConsumerRecordsTotal.WithLabelValues(status).Inc()
}

func SetCommittedOffset(topic string, partition int, offset int64) {
	ConsumerCommittedOffset.WithLabelValues(topic, strconv.Itoa(partition)).Set(float64(offset))
}

func ObserveSinkAppend(sink, status string, duration time.Duration) {
	SinkAppendDuration.WithLabelValues(sink, status).Observe(float64(duration.Milliseconds()))
}

func ObserveSinkRead(sink string, duration time.Duration) {
	SinkReadDuration.WithLabelValues(sink).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}
