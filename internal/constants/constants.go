package constants

import "time"

const (
	ServiceFeedBridge   = "feed-bridge"
	ServiceSinkConsumer = "sink-consumer"
	ServiceDashboard    = "dashboard"
)

const (
	BrokerTypeKafka = "kafka"
	BrokerTypeFranz = "franz"
)

const (
	DefaultKafkaBroker   = "localhost:19092"
	DefaultTopic         = "eu_seismic"
	DefaultGroupID       = "seismic_reader"
	DefaultStartOffset   = "earliest"
	DefaultCompression   = "gzip"
	DefaultBatchBytes    = 16384
	KafkaBatchTimeout    = 100 * time.Millisecond
	KafkaWriteTimeout    = 10 * time.Second
	HeaderIngestID       = "x-ingest-id"
	HeaderKeySource      = "x-key-source"
	HeaderDLQReason      = "x-dlq-reason"
	HeaderDLQSourceTopic = "x-dlq-source-topic"
)

const (
	DefaultFeedURL           = "wss://www.seismicportal.eu/standing_order/websocket"
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultMaxInFlight       = 256
	DefaultDrainTimeout      = 10 * time.Second
)

const (
	DefaultPollTimeout     = 5 * time.Second
	DefaultSinkMaxAttempts = 3
)

const (
	SinkTypeCSV      = "csv"
	SinkTypePostgres = "postgres"
	SinkTypeMongoDB  = "mongodb"
	SinkTypeRedis    = "redis"
)

const (
	DefaultCSVPath        = "seismic.csv"
	DefaultSinkCollection = "seismic_events"
	DefaultMongoDBName    = "seismo"
)

const (
	DefaultServerPort      = 8080
	DefaultRefreshInterval = 5 * time.Second
	ShutdownTimeout        = 5 * time.Second
)
