package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Feed           FeedConfig           `mapstructure:"feed"`
	Consumer       ConsumerConfig       `mapstructure:"consumer"`
	Sink           SinkConfig           `mapstructure:"sink"`
	Dashboard      DashboardConfig      `mapstructure:"dashboard"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"` // "kafka" (segmentio/kafka-go) or "franz" (franz-go)
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	GroupID     string   `mapstructure:"group_id"`
	DLQTopic    string   `mapstructure:"dlq_topic"`
	StartOffset string   `mapstructure:"start_offset"` // "earliest" or "latest"
	Compression string   `mapstructure:"compression"`
	BatchBytes  int      `mapstructure:"batch_bytes"`
	// BatchTimeout bounds batching on the kafka-go writer. Publishes are
	// synchronous and flush one message at a time, so it does not add latency.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type FeedConfig struct {
	URL               string        `mapstructure:"url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	MaxInFlight       int           `mapstructure:"max_in_flight"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
	Filter            string        `mapstructure:"filter"`
	Reconnect         BackoffConfig `mapstructure:"reconnect"`
	PublishRetry      RetryConfig   `mapstructure:"publish_retry"`
}

type ConsumerConfig struct {
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	RecordInterval time.Duration `mapstructure:"record_interval"`
	SinkRetry      RetryConfig   `mapstructure:"sink_retry"`
}

type BackoffConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type SinkConfig struct {
	Type     string         `mapstructure:"type"` // csv, postgres, mongodb, redis
	CSV      CSVConfig      `mapstructure:"csv"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type CSVConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	DBName        string `mapstructure:"dbname"`
	SSLMode       string `mapstructure:"sslmode"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

type DashboardConfig struct {
	RefreshInterval time.Duration   `mapstructure:"refresh_interval"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

// Load reads configFile when given; an empty path means defaults plus environment.
func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
