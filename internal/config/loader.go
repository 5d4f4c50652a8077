package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"seismo/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	SetDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigType("yaml")
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SetDefaults registers the documented default of every key. Environment
// lookups only resolve for keys viper knows about, so every key is listed.
func SetDefaults() {
	viper.SetDefault("server.port", constants.DefaultServerPort)
	viper.SetDefault("server.read_timeout_seconds", 10*time.Second)
	viper.SetDefault("server.write_timeout_seconds", 10*time.Second)

	viper.SetDefault("broker.type", constants.BrokerTypeKafka)
	viper.SetDefault("broker.kafka.brokers", []string{constants.DefaultKafkaBroker})
	viper.SetDefault("broker.kafka.topic", constants.DefaultTopic)
	viper.SetDefault("broker.kafka.group_id", constants.DefaultGroupID)
	viper.SetDefault("broker.kafka.dlq_topic", "")
	viper.SetDefault("broker.kafka.start_offset", constants.DefaultStartOffset)
	viper.SetDefault("broker.kafka.compression", constants.DefaultCompression)
	viper.SetDefault("broker.kafka.batch_bytes", constants.DefaultBatchBytes)
	viper.SetDefault("broker.kafka.batch_timeout", constants.KafkaBatchTimeout)
	viper.SetDefault("broker.kafka.write_timeout", constants.KafkaWriteTimeout)

	viper.SetDefault("feed.url", constants.DefaultFeedURL)
	viper.SetDefault("feed.heartbeat_interval", constants.DefaultHeartbeatInterval)
	viper.SetDefault("feed.idle_timeout", 0)
	viper.SetDefault("feed.handshake_timeout", constants.DefaultHandshakeTimeout)
	viper.SetDefault("feed.max_in_flight", constants.DefaultMaxInFlight)
	viper.SetDefault("feed.drain_timeout", constants.DefaultDrainTimeout)
	viper.SetDefault("feed.filter", "")
	viper.SetDefault("feed.reconnect.initial_interval", time.Second)
	viper.SetDefault("feed.reconnect.max_interval", time.Minute)
	viper.SetDefault("feed.reconnect.multiplier", 2.0)
	viper.SetDefault("feed.publish_retry.max_attempts", 5)
	viper.SetDefault("feed.publish_retry.initial_interval", 200*time.Millisecond)
	viper.SetDefault("feed.publish_retry.max_interval", 5*time.Second)
	viper.SetDefault("feed.publish_retry.multiplier", 2.0)
	viper.SetDefault("feed.publish_retry.max_elapsed_time", 0)

	viper.SetDefault("consumer.poll_timeout", constants.DefaultPollTimeout)
	viper.SetDefault("consumer.record_interval", 0)
	viper.SetDefault("consumer.sink_retry.max_attempts", constants.DefaultSinkMaxAttempts)
	viper.SetDefault("consumer.sink_retry.initial_interval", 500*time.Millisecond)
	viper.SetDefault("consumer.sink_retry.max_interval", 10*time.Second)
	viper.SetDefault("consumer.sink_retry.multiplier", 2.0)
	viper.SetDefault("consumer.sink_retry.max_elapsed_time", 0)

	viper.SetDefault("sink.type", constants.SinkTypeCSV)
	viper.SetDefault("sink.csv.path", constants.DefaultCSVPath)
	viper.SetDefault("sink.postgres.host", "")
	viper.SetDefault("sink.postgres.port", 5432)
	viper.SetDefault("sink.postgres.user", "")
	viper.SetDefault("sink.postgres.password", "")
	viper.SetDefault("sink.postgres.dbname", "")
	viper.SetDefault("sink.postgres.sslmode", "disable")
	viper.SetDefault("sink.postgres.run_migrations", true)
	viper.SetDefault("sink.mongodb.uri", "")
	viper.SetDefault("sink.mongodb.database", constants.DefaultMongoDBName)
	viper.SetDefault("sink.mongodb.collection", constants.DefaultSinkCollection)
	viper.SetDefault("sink.redis.host", "")
	viper.SetDefault("sink.redis.port", 6379)
	viper.SetDefault("sink.redis.password", "")
	viper.SetDefault("sink.redis.db", 0)
	viper.SetDefault("sink.redis.stream", constants.DefaultSinkCollection)

	viper.SetDefault("dashboard.refresh_interval", constants.DefaultRefreshInterval)
	viper.SetDefault("dashboard.rate_limit.enabled", true)
	viper.SetDefault("dashboard.rate_limit.rps", 10.0)
	viper.SetDefault("dashboard.rate_limit.burst", 20)
	viper.SetDefault("dashboard.rate_limit.cleanup_interval", 300)
	viper.SetDefault("dashboard.rate_limit.max_age", 600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("circuit_breaker.enabled", false)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", time.Minute)
	viper.SetDefault("circuit_breaker.timeout", 30*time.Second)
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 3)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", "")
	viper.SetDefault("tracing.otlp.endpoint", "localhost:4317")
	viper.SetDefault("tracing.otlp.insecure", true)
	viper.SetDefault("tracing.sampler.type", "always_on")
	viper.SetDefault("tracing.sampler.param", 1.0)
}

// bindEnvVariables adds the short names used by the compose files next to
// the derived SECTION_KEY names.
func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS", "KAFKA_BROKER")
	viper.BindEnv("broker.kafka.topic", "BROKER_KAFKA_TOPIC", "KAFKA_TOPIC")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID", "KAFKA_CONSUMER_GROUP")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("feed.url", "FEED_URL", "WEBSOCKET_URI")
	viper.BindEnv("feed.heartbeat_interval", "FEED_HEARTBEAT_INTERVAL")

	viper.BindEnv("sink.type", "SINK_TYPE")
	viper.BindEnv("sink.csv.path", "SINK_CSV_PATH", "CSV_FILE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
}

func applyEnvOverrides(cfg *Config) error {
	for _, name := range []string{"BROKER_KAFKA_BROKERS", "KAFKA_BROKER"} {
		brokersEnv := viper.GetString(name)
		if brokersEnv == "" {
			continue
		}
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
		break
	}

	if cfg.Feed.IdleTimeout == 0 {
		cfg.Feed.IdleTimeout = 2 * cfg.Feed.HeartbeatInterval
	}

	return nil
}
