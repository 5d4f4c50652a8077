package config

import (
	"fmt"
	"net/url"
	"strings"

	"seismo/internal/constants"
	"seismo/pkg/cel"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateFeed(cfg.Feed); err != nil {
		errors = append(errors, err)
	}

	if err := validateConsumer(cfg.Consumer); err != nil {
		errors = append(errors, err)
	}

	if err := validateSink(cfg.Sink); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case constants.BrokerTypeKafka, constants.BrokerTypeFranz:
		return validateKafka(cfg.Kafka)
	case "":
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, franz)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.Topic == "" {
		return &ValidationError{
			Field:   "broker.kafka.topic",
			Message: "Kafka topic is required",
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.DLQTopic != "" && cfg.DLQTopic == cfg.Topic {
		return &ValidationError{
			Field:   "broker.kafka.dlq_topic",
			Message: "dead letter topic must differ from the event topic",
		}
	}

	switch strings.ToLower(cfg.StartOffset) {
	case "earliest", "latest":
	default:
		return &ValidationError{
			Field:   "broker.kafka.start_offset",
			Message: fmt.Sprintf("invalid start offset: %s (valid: earliest, latest)", cfg.StartOffset),
		}
	}

	switch strings.ToLower(cfg.Compression) {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return &ValidationError{
			Field:   "broker.kafka.compression",
			Message: fmt.Sprintf("invalid compression: %s (valid: none, gzip, snappy, lz4, zstd)", cfg.Compression),
		}
	}

	if cfg.BatchBytes < 0 {
		return &ValidationError{
			Field:   "broker.kafka.batch_bytes",
			Message: "batch_bytes must be non-negative",
		}
	}

	return nil
}

func validateFeed(cfg FeedConfig) error {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return &ValidationError{
			Field:   "feed.url",
			Message: fmt.Sprintf("feed URL must be a ws:// or wss:// URL, got %q", cfg.URL),
		}
	}

	if cfg.HeartbeatInterval <= 0 {
		return &ValidationError{
			Field:   "feed.heartbeat_interval",
			Message: "heartbeat interval must be positive",
		}
	}

	if cfg.IdleTimeout < cfg.HeartbeatInterval {
		return &ValidationError{
			Field:   "feed.idle_timeout",
			Message: "idle timeout must be at least the heartbeat interval",
		}
	}

	if cfg.MaxInFlight <= 0 {
		return &ValidationError{
			Field:   "feed.max_in_flight",
			Message: "max_in_flight must be positive",
		}
	}

	if cfg.Reconnect.InitialInterval <= 0 || cfg.Reconnect.MaxInterval < cfg.Reconnect.InitialInterval {
		return &ValidationError{
			Field:   "feed.reconnect",
			Message: "reconnect intervals must be positive and max_interval >= initial_interval",
		}
	}

	if cfg.Filter != "" {
		if err := validateFilter(cfg.Filter); err != nil {
			return err
		}
	}

	return validateRetry("feed.publish_retry", cfg.PublishRetry)
}

func validateFilter(expression string) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return err
	}
	if err := evaluator.ValidateFilterExpression(expression); err != nil {
		return &ValidationError{
			Field:   "feed.filter",
			Message: err.Error(),
		}
	}
	return nil
}

func validateConsumer(cfg ConsumerConfig) error {
	if cfg.PollTimeout <= 0 {
		return &ValidationError{
			Field:   "consumer.poll_timeout",
			Message: "poll timeout must be positive",
		}
	}

	if cfg.RecordInterval < 0 {
		return &ValidationError{
			Field:   "consumer.record_interval",
			Message: "record interval must be non-negative",
		}
	}

	return validateRetry("consumer.sink_retry", cfg.SinkRetry)
}

func validateRetry(prefix string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   prefix + ".max_attempts",
			Message: "max_attempts must be at least 1",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   prefix + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   prefix + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   prefix + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateSink(cfg SinkConfig) error {
	switch cfg.Type {
	case constants.SinkTypeCSV:
		if cfg.CSV.Path == "" {
			return &ValidationError{
				Field:   "sink.csv.path",
				Message: "CSV path is required",
			}
		}
		return nil
	case constants.SinkTypePostgres:
		return validatePostgres(cfg.Postgres)
	case constants.SinkTypeMongoDB:
		return validateMongoDB(cfg.MongoDB)
	case constants.SinkTypeRedis:
		return validateRedis(cfg.Redis)
	default:
		return &ValidationError{
			Field:   "sink.type",
			Message: fmt.Sprintf("unknown sink type: %s (supported: csv, postgres, mongodb, redis)", cfg.Type),
		}
	}
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "sink.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "sink.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "sink.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "sink.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "sink.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "sink.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "sink.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.Stream == "" {
		return &ValidationError{
			Field:   "sink.redis.stream",
			Message: "Redis stream name is required",
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "sink.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "sink.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "sink.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}
