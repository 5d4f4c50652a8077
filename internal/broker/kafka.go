package broker

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/logger"
	"seismo/pkg/errors"
	"seismo/pkg/metrics"
	"seismo/pkg/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer      messageWriter
	topic       string
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger, serviceName string) *KafkaProducer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = constants.KafkaBatchTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = constants.KafkaWriteTimeout
	}

	// Publish waits for the ack of a single message, so the batch is flushed
	// as soon as it holds one; otherwise every call would sit out BatchTimeout.
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Murmur2Balancer{},
		BatchSize:              1,
		BatchTimeout:           batchTimeout,
		BatchBytes:             int64(cfg.BatchBytes),
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireAll,
		Compression:            compressionCodec(cfg.Compression),
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return newKafkaProducer(w, cfg.Topic, log, serviceName)
}

func newKafkaProducer(w messageWriter, topic string, log logger.Logger, serviceName string) *KafkaProducer {
	return &KafkaProducer{writer: w, topic: topic, logger: log, serviceName: serviceName}
}

func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	topic := msg.Topic
	if topic == "" {
		topic = p.topic
	}

	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	tracing.InjectTraceContext(ctx, headers)

	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: toKafkaHeaders(headers),
		Time:    ts,
	})
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))
	if err != nil {
		return errors.ErrPublish.WithDetail("topic", topic).WithCause(err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaMessageSize(p.serviceName, topic, "out", len(msg.Value))
	return nil
}

// Close flushes pending batches before closing the connections.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	reader      messageReader
	topic       string
	logger      logger.Logger
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger, serviceName string) *KafkaConsumer {
	startOffset := kafka.FirstOffset
	if cfg.StartOffset == "latest" {
		startOffset = kafka.LastOffset
	}

	log.Infow("Creating Kafka reader",
		"topic", cfg.Topic,
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
		"start_offset", cfg.StartOffset,
		"service_name", serviceName,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return newKafkaConsumer(reader, cfg.Topic, log, serviceName)
}

func newKafkaConsumer(r messageReader, topic string, log logger.Logger, serviceName string) *KafkaConsumer {
	return &KafkaConsumer{reader: r, topic: topic, logger: log, serviceName: serviceName}
}

// Poll waits up to timeout for the next message. Offsets are never committed
// implicitly; callers commit with Commit.
func (c *KafkaConsumer) Poll(ctx context.Context, timeout time.Duration) (Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m, err := c.reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			return Message{}, ErrEmptyPoll
		}
		return Message{}, errors.ErrDelivery.WithDetail("topic", c.topic).WithCause(err)
	}

	metrics.IncKafkaMessagesRead(c.serviceName, m.Topic)
	metrics.ObserveKafkaMessageSize(c.serviceName, m.Topic, "in", len(m.Value))

	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   fromKafkaHeaders(m.Headers),
		Time:      m.Time,
		raw:       m,
	}, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, msg Message) error {
	m, ok := msg.raw.(kafka.Message)
	if !ok {
		m = kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset}
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		return errors.ErrOffset.
			WithDetail("partition", msg.Partition).
			WithDetail("offset", msg.Offset).
			WithCause(err)
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func compressionCodec(name string) kafka.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaHeaders(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
