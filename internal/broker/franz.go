package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"seismo/internal/config"
	"seismo/internal/logger"
	"seismo/pkg/errors"
	"seismo/pkg/metrics"
	"seismo/pkg/tracing"
)

// franzProducerClient is the subset of *kgo.Client the producer uses.
type franzProducerClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	Close()
}

// franzConsumerClient is the subset of *kgo.Client the consumer uses.
type franzConsumerClient interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

// FranzProducer publishes with franz-go. Its default partitioner hashes keys
// with murmur2 like KafkaProducer, so both drivers route a key identically.
type FranzProducer struct {
	client      franzProducerClient
	topic       string
	logger      logger.Logger
	serviceName string
}

func NewFranzProducer(cfg config.KafkaConfig, log logger.Logger, serviceName string) (*FranzProducer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(franzCompression(cfg.Compression)),
		kgo.AllowAutoTopicCreation(),
		// ProduceSync carries one record; lingering would only delay its ack.
		kgo.ProducerLinger(0),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}
	return newFranzProducer(client, cfg.Topic, log, serviceName), nil
}

func newFranzProducer(client franzProducerClient, topic string, log logger.Logger, serviceName string) *FranzProducer {
	return &FranzProducer{client: client, topic: topic, logger: log, serviceName: serviceName}
}

func (p *FranzProducer) Publish(ctx context.Context, msg Message) error {
	topic := msg.Topic
	if topic == "" {
		topic = p.topic
	}

	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	tracing.InjectTraceContext(ctx, headers)

	record := &kgo.Record{
		Topic:     topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Time,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	start := time.Now()
	results := p.client.ProduceSync(ctx, record)
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))
	if err := results.FirstErr(); err != nil {
		return errors.ErrPublish.WithDetail("topic", topic).WithCause(err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaMessageSize(p.serviceName, topic, "out", len(msg.Value))
	return nil
}

func (p *FranzProducer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}

type FranzConsumer struct {
	client      franzConsumerClient
	topic       string
	logger      logger.Logger
	serviceName string
}

func NewFranzConsumer(cfg config.KafkaConfig, log logger.Logger, serviceName string) (*FranzConsumer, error) {
	offset := kgo.NewOffset().AtStart()
	if cfg.StartOffset == "latest" {
		offset = kgo.NewOffset().AtEnd()
	}

	log.Infow("Creating franz-go consumer",
		"topic", cfg.Topic,
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
		"start_offset", cfg.StartOffset,
		"service_name", serviceName,
	)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer client: %w", err)
	}
	return newFranzConsumer(client, cfg.Topic, log, serviceName), nil
}

func newFranzConsumer(client franzConsumerClient, topic string, log logger.Logger, serviceName string) *FranzConsumer {
	return &FranzConsumer{client: client, topic: topic, logger: log, serviceName: serviceName}
}

func (c *FranzConsumer) Poll(ctx context.Context, timeout time.Duration) (Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.client.PollRecords(pollCtx, 1)
	if fetches.IsClientClosed() {
		return Message{}, errors.ErrDelivery.WithDetail("topic", c.topic).WithCause(kgo.ErrClientClosed)
	}
	for _, fe := range fetches.Errors() {
		if stderrors.Is(fe.Err, context.DeadlineExceeded) || stderrors.Is(fe.Err, context.Canceled) {
			continue
		}
		return Message{}, errors.ErrDelivery.
			WithDetail("topic", fe.Topic).
			WithDetail("partition", fe.Partition).
			WithCause(fe.Err)
	}
	if ctx.Err() != nil {
		return Message{}, ctx.Err()
	}

	records := fetches.Records()
	if len(records) == 0 {
		return Message{}, ErrEmptyPoll
	}
	r := records[0]

	metrics.IncKafkaMessagesRead(c.serviceName, r.Topic)
	metrics.ObserveKafkaMessageSize(c.serviceName, r.Topic, "in", len(r.Value))

	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     r.Topic,
		Partition: int(r.Partition),
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Time:      r.Timestamp,
		raw:       r,
	}, nil
}

func (c *FranzConsumer) Commit(ctx context.Context, msg Message) error {
	r, ok := msg.raw.(*kgo.Record)
	if !ok {
		r = &kgo.Record{Topic: msg.Topic, Partition: int32(msg.Partition), Offset: msg.Offset, LeaderEpoch: -1}
	}
	if err := c.client.CommitRecords(ctx, r); err != nil {
		return errors.ErrOffset.
			WithDetail("partition", msg.Partition).
			WithDetail("offset", msg.Offset).
			WithCause(err)
	}
	return nil
}

func (c *FranzConsumer) Close() error {
	c.client.Close()
	return nil
}

func franzCompression(name string) kgo.CompressionCodec {
	switch strings.ToLower(name) {
	case "gzip":
		return kgo.GzipCompression()
	case "snappy":
		return kgo.SnappyCompression()
	case "lz4":
		return kgo.Lz4Compression()
	case "zstd":
		return kgo.ZstdCompression()
	default:
		return kgo.NoCompression()
	}
}
