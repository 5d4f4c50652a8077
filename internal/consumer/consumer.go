// Package consumer moves events from the broker into the durable sink. An
// offset is committed only after its record has been appended.
package consumer

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"seismo/internal/broker"
	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/logger"
	"seismo/internal/normalizer"
	"seismo/internal/sink"
	"seismo/pkg/errors"
	"seismo/pkg/logging"
	"seismo/pkg/metrics"
	"seismo/pkg/models"
	"seismo/pkg/retry"
	"seismo/pkg/tracing"
)

// Stats is a snapshot of the consumer counters.
type Stats struct {
	Persisted int64
	Skipped   int64
	Held      int64
}

// Consumer is single threaded: one message is polled, persisted and
// committed before the next is polled.
type Consumer struct {
	cfg      config.ConsumerConfig
	source   broker.Consumer
	sink     sink.Sink
	dlq      broker.Producer
	dlqTopic string
	limiter  *rate.Limiter
	logger   logger.Logger

	mu        sync.Mutex
	stalled   map[int]int64
	committed map[int]int64
	stats     Stats
}

// New builds a consumer. dlq may be nil, in which case malformed messages
// are only logged before their offset is committed.
func New(cfg config.ConsumerConfig, source broker.Consumer, s sink.Sink, dlq broker.Producer, dlqTopic string, log logger.Logger) *Consumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = constants.DefaultPollTimeout
	}
	if cfg.SinkRetry.MaxAttempts <= 0 {
		cfg.SinkRetry.MaxAttempts = constants.DefaultSinkMaxAttempts
	}

	c := &Consumer{
		cfg:       cfg,
		source:    source,
		sink:      s,
		dlq:       dlq,
		dlqTopic:  dlqTopic,
		logger:    log,
		stalled:   make(map[int]int64),
		committed: make(map[int]int64),
	}
	if cfg.RecordInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.RecordInterval), 1)
	}
	return c
}

// Run polls until ctx is cancelled or a fatal error occurs. Cancellation is
// a clean stop and returns nil. Delivery and commit failures are returned;
// the process is expected to exit and resume from the last committed offset.
func (c *Consumer) Run(ctx context.Context) (err error) {
	ctx = logging.WithServiceName(ctx, constants.ServiceSinkConsumer)

	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
		c.logStopped(ctx, err)
	}()

	c.logger.InfowCtx(ctx, "Sink consumer started",
		"sink", c.sink.Name(),
		"poll_timeout", c.cfg.PollTimeout,
		"record_interval", c.cfg.RecordInterval,
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := c.source.Poll(ctx, c.cfg.PollTimeout)
		switch {
		case err == nil:
		case stderrors.Is(err, broker.ErrEmptyPoll):
			continue
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}

		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg broker.Message) error {
	msgCtx := logging.WithPosition(ctx, msg.Partition, msg.Offset)
	msgCtx, span := tracing.StartSpanFromHeaders(msgCtx, "sink.consume", msg.Headers)
	defer span.End()
	if traceID := tracing.TraceID(msgCtx); traceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, traceID)
	}

	if stalledAt, ok := c.stalledAt(msg.Partition); ok {
		c.count(func(s *Stats) { s.Held++ })
		metrics.IncConsumerRecord("held")
		c.logger.DebugwCtx(msgCtx, "Holding message on stalled partition", "stalled_offset", stalledAt)
		return nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// Shutdown; the message stays uncommitted and is redelivered.
			return nil
		}
	}

	ev, err := normalizer.Normalize(msg.Value)
	if err != nil {
		c.count(func(s *Stats) { s.Skipped++ })
		metrics.IncConsumerRecord("parse_error")
		c.logger.WarnwCtx(msgCtx, "Skipping malformed event",
			"error_code", errors.Code(err),
			"error", err,
			"ingest_id", msg.Headers[constants.HeaderIngestID],
		)
		c.sendToDLQ(msgCtx, msg, err)
		return c.commit(msgCtx, msg)
	}

	msgCtx = logging.WithUNID(msgCtx, ev.UNID)
	rec := normalizer.ToRecord(ev)

	if err := c.appendWithRetry(msgCtx, rec); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.stall(msgCtx, msg, err)
		return nil
	}

	c.count(func(s *Stats) { s.Persisted++ })
	metrics.IncConsumerRecord("persisted")
	return c.commit(msgCtx, msg)
}

func (c *Consumer) appendWithRetry(ctx context.Context, rec models.PersistedRecord) error {
	policy := retry.Policy{
		MaxAttempts:     c.cfg.SinkRetry.MaxAttempts,
		InitialInterval: c.cfg.SinkRetry.InitialInterval,
		MaxInterval:     c.cfg.SinkRetry.MaxInterval,
		Multiplier:      c.cfg.SinkRetry.Multiplier,
		MaxElapsedTime:  c.cfg.SinkRetry.MaxElapsedTime,
	}

	return retry.RetryWithCallback(ctx, policy, func() error {
		return c.sink.Append(ctx, rec)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceSinkConsumer, "sink_append").Inc()
		c.logger.WarnwCtx(ctx, "Retrying sink append",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

// stall halts msg's partition for the rest of this process. Later messages
// from it are neither persisted nor committed, so a restart resumes at msg.
func (c *Consumer) stall(ctx context.Context, msg broker.Message, cause error) {
	c.mu.Lock()
	c.stalled[msg.Partition] = msg.Offset
	n := len(c.stalled)
	last, hasCommit := c.committed[msg.Partition]
	c.mu.Unlock()

	metrics.ConsumerStalledPartitions.Set(float64(n))
	metrics.IncConsumerRecord("stalled")

	fields := []interface{}{
		"error_code", errors.ErrSinkWrite.Code,
		"error", cause,
		"topic", msg.Topic,
		"attempts", c.cfg.SinkRetry.MaxAttempts,
	}
	if hasCommit {
		fields = append(fields, "last_committed_offset", last)
	}
	c.logger.ErrorwCtx(ctx, "Partition stalled after sink write failures, operator attention required", fields...)
}

func (c *Consumer) commit(ctx context.Context, msg broker.Message) error {
	if err := c.source.Commit(ctx, msg); err != nil {
		if !errors.IsOffset(err) {
			err = errors.ErrOffset.WithCause(err)
		}
		c.logger.ErrorwCtx(ctx, "Offset commit failed", "error", err)
		return err
	}

	c.mu.Lock()
	c.committed[msg.Partition] = msg.Offset
	c.mu.Unlock()
	metrics.SetCommittedOffset(msg.Topic, msg.Partition, msg.Offset)
	return nil
}

func (c *Consumer) sendToDLQ(ctx context.Context, msg broker.Message, cause error) {
	if c.dlq == nil || c.dlqTopic == "" {
		return
	}

	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[constants.HeaderDLQReason] = cause.Error()
	headers[constants.HeaderDLQSourceTopic] = msg.Topic

	err := c.dlq.Publish(ctx, broker.Message{
		Topic:   c.dlqTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ", "error", err, "dlq_topic", c.dlqTopic)
		return
	}

	metrics.DLQMessagesTotal.WithLabelValues(constants.ServiceSinkConsumer, msg.Topic, "parse_error").Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ", "source_topic", msg.Topic, "dlq_topic", c.dlqTopic)
}

func (c *Consumer) logStopped(ctx context.Context, err error) {
	c.mu.Lock()
	committed := make(map[int]int64, len(c.committed))
	for p, o := range c.committed {
		committed[p] = o
	}
	stalled := make(map[int]int64, len(c.stalled))
	for p, o := range c.stalled {
		stalled[p] = o
	}
	stats := c.stats
	c.mu.Unlock()

	fields := []interface{}{
		"committed", committed,
		"stalled", stalled,
		"persisted", stats.Persisted,
		"skipped", stats.Skipped,
		"held", stats.Held,
	}
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Sink consumer stopped", append(fields, "error", err)...)
		return
	}
	c.logger.InfowCtx(ctx, "Sink consumer stopped", append(fields, "cause", context.Cause(ctx))...)
}

// Stalled returns the offset each stalled partition is halted at.
func (c *Consumer) Stalled() map[int]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]int64, len(c.stalled))
	for p, o := range c.stalled {
		out[p] = o
	}
	return out
}

// Committed returns the last committed offset per partition.
func (c *Consumer) Committed() map[int]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]int64, len(c.committed))
	for p, o := range c.committed {
		out[p] = o
	}
	return out
}

func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Consumer) stalledAt(partition int) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.stalled[partition]
	return o, ok
}

func (c *Consumer) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
