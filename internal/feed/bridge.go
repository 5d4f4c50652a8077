// Package feed bridges the upstream seismic websocket feed onto the broker.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"seismo/internal/broker"
	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/logger"
	"seismo/internal/normalizer"
	"seismo/pkg/errors"
	"seismo/pkg/logging"
	"seismo/pkg/metrics"
	"seismo/pkg/retry"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Filter decides whether a decoded notification is published.
type Filter interface {
	Match(ctx context.Context, envelope map[string]interface{}) (bool, error)
}

// Stats is a snapshot of the bridge counters.
type Stats struct {
	Received      int64
	Published     int64
	Dropped       int64
	Filtered      int64
	LastPublished string
}

// Bridge holds exactly one upstream connection at a time and republishes
// every event it reads, keyed for per-unid ordering. Publishing happens on a
// single goroutine fed by a bounded queue, so arrival order is kept and a
// slow broker backs up into the read loop instead of into memory.
type Bridge struct {
	cfg      config.FeedConfig
	topic    string
	dialer   Dialer
	producer broker.Producer
	filter   Filter
	logger   logger.Logger

	state atomic.Int32

	mu    sync.Mutex
	stats Stats
}

type outbound struct {
	msg  broker.Message
	unid string
}

func NewBridge(cfg config.FeedConfig, topic string, dialer Dialer, producer broker.Producer, filter Filter, log logger.Logger) *Bridge {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = constants.DefaultMaxInFlight
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = constants.DefaultDrainTimeout
	}
	return &Bridge{
		cfg:      cfg,
		topic:    topic,
		dialer:   dialer,
		producer: producer,
		filter:   filter,
		logger:   log,
	}
}

func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bridge) setState(ctx context.Context, to State, keysAndValues ...interface{}) {
	from := State(b.state.Swap(int32(to)))
	metrics.SetFeedConnectionState(int(to))
	if from == to {
		return
	}
	fields := append([]interface{}{"from", from.String(), "to", to.String()}, keysAndValues...)
	b.logger.InfowCtx(ctx, "Feed state transition", fields...)
}

// Run connects, reads and publishes until ctx is cancelled, then drains
// queued publishes for at most the drain timeout and closes the producer.
// The producer is closed on every return path.
func (b *Bridge) Run(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceFeedBridge)

	queue := make(chan outbound, b.cfg.MaxInFlight)
	pubCtx, pubCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pubCancel()

	publishDone := make(chan struct{})
	go func() {
		defer close(publishDone)
		b.publishLoop(pubCtx, queue)
	}()

	b.connectLoop(ctx, queue)

	if b.State() == StateConnected {
		b.setState(ctx, StateDraining, "queued", len(queue))
	} else {
		b.logger.InfowCtx(ctx, "Shutting down without an upstream connection",
			"state", b.State().String(),
			"queued", len(queue),
		)
	}
	close(queue)

	drainTimer := time.NewTimer(b.cfg.DrainTimeout)
	select {
	case <-publishDone:
		drainTimer.Stop()
	case <-drainTimer.C:
		b.logger.WarnwCtx(ctx, "Drain timeout reached, abandoning queued events",
			"drain_timeout", b.cfg.DrainTimeout,
			"queued", len(queue),
		)
		pubCancel()
		<-publishDone
	}

	closeErr := b.producer.Close()
	if closeErr != nil {
		b.logger.ErrorwCtx(ctx, "Failed to flush and close producer", "error", closeErr)
	}

	b.setState(ctx, StateDisconnected, "reason", "shutdown")

	stats := b.Stats()
	b.logger.InfowCtx(ctx, "Feed bridge stopped",
		"cause", context.Cause(ctx),
		"received", stats.Received,
		"published", stats.Published,
		"dropped", stats.Dropped,
		"filtered", stats.Filtered,
		"last_published_unid", stats.LastPublished,
	)
	return closeErr
}

func (b *Bridge) connectLoop(ctx context.Context, queue chan<- outbound) {
	bo := retry.ExponentialBackoff(b.cfg.Reconnect.InitialInterval, b.cfg.Reconnect.MaxInterval, b.cfg.Reconnect.Multiplier)
	attempt := 0

	for ctx.Err() == nil {
		attempt++
		if attempt > 1 {
			metrics.FeedReconnectsTotal.Inc()
		}
		b.setState(ctx, StateConnecting, "url", b.cfg.URL, "attempt", attempt)

		conn, err := b.dialer.Dial(ctx, b.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			connErr := errors.ErrConnection.WithCause(err)
			b.setState(ctx, StateDisconnected, "reason", "dial failed")
			if !b.wait(ctx, bo, attempt, connErr) {
				return
			}
			continue
		}

		bo.Reset()
		attempt = 0
		b.setState(ctx, StateConnected, "url", b.cfg.URL)

		reason := b.session(ctx, conn, queue)
		if ctx.Err() != nil {
			return
		}
		b.setState(ctx, StateDisconnected, "reason", reason.Error())
		if !b.wait(ctx, bo, 1, errors.ErrConnection.WithCause(reason)) {
			return
		}
	}
}

// wait sleeps for the next backoff interval. It reports false when ctx was
// cancelled first.
func (b *Bridge) wait(ctx context.Context, bo backoff.BackOff, attempt int, cause error) bool {
	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		delay = b.cfg.Reconnect.MaxInterval
	}
	b.logger.WarnwCtx(ctx, "Upstream unavailable, reconnecting",
		"error", cause,
		"attempt", attempt,
		"next_delay", delay,
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// session reads frames from conn until it fails or ctx is cancelled, and
// returns why it ended. The connection is always closed.
func (b *Bridge) session(ctx context.Context, conn Conn, queue chan<- outbound) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			var ne net.Error
			if stderrors.As(err, &ne) && ne.Timeout() {
				return stderrors.New("idle timeout")
			}
			return err
		}

		for _, line := range bytes.Split(frame, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			if !b.dispatch(ctx, line, queue) {
				return context.Cause(ctx)
			}
		}
	}
}

// dispatch queues one event for publishing. It blocks while the queue is
// full and reports false if ctx is cancelled meanwhile.
func (b *Bridge) dispatch(ctx context.Context, raw []byte, queue chan<- outbound) bool {
	b.count(func(s *Stats) { s.Received++ })

	summary := normalizer.Summarize(raw)
	if !summary.Valid {
		metrics.IncFeedEvent("undecodable")
		b.logger.WarnwCtx(ctx, "Received undecodable event, publishing raw",
			"error_code", errors.ErrParse.Code,
			"size", len(raw),
		)
	} else {
		metrics.IncFeedEvent("received")
		b.logger.InfowCtx(ctx, "Received event",
			"action", summary.Action,
			"auth", summary.Auth,
			"unid", summary.UNID,
			"time", summary.Time,
			"mag", summary.Mag,
			"region", summary.FlynnRegion,
		)
	}

	if !b.accept(ctx, raw, summary) {
		b.count(func(s *Stats) { s.Filtered++ })
		metrics.IncFeedEvent("filtered")
		b.logger.DebugwCtx(ctx, "Event rejected by filter", "unid", summary.UNID)
		return true
	}

	key, source := PartitionKey(raw, summary)
	payload := make([]byte, len(raw))
	copy(payload, raw)

	out := outbound{
		unid: summary.UNID,
		msg: broker.Message{
			Topic: b.topic,
			Key:   key,
			Value: payload,
			Headers: map[string]string{
				constants.HeaderIngestID:  uuid.NewString(),
				constants.HeaderKeySource: source,
			},
			Time: time.Now(),
		},
	}

	select {
	case queue <- out:
		metrics.FeedInFlight.Set(float64(len(queue)))
		return true
	case <-ctx.Done():
		b.count(func(s *Stats) { s.Dropped++ })
		b.logger.WarnwCtx(ctx, "Shutdown while queue full, event not published", "unid", summary.UNID)
		return false
	}
}

// accept applies the optional filter. Payloads the filter cannot evaluate
// are published.
func (b *Bridge) accept(ctx context.Context, raw []byte, summary normalizer.Summary) bool {
	if b.filter == nil || !summary.Valid {
		return true
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return true
	}
	ok, err := b.filter.Match(ctx, envelope)
	if err != nil {
		b.logger.DebugwCtx(ctx, "Filter evaluation failed, publishing", "unid", summary.UNID, "error", err)
		return true
	}
	return ok
}

func (b *Bridge) publishLoop(ctx context.Context, queue <-chan outbound) {
	policy := retry.Policy{
		MaxAttempts:     b.cfg.PublishRetry.MaxAttempts,
		InitialInterval: b.cfg.PublishRetry.InitialInterval,
		MaxInterval:     b.cfg.PublishRetry.MaxInterval,
		Multiplier:      b.cfg.PublishRetry.Multiplier,
		MaxElapsedTime:  b.cfg.PublishRetry.MaxElapsedTime,
	}

	for out := range queue {
		metrics.FeedInFlight.Set(float64(len(queue)))
		msgCtx := logging.WithUNID(ctx, out.unid)

		if ctx.Err() != nil {
			b.count(func(s *Stats) { s.Dropped++ })
			metrics.IncFeedPublish("dropped")
			continue
		}

		err := retry.RetryWithCallback(msgCtx, policy, func() error {
			return b.producer.Publish(msgCtx, out.msg)
		}, func(attempt int, err error, nextDelay time.Duration) {
			metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceFeedBridge, "publish").Inc()
			b.logger.WarnwCtx(msgCtx, "Retrying publish",
				"attempt", attempt,
				"max_attempts", policy.MaxAttempts,
				"next_delay", nextDelay,
				"error", err,
			)
		})
		if err != nil {
			b.count(func(s *Stats) { s.Dropped++ })
			metrics.IncFeedPublish("dropped")
			b.logger.ErrorwCtx(msgCtx, "Dropping event after publish retries",
				"error_code", errors.ErrPublish.Code,
				"error", err,
				"key", string(out.msg.Key),
			)
			continue
		}

		metrics.IncFeedPublish("published")
		b.count(func(s *Stats) {
			s.Published++
			if out.unid != "" {
				s.LastPublished = out.unid
			}
		})
	}
}

func (b *Bridge) count(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}
