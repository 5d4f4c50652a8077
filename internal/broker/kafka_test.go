package broker

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seismo/internal/config"
	"seismo/internal/logger"
	"seismo/pkg/errors"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	msgs      chan kafka.Message
	fetchErr  error
	commitErr error
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.fetchErr != nil {
		return kafka.Message{}, r.fetchErr
	}
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestKafkaProducer_PublishUsesDefaultTopicAndHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, "eu_seismic", logger.NopLogger(), "test")

	err := p.Publish(context.Background(), Message{
		Key:     []byte("20240101_0000001"),
		Value:   []byte(`{"action":"create"}`),
		Headers: map[string]string{"x-key-source": "unid"},
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "eu_seismic", m.Topic)
	assert.Equal(t, []byte("20240101_0000001"), m.Key)
	assert.False(t, m.Time.IsZero())
	assert.Equal(t, "unid", fromKafkaHeaders(m.Headers)["x-key-source"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaProducer_FlushesEachSynchronousPublish(t *testing.T) {
	p := NewKafkaProducer(config.KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "eu_seismic",
		BatchTimeout: time.Second,
	}, logger.NopLogger(), "test")
	defer p.Close()

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, 1, w.BatchSize)
	assert.False(t, w.Async)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}

func TestKafkaProducer_PublishErrorIsRetryable(t *testing.T) {
	w := &fakeWriter{err: stderrors.New("leader not available")}
	p := newKafkaProducer(w, "eu_seismic", logger.NopLogger(), "test")

	err := p.Publish(context.Background(), Message{Value: []byte("{}")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPublish)

	var appErr *errors.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.IsRetryable())
}

func TestKafkaConsumer_PollReturnsMessage(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 1)}
	r.msgs <- kafka.Message{
		Topic:     "eu_seismic",
		Partition: 2,
		Offset:    41,
		Value:     []byte("{}"),
		Headers:   []kafka.Header{{Key: "x-ingest-id", Value: []byte("abc")}},
	}
	c := newKafkaConsumer(r, "eu_seismic", logger.NopLogger(), "test")

	msg, err := c.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Partition)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, "abc", msg.Headers["x-ingest-id"])

	require.NoError(t, c.Commit(context.Background(), msg))
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(41), r.committed[0].Offset)
}

func TestKafkaConsumer_PollTimeoutIsEmptyPoll(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message)}
	c := newKafkaConsumer(r, "eu_seismic", logger.NopLogger(), "test")

	_, err := c.Poll(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmptyPoll)
}

func TestKafkaConsumer_PollCancelledReturnsContextError(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message)}
	c := newKafkaConsumer(r, "eu_seismic", logger.NopLogger(), "test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Poll(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKafkaConsumer_DeliveryErrorIsFatal(t *testing.T) {
	r := &fakeReader{fetchErr: stderrors.New("group coordinator unavailable")}
	c := newKafkaConsumer(r, "eu_seismic", logger.NopLogger(), "test")

	_, err := c.Poll(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsDelivery(err))
}

func TestKafkaConsumer_CommitErrorIsOffsetError(t *testing.T) {
	r := &fakeReader{commitErr: stderrors.New("rebalance in progress")}
	c := newKafkaConsumer(r, "eu_seismic", logger.NopLogger(), "test")

	err := c.Commit(context.Background(), Message{Topic: "eu_seismic", Partition: 1, Offset: 7})
	require.Error(t, err)
	assert.True(t, errors.IsOffset(err))
}

func TestCompressionCodec(t *testing.T) {
	assert.Equal(t, kafka.Gzip, compressionCodec("gzip"))
	assert.Equal(t, kafka.Snappy, compressionCodec("SNAPPY"))
	assert.Equal(t, kafka.Compression(0), compressionCodec("none"))
}
