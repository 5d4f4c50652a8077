package broker

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyPoll is returned by Consumer.Poll when no message arrived within
// the poll timeout. It is not a failure.
var ErrEmptyPoll = errors.New("broker: no message within poll timeout")

// Message is a driver-neutral broker record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time

	// raw holds the driver record a Commit needs.
	raw any
}

type Producer interface {
	// Publish returns once the broker has acknowledged msg.
	Publish(ctx context.Context, msg Message) error
	// Close flushes buffered messages and releases the client.
	Close() error
}

type Consumer interface {
	Poll(ctx context.Context, timeout time.Duration) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}
