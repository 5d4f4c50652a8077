package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seismo/internal/config"
)

func TestWrapper_OpensAfterFailures(t *testing.T) {
	w := NewWrapper(FromConfig("test-open", config.CircuitBreakerConfig{
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}))

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := w.ExecuteWithContext(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
	}

	assert.True(t, w.IsOpen())
	_, err := w.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestWrapper_CancelledContextSkipsCall(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-cancel"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := w.ExecuteWithContext(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.True(t, w.IsClosed())
}

func TestFromConfig_KeepsDefaultsForZeroFields(t *testing.T) {
	c := FromConfig("x", config.CircuitBreakerConfig{})
	d := DefaultConfig("x")
	assert.Equal(t, d.MaxRequests, c.MaxRequests)
	assert.Equal(t, d.Timeout, c.Timeout)
}
