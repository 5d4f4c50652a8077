package sink

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seismo/internal/config"
	"seismo/pkg/errors"
	"seismo/pkg/models"
)

type flakySink struct {
	fail    bool
	appends int
}

func (f *flakySink) Append(context.Context, models.PersistedRecord) error {
	f.appends++
	if f.fail {
		return errors.ErrSinkWrite.WithCause(stderrors.New("disk full"))
	}
	return nil
}

func (f *flakySink) ReadAll(context.Context) ([]models.PersistedRecord, error) {
	return []models.PersistedRecord{sampleRecord("a")}, nil
}

func (f *flakySink) Ping(context.Context) error { return nil }
func (f *flakySink) Name() string               { return "flaky" }
func (f *flakySink) Close() error               { return nil }

func TestBreakerSink_OpensAndFailsFast(t *testing.T) {
	inner := &flakySink{fail: true}
	b := NewBreakerSink(inner, config.CircuitBreakerConfig{
		Enabled:      true,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		assert.True(t, errors.IsSinkWrite(b.Append(ctx, sampleRecord("a"))))
	}
	assert.Equal(t, "open", b.State())

	err := b.Append(ctx, sampleRecord("a"))
	assert.True(t, errors.IsSinkWrite(err), "open breaker must still surface a retryable sink error")
	assert.Equal(t, 2, inner.appends, "open breaker must not reach the backend")
}

func TestBreakerSink_PassesThrough(t *testing.T) {
	b := NewBreakerSink(&flakySink{}, config.CircuitBreakerConfig{Enabled: true})

	require.NoError(t, b.Append(context.Background(), sampleRecord("a")))
	records, err := b.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "flaky", b.Name())
}
