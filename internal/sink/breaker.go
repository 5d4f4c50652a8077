package sink

import (
	"context"
	"fmt"

	"seismo/internal/config"
	"seismo/pkg/circuitbreaker"
	"seismo/pkg/errors"
	"seismo/pkg/models"
)

// BreakerSink guards a backend with a circuit breaker. While open, appends
// fail fast with a retryable sink write error.
type BreakerSink struct {
	Sink
	cb *circuitbreaker.Wrapper
}

func NewBreakerSink(s Sink, cfg config.CircuitBreakerConfig) *BreakerSink {
	return &BreakerSink{
		Sink: s,
		cb:   circuitbreaker.NewWrapper(circuitbreaker.FromConfig("sink-"+s.Name(), cfg)),
	}
}

func (b *BreakerSink) Append(ctx context.Context, rec models.PersistedRecord) error {
	_, err := b.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, b.Sink.Append(ctx, rec)
	})

	b.cb.RecordRequest(err == nil)

	if err != nil {
		if b.cb.IsOpen() && !errors.IsSinkWrite(err) {
			return errors.ErrSinkWrite.
				WithDetail("message", fmt.Sprintf("circuit breaker is open for %s", b.cb.Name())).
				WithCause(err)
		}
		return err
	}
	return nil
}

func (b *BreakerSink) ReadAll(ctx context.Context) ([]models.PersistedRecord, error) {
	result, err := b.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return b.Sink.ReadAll(ctx)
	})

	b.cb.RecordRequest(err == nil)

	if err != nil {
		return nil, err
	}

	records, ok := result.([]models.PersistedRecord)
	if !ok {
		return nil, fmt.Errorf("sink returned invalid result type")
	}
	return records, nil
}

func (b *BreakerSink) State() string {
	return b.cb.State().String()
}
