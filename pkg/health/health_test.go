package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRegistry_AllHealthy(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewPingChecker("sink", pingerFunc(func(context.Context) error { return nil })))

	h := r.Check(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, StatusHealthy, h.Checks["sink"].Status)
}

func TestRegistry_DegradedDoesNotFail(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewFuncChecker("stalls", func(context.Context) error {
		return fmt.Errorf("1 partition stalled: %w", ErrDegraded)
	}))

	h := r.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
}

func TestRegistry_UnhealthyWins(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewFuncChecker("stalls", func(context.Context) error { return ErrDegraded }))
	r.Register(NewPingChecker("sink", pingerFunc(func(context.Context) error { return errors.New("refused") })))

	h := r.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Contains(t, h.Checks["sink"].Message, "refused")
}

func TestHandler_StatusCodes(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewFuncChecker("feed", func(context.Context) error { return errors.New("disconnected") }))

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var h Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, StatusUnhealthy, h.Status)
}
