package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"seismo/internal/config"
)

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.RateLimitConfig{RPS: 2, CleanupInterval: 30})

	assert.Equal(t, 2.0, c.RPS)
	assert.Equal(t, DefaultConfig().Burst, c.Burst)
	assert.Equal(t, 30*time.Second, c.CleanupInterval)
	assert.Equal(t, DefaultConfig().MaxAge, c.MaxAge)
}

func TestRateLimitMiddleware_LimitsPerClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(ctx, RateLimitConfig{RPS: 0.001, Burst: 1, CleanupInterval: time.Minute, MaxAge: time.Minute}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	other := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4000"
	router.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}
