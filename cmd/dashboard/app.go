package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/dashboard"
	"seismo/internal/logger"
	"seismo/internal/sink"
	"seismo/pkg/bootstrap"
	"seismo/pkg/health"
	"seismo/pkg/metrics"
	"seismo/pkg/middleware"
	"seismo/pkg/ratelimit"
	"seismo/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	sink sink.Sink
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(constants.ServiceDashboard); err != nil {
		return err
	}

	metrics.RegisterDashboardMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	s, err := sink.New(ctx, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	a.sink = s

	a.initRouter(ctx)
	return nil
}

func (a *App) initRouter(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceDashboard))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	if a.Config.Dashboard.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(a.Config.Dashboard.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	svc := dashboard.NewService(a.sink, a.Logger)
	dashboard.NewHandler(svc, a.Config.Dashboard.RefreshInterval, a.Logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPingChecker(a.sink.Name(), a.sink))

	router.GET("/health", gin.WrapF(healthRegistry.Handler()))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.InitHTTPServer(router)
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeHTTP(gCtx)
	})

	runErr := g.Wait()
	if err := a.Shutdown(ctx, a.closeSink); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) closeSink(ctx context.Context) []error {
	if err := a.sink.Close(); err != nil {
		return []error{fmt.Errorf("sink close error: %w", err)}
	}
	return nil
}
