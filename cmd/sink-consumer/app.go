package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/consumer"
	"seismo/internal/logger"
	"seismo/internal/sink"
	"seismo/pkg/bootstrap"
	"seismo/pkg/health"
	"seismo/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	sink     sink.Sink
	consumer *consumer.Consumer
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(constants.ServiceSinkConsumer); err != nil {
		return err
	}

	metrics.RegisterConsumerMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	s, err := sink.New(ctx, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	a.sink = s

	if err := a.InitConsumer(constants.ServiceSinkConsumer); err != nil {
		_ = s.Close()
		return err
	}

	dlqTopic := a.Config.Broker.Kafka.DLQTopic
	if dlqTopic != "" {
		if err := a.InitProducer(constants.ServiceSinkConsumer); err != nil {
			_ = s.Close()
			return err
		}
		a.Logger.InfowCtx(ctx, "Dead letter topic enabled", "dlq_topic", dlqTopic)
	}

	a.consumer = consumer.New(a.Config.Consumer, a.Consumer, s, a.Producer, dlqTopic, a.Logger)

	a.initHTTPServer()
	return nil
}

func (a *App) initHTTPServer() {
	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPingChecker(a.sink.Name(), a.sink))
	healthRegistry.Register(health.NewFuncChecker("partitions", func(ctx context.Context) error {
		if stalled := a.consumer.Stalled(); len(stalled) > 0 {
			return fmt.Errorf("%w: stalled partitions %v", health.ErrDegraded, stalled)
		}
		return nil
	}))

	mux := http.NewServeMux()
	mux.Handle("/health", healthRegistry.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	a.InitHTTPServer(mux)
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeHTTP(gCtx)
	})

	// A fatal consumer error cancels gCtx so the HTTP server stops too.
	g.Go(func() error {
		return a.consumer.Run(gCtx)
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
