package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"seismo/internal/broker"
	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/feed"
	"seismo/internal/logger"
	"seismo/pkg/bootstrap"
	"seismo/pkg/cel"
	"seismo/pkg/health"
	"seismo/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	bridge *feed.Bridge
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(constants.ServiceFeedBridge); err != nil {
		return err
	}

	metrics.RegisterBridgeMetrics()
	metrics.RegisterBrokerMetrics()

	var filter feed.Filter
	if a.Config.Feed.Filter != "" {
		f, err := cel.NewFilter(a.Config.Feed.Filter)
		if err != nil {
			return fmt.Errorf("failed to compile feed filter: %w", err)
		}
		filter = f
		a.Logger.InfowCtx(ctx, "Feed filter enabled", "expression", f.Expression())
	}

	// The bridge owns the producer and closes it after draining.
	producer, err := broker.NewProducer(a.Config.Broker, a.Logger, constants.ServiceFeedBridge)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	dialer := feed.WebsocketDialer{
		HandshakeTimeout:  a.Config.Feed.HandshakeTimeout,
		HeartbeatInterval: a.Config.Feed.HeartbeatInterval,
		IdleTimeout:       a.Config.Feed.IdleTimeout,
	}
	a.bridge = feed.NewBridge(a.Config.Feed, a.Config.Broker.Kafka.Topic, dialer, producer, filter, a.Logger)

	a.initHTTPServer()
	return nil
}

func (a *App) initHTTPServer() {
	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewFuncChecker("feed", func(ctx context.Context) error {
		if state := a.bridge.State(); state != feed.StateConnected {
			return fmt.Errorf("%w: feed is %s", health.ErrDegraded, state)
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

	g.Go(func() error {
		return a.bridge.Run(gCtx)
	})

	runErr := g.Wait()
	if err := a.Shutdown(ctx, nil); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
