package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"seismo/internal/broker"
	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/logger"
	"seismo/pkg/tracing"
)

// Base carries what every binary owns: config, logger, broker clients,
// tracer and the /metrics + /health server.
type Base struct {
	Config         *config.Config
	Logger         logger.Logger
	Producer       broker.Producer
	Consumer       broker.Consumer
	TracerProvider *tracing.TracerProvider
	Server         *http.Server
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitTracing(serviceName string) error {
	tp, err := tracing.Init(b.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.TracerProvider = tp
	return nil
}

func (b *Base) InitProducer(serviceName string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger, serviceName)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	b.Producer = producer
	return nil
}

func (b *Base) InitConsumer(serviceName string) error {
	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger, serviceName)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	b.Consumer = consumer
	return nil
}

func (b *Base) InitHTTPServer(handler http.Handler) {
	b.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", b.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  b.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: b.Config.Server.WriteTimeoutSeconds,
	}
}

// ServeHTTP blocks until the server fails or ctx is done, then shuts it down.
func (b *Base) ServeHTTP(ctx context.Context) error {
	if b.Server == nil {
		return nil
	}

	errChan := make(chan error, 1)
	go func() {
		b.Logger.InfowCtx(ctx, "HTTP server starting", "port", b.Config.Server.Port)
		if err := b.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := b.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if b.TracerProvider != nil {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.TracerProvider.Shutdown(tctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
		cancel()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
