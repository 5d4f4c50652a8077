package sink

import (
	"context"
	"fmt"

	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/logger"
	"seismo/pkg/bootstrap"
	"seismo/pkg/migrations"
)

// New opens the backend named by cfg.Sink.Type, wrapped in a circuit breaker
// when one is enabled.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (Sink, error) {
	s, err := open(ctx, cfg.Sink, log)
	if err != nil {
		return nil, err
	}

	log.Infow("Durable sink opened", "sink", s.Name())

	if cfg.CircuitBreaker.Enabled {
		log.Infow("Circuit breaker enabled for sink", "sink", s.Name())
		return NewBreakerSink(s, cfg.CircuitBreaker), nil
	}
	return s, nil
}

func open(ctx context.Context, cfg config.SinkConfig, log logger.Logger) (Sink, error) {
	dc := bootstrap.NewDatabaseConnector(cfg, log)

	switch cfg.Type {
	case constants.SinkTypeCSV, "":
		return NewCSVSink(cfg.CSV.Path)

	case constants.SinkTypePostgres:
		db, err := dc.InitPostgreSQL(ctx)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := migrations.RunPostgres(db); err != nil {
				_ = db.Close()
				return nil, err
			}
			log.Infow("PostgreSQL migrations applied")
		}
		return NewPostgresSink(db), nil

	case constants.SinkTypeMongoDB:
		client, err := dc.InitMongoDB(ctx)
		if err != nil {
			return nil, err
		}
		if err := migrations.EnsureEventCollection(ctx, client.Database(cfg.MongoDB.Database), cfg.MongoDB.Collection); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return NewMongoSink(client, cfg.MongoDB.Database, cfg.MongoDB.Collection), nil

	case constants.SinkTypeRedis:
		client, err := dc.InitRedis(ctx)
		if err != nil {
			return nil, err
		}
		return NewRedisSink(client, cfg.Redis.Stream), nil

	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Type)
	}
}
