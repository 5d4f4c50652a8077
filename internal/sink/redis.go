package sink

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"seismo/internal/constants"
	"seismo/pkg/errors"
	"seismo/pkg/metrics"
	"seismo/pkg/models"
)

// RedisSink appends each record as a stream entry. Entry ids are assigned
// by the server and increase monotonically, which gives ReadAll its order.
// Durability follows the server's appendfsync setting.
type RedisSink struct {
	client *redis.Client
	stream string
}

func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream}
}

func (s *RedisSink) Append(ctx context.Context, rec models.PersistedRecord) error {
	row := rec.Row()
	values := make(map[string]interface{}, len(row))
	for i, col := range models.RecordColumns {
		values[col] = row[i]
	}

	start := time.Now()
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		Values: values,
	}).Err()
	if err != nil {
		metrics.ObserveSinkAppend(s.Name(), "error", time.Since(start))
		return errors.ErrSinkWrite.WithDetail("unid", rec.UNID).WithCause(err)
	}
	metrics.ObserveSinkAppend(s.Name(), "ok", time.Since(start))
	return nil
}

func (s *RedisSink) ReadAll(ctx context.Context) ([]models.PersistedRecord, error) {
	start := time.Now()
	defer func() { metrics.ObserveSinkRead(s.Name(), time.Since(start)) }()

	entries, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, errors.ErrUnavailable.WithCause(err)
	}

	records := make([]models.PersistedRecord, 0, len(entries))
	row := make([]string, len(models.RecordColumns))
	for _, entry := range entries {
		for i, col := range models.RecordColumns {
			v, _ := entry.Values[col].(string)
			row[i] = v
		}
		rec, err := models.ParseRow(row)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Name() string {
	return constants.SinkTypeRedis
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
