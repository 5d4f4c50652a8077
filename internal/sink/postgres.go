package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"seismo/internal/constants"
	"seismo/pkg/errors"
	"seismo/pkg/metrics"
	"seismo/pkg/models"
)

const (
	insertEventSQL = `INSERT INTO seismic_events
		(unid, event_time, mag, flynn_region, longitude, latitude, depth)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	selectEventsSQL = `SELECT unid, event_time, mag, flynn_region, longitude, latitude, depth
		FROM seismic_events ORDER BY id`
)

// PostgresSink appends to the seismic_events table. A committed INSERT is
// durable under the server's default synchronous_commit.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Append(ctx context.Context, rec models.PersistedRecord) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, insertEventSQL,
		rec.UNID,
		rec.Time.UTC(),
		rec.Mag,
		rec.FlynnRegion,
		rec.Longitude,
		rec.Latitude,
		rec.Depth,
	)
	if err != nil {
		metrics.ObserveSinkAppend(s.Name(), "error", time.Since(start))
		return errors.ErrSinkWrite.WithDetail("unid", rec.UNID).WithCause(err)
	}
	metrics.ObserveSinkAppend(s.Name(), "ok", time.Since(start))
	return nil
}

func (s *PostgresSink) ReadAll(ctx context.Context) ([]models.PersistedRecord, error) {
	start := time.Now()
	defer func() { metrics.ObserveSinkRead(s.Name(), time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, selectEventsSQL)
	if err != nil {
		return nil, errors.ErrUnavailable.WithCause(err)
	}
	defer rows.Close()

	records := make([]models.PersistedRecord, 0)
	for rows.Next() {
		var (
			rec                  models.PersistedRecord
			mag, lon, lat, depth sql.NullFloat64
		)
		if err := rows.Scan(&rec.UNID, &rec.Time, &mag, &rec.FlynnRegion, &lon, &lat, &depth); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		rec.Time = rec.Time.UTC()
		rec.Mag = nullFloat(mag)
		rec.Longitude = nullFloat(lon)
		rec.Latitude = nullFloat(lat)
		rec.Depth = nullFloat(depth)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrUnavailable.WithCause(err)
	}
	return records, nil
}

func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresSink) Name() string {
	return constants.SinkTypePostgres
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}
