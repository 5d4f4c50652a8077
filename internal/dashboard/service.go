// Package dashboard renders the persisted event history for display. It keeps
// no state of its own: every view is rebuilt from a fresh sink read.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"seismo/internal/logger"
	"seismo/pkg/errors"
	"seismo/pkg/metrics"
	"seismo/pkg/models"
)

const lastUpdatedLayout = "2006-01-02 15:04:05"

// ErrFetchEvents is returned when the sink cannot be read.
var ErrFetchEvents = errors.NewError("EVENTS_UNAVAILABLE", "Unable to fetch events", http.StatusServiceUnavailable)

// Reader is the read half of sink.Sink.
type Reader interface {
	ReadAll(ctx context.Context) ([]models.PersistedRecord, error)
}

type PlottedEvent struct {
	UNID      string   `json:"unid"`
	Time      string   `json:"time"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Magnitude float64  `json:"magnitude"`
	Depth     *float64 `json:"depth"`
	Region    string   `json:"region"`
	Color     string   `json:"color"`
	Size      float64  `json:"size"`
	HoverText string   `json:"hover_text"`
}

type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type View struct {
	Events      []PlottedEvent `json:"events"`
	Total       int            `json:"total"`
	Center      Center         `json:"center"`
	LastUpdated string         `json:"last_updated"`
}

type Service struct {
	reader Reader
	logger logger.Logger
	now    func() time.Time
}

func NewService(reader Reader, log logger.Logger) *Service {
	return &Service{
		reader: reader,
		logger: log,
		now:    time.Now,
	}
}

// View reads the whole sink and builds the plotted view.
func (s *Service) View(ctx context.Context) (View, error) {
	records, err := s.reader.ReadAll(ctx)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to read events from sink", "error", err)
		return View{}, ErrFetchEvents.WithCause(err)
	}
	view := BuildView(records, s.now())
	metrics.DashboardEventsPlotted.Set(float64(view.Total))
	return view, nil
}

// BuildView drops records without coordinates or magnitude and centres the
// map on the mean position of what remains.
func BuildView(records []models.PersistedRecord, now time.Time) View {
	view := View{
		Events:      make([]PlottedEvent, 0, len(records)),
		LastUpdated: now.Format(lastUpdatedLayout),
	}

	var latSum, lonSum float64
	for _, rec := range records {
		if rec.Latitude == nil || rec.Longitude == nil || rec.Mag == nil {
			continue
		}
		mag := *rec.Mag
		view.Events = append(view.Events, PlottedEvent{
			UNID:      rec.UNID,
			Time:      rec.Time.UTC().Format(models.RecordTimeLayout),
			Latitude:  *rec.Latitude,
			Longitude: *rec.Longitude,
			Magnitude: mag,
			Depth:     rec.Depth,
			Region:    rec.FlynnRegion,
			Color:     ColorFor(mag),
			Size:      MarkerSize(mag),
			HoverText: hoverText(rec),
		})
		latSum += *rec.Latitude
		lonSum += *rec.Longitude
	}

	view.Total = len(view.Events)
	if view.Total > 0 {
		view.Center = Center{
			Lat: latSum / float64(view.Total),
			Lon: lonSum / float64(view.Total),
		}
	}
	return view
}

// ColorFor buckets a magnitude into the marker colour scale.
func ColorFor(mag float64) string {
	switch {
	case mag < 3:
		return "yellow"
	case mag < 5:
		return "orange"
	case mag < 7:
		return "red"
	default:
		return "darkred"
	}
}

// MarkerSize scales with magnitude. Negative magnitudes still get a visible marker.
func MarkerSize(mag float64) float64 {
	size := mag * 5
	if size < 1 {
		return 1
	}
	return size
}

func hoverText(rec models.PersistedRecord) string {
	depth := "n/a"
	if rec.Depth != nil {
		depth = fmt.Sprintf("%.2f", *rec.Depth)
	}
	return fmt.Sprintf("<b>%s</b><br>Magnitude: %.2f<br>Depth: %s km<br>Time: %s<br>Coords: (%.2f, %.2f)",
		rec.FlynnRegion,
		*rec.Mag,
		depth,
		rec.Time.UTC().Format(models.RecordTimeLayout),
		*rec.Latitude,
		*rec.Longitude,
	)
}
