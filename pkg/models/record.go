package models

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// RecordTimeLayout is how PersistedRecord.Time is rendered in tabular sinks.
const RecordTimeLayout = "2006-01-02 15:04:05"

// RecordColumns is the fixed column order of the durable sink.
var RecordColumns = []string{"unid", "time", "mag", "flynn_region", "longitude", "latitude", "depth"}

// PersistedRecord is one flattened row appended to the durable sink.
type PersistedRecord struct {
	UNID        string    `json:"unid" bson:"unid"`
	Time        time.Time `json:"time" bson:"time"`
	Mag         *float64  `json:"mag" bson:"mag"`
	FlynnRegion string    `json:"flynn_region" bson:"flynn_region"`
	Longitude   *float64  `json:"longitude" bson:"longitude"`
	Latitude    *float64  `json:"latitude" bson:"latitude"`
	Depth       *float64  `json:"depth" bson:"depth"`
}

func NewPersistedRecord(ev SeismicEvent) PersistedRecord {
	return PersistedRecord{
		UNID:        ev.UNID,
		Time:        ev.OccurredAt.UTC().Truncate(time.Second),
		Mag:         ev.Magnitude,
		FlynnRegion: ev.RegionLabel,
		Longitude:   ev.Longitude,
		Latitude:    ev.Latitude,
		Depth:       ev.DepthKm,
	}
}

// Row renders the record in RecordColumns order. Null numbers become empty cells.
func (r PersistedRecord) Row() []string {
	return []string{
		r.UNID,
		r.Time.UTC().Format(RecordTimeLayout),
		FormatFloat(r.Mag),
		r.FlynnRegion,
		FormatFloat(r.Longitude),
		FormatFloat(r.Latitude),
		FormatFloat(r.Depth),
	}
}

// FormatFloat keeps one decimal place for whole numbers, so 10 is written as "10.0".
func FormatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	if !math.IsInf(*v, 0) && *v == math.Trunc(*v) {
		return strconv.FormatFloat(*v, 'f', 1, 64)
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// ParseFloat is the inverse of FormatFloat; empty, unparseable or non-finite
// cells yield nil.
func ParseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func Float(v float64) *float64 {
	return &v
}

// ParseRow is the inverse of Row. Only the unid and time cells are required.
func ParseRow(row []string) (PersistedRecord, error) {
	if len(row) != len(RecordColumns) {
		return PersistedRecord{}, fmt.Errorf("expected %d columns, got %d", len(RecordColumns), len(row))
	}
	if row[0] == "" {
		return PersistedRecord{}, fmt.Errorf("empty unid")
	}
	t, err := time.ParseInLocation(RecordTimeLayout, row[1], time.UTC)
	if err != nil {
		return PersistedRecord{}, fmt.Errorf("invalid time %q: %w", row[1], err)
	}
	return PersistedRecord{
		UNID:        row[0],
		Time:        t,
		Mag:         ParseFloat(row[2]),
		FlynnRegion: row[3],
		Longitude:   ParseFloat(row[4]),
		Latitude:    ParseFloat(row[5]),
		Depth:       ParseFloat(row[6]),
	}, nil
}
