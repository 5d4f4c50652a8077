// Package normalizer turns raw feed payloads into canonical seismic events.
// Everything here is pure: no I/O, no clocks, no globals that change.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"seismo/pkg/errors"
	"seismo/pkg/models"
)

// EventTimeLayout is the feed's timestamp format. The fractional part is mandatory.
const EventTimeLayout = "2006-01-02T15:04:05.999999Z"

var eventTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{1,6}Z$`)

type envelope struct {
	Action string `json:"action"`
	Data   *struct {
		ID         json.RawMessage `json:"id"`
		Properties *properties     `json:"properties"`
	} `json:"data"`
}

type properties struct {
	UNID        json.RawMessage `json:"unid"`
	Time        json.RawMessage `json:"time"`
	Mag         json.RawMessage `json:"mag"`
	FlynnRegion json.RawMessage `json:"flynn_region"`
	Lon         json.RawMessage `json:"lon"`
	Lat         json.RawMessage `json:"lat"`
	Depth       json.RawMessage `json:"depth"`
	Auth        json.RawMessage `json:"auth"`
}

// Normalize parses raw into a SeismicEvent. It fails with a PARSE_ERROR when
// the payload is not JSON, data.properties.unid or .time is missing, or the
// time does not match EventTimeLayout. Bad numeric fields become nil.
func Normalize(raw []byte) (models.SeismicEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.SeismicEvent{}, parseError("payload is not valid JSON", err)
	}
	if env.Data == nil || env.Data.Properties == nil {
		return models.SeismicEvent{}, parseError("missing data.properties", nil)
	}
	props := env.Data.Properties

	unid, ok := stringValue(props.UNID)
	if !ok || unid == "" {
		return models.SeismicEvent{}, parseError("missing data.properties.unid", nil)
	}

	rawTime, ok := stringValue(props.Time)
	if !ok || rawTime == "" {
		return models.SeismicEvent{}, parseError("missing data.properties.time", nil)
	}
	occurredAt, err := ParseEventTime(rawTime)
	if err != nil {
		return models.SeismicEvent{}, err
	}

	region, _ := stringValue(props.FlynnRegion)

	return models.SeismicEvent{
		Action:      models.ParseAction(env.Action),
		UNID:        unid,
		OccurredAt:  occurredAt,
		Magnitude:   numberValue(props.Mag),
		RegionLabel: region,
		Longitude:   numberValue(props.Lon),
		Latitude:    numberValue(props.Lat),
		DepthKm:     numberValue(props.Depth),
	}, nil
}

// ParseEventTime parses a feed timestamp and returns it in UTC.
func ParseEventTime(s string) (time.Time, error) {
	if !eventTimePattern.MatchString(s) {
		return time.Time{}, parseError(fmt.Sprintf("time %q does not match %s", s, EventTimeLayout), nil)
	}
	t, err := time.Parse(EventTimeLayout, s)
	if err != nil {
		return time.Time{}, parseError(fmt.Sprintf("time %q does not match %s", s, EventTimeLayout), err)
	}
	return t.UTC(), nil
}

// Summary is the subset of a payload the bridge logs and routes on. Unlike
// Normalize it never fails; missing fields are left empty.
type Summary struct {
	Action      string
	UNID        string
	ID          string
	Auth        string
	Time        string
	Mag         *float64
	FlynnRegion string
	Valid       bool
}

// Summarize extracts routing and logging fields from raw without validating it.
func Summarize(raw []byte) Summary {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Summary{}
	}
	s := Summary{Action: string(models.ParseAction(env.Action)), Valid: true}
	if env.Data == nil {
		return s
	}
	s.ID, _ = stringValue(env.Data.ID)
	if p := env.Data.Properties; p != nil {
		s.UNID, _ = stringValue(p.UNID)
		s.Auth, _ = stringValue(p.Auth)
		s.Time, _ = stringValue(p.Time)
		s.FlynnRegion, _ = stringValue(p.FlynnRegion)
		s.Mag = numberValue(p.Mag)
	}
	return s
}

func parseError(msg string, cause error) error {
	err := errors.ErrParse.WithDetail("message", msg)
	if cause != nil {
		return err.WithCause(cause)
	}
	return err
}

func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// numberValue accepts JSON numbers and numeric strings; anything else,
// including NaN and the infinities, is nil.
func numberValue(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var n json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		n = json.Number(s)
	} else if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ToRecord flattens ev into the durable sink row shape.
func ToRecord(ev models.SeismicEvent) models.PersistedRecord {
	return models.NewPersistedRecord(ev)
}
