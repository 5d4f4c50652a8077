package normalizer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seismo/pkg/errors"
	"seismo/pkg/models"
)

const sampleEvent = `{"action":"create","data":{"properties":{"unid":"20250101_1","time":"2025-01-01T00:00:00.0Z","mag":4.5,"flynn_region":"Test Region","lon":10.0,"lat":20.0,"depth":5.0}}}`

func TestNormalize_WellFormed(t *testing.T) {
	ev, err := Normalize([]byte(sampleEvent))
	require.NoError(t, err)

	assert.Equal(t, models.ActionCreate, ev.Action)
	assert.Equal(t, "20250101_1", ev.UNID)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), ev.OccurredAt)
	assert.Equal(t, time.UTC, ev.OccurredAt.Location())
	assert.Equal(t, models.Float(4.5), ev.Magnitude)
	assert.Equal(t, "Test Region", ev.RegionLabel)
	assert.Equal(t, models.Float(10.0), ev.Longitude)
	assert.Equal(t, models.Float(20.0), ev.Latitude)
	assert.Equal(t, models.Float(5.0), ev.DepthKm)
}

func TestNormalize_RecordMatchesExpectedRow(t *testing.T) {
	ev, err := Normalize([]byte(sampleEvent))
	require.NoError(t, err)

	row := models.NewPersistedRecord(ev).Row()
	assert.Equal(t, []string{"20250101_1", "2025-01-01 00:00:00", "4.5", "Test Region", "10.0", "20.0", "5.0"}, row)
}

func TestNormalize_Deterministic(t *testing.T) {
	first, err := Normalize([]byte(sampleEvent))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Normalize([]byte(sampleEvent))
		require.NoError(t, err)

		a, _ := json.Marshal(first)
		b, _ := json.Marshal(again)
		assert.Equal(t, a, b)
	}
}

func TestNormalize_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `not json at all`},
		{name: "truncated json", payload: `{"action":"create","data":{`},
		{name: "no data", payload: `{"action":"create"}`},
		{name: "no properties", payload: `{"action":"create","data":{}}`},
		{name: "missing unid", payload: `{"action":"create","data":{"properties":{"time":"2025-01-01T00:00:00.0Z"}}}`},
		{name: "empty unid", payload: `{"action":"create","data":{"properties":{"unid":"","time":"2025-01-01T00:00:00.0Z"}}}`},
		{name: "missing time", payload: `{"action":"create","data":{"properties":{"unid":"x"}}}`},
		{name: "time without fraction", payload: `{"data":{"properties":{"unid":"x","time":"2025-01-01T00:00:00Z"}}}`},
		{name: "time with offset", payload: `{"data":{"properties":{"unid":"x","time":"2025-01-01T00:00:00.0+01:00"}}}`},
		{name: "date only", payload: `{"data":{"properties":{"unid":"x","time":"2025-01-01"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.IsParse(err), "expected PARSE_ERROR, got %v", err)
		})
	}
}

func TestNormalize_PartialNumericData(t *testing.T) {
	payload := `{"action":"update","data":{"properties":{"unid":"u1","time":"2025-03-04T05:06:07.123456Z","mag":"n/a","lon":"12.5","lat":null,"flynn_region":"Somewhere"}}}`

	ev, err := Normalize([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, models.ActionUpdate, ev.Action)
	assert.Nil(t, ev.Magnitude)
	assert.Equal(t, models.Float(12.5), ev.Longitude)
	assert.Nil(t, ev.Latitude)
	assert.Nil(t, ev.DepthKm)
	assert.Equal(t, 123456000, ev.OccurredAt.Nanosecond())
}

func TestNormalize_NonFiniteNumbersAreNull(t *testing.T) {
	payload := `{"action":"create","data":{"properties":{"unid":"x","time":"2025-03-04T05:06:07.1Z","mag":"NaN","depth":"Infinity","lon":"-Inf","lat":1e400}}}`

	ev, err := Normalize([]byte(payload))
	require.NoError(t, err)

	assert.Nil(t, ev.Magnitude)
	assert.Nil(t, ev.DepthKm)
	assert.Nil(t, ev.Longitude)
	assert.Nil(t, ev.Latitude)
	assert.Equal(t, []string{"x", "2025-03-04 05:06:07", "", "", "", "", ""}, ToRecord(ev).Row())
}

func TestNormalize_UnknownAction(t *testing.T) {
	payload := `{"action":"refresh","data":{"properties":{"unid":"u1","time":"2025-03-04T05:06:07.1Z"}}}`

	ev, err := Normalize([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, models.ActionUnknown, ev.Action)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]byte(`{"action":"delete","data":{"id":"abc","properties":{"unid":"u9","auth":"EMSC","mag":2.1}}}`))

	assert.True(t, s.Valid)
	assert.Equal(t, "delete", s.Action)
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, "u9", s.UNID)
	assert.Equal(t, "EMSC", s.Auth)
	assert.Equal(t, models.Float(2.1), s.Mag)

	assert.False(t, Summarize([]byte("{")).Valid)
}
