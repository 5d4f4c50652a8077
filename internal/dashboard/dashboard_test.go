package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seismo/internal/logger"
	"seismo/pkg/models"
)

type fakeReader struct {
	records []models.PersistedRecord
	err     error
}

func (f *fakeReader) ReadAll(ctx context.Context) ([]models.PersistedRecord, error) {
	return f.records, f.err
}

func record(unid string, lat, lon, mag *float64) models.PersistedRecord {
	return models.PersistedRecord{
		UNID:        unid,
		Time:        time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		Mag:         mag,
		FlynnRegion: "CENTRAL ITALY",
		Latitude:    lat,
		Longitude:   lon,
		Depth:       models.Float(10),
	}
}

func TestColorFor(t *testing.T) {
	tests := []struct {
		mag  float64
		want string
	}{
		{-0.5, "yellow"},
		{2.99, "yellow"},
		{3, "orange"},
		{4.9, "orange"},
		{5, "red"},
		{6.99, "red"},
		{7, "darkred"},
		{9.1, "darkred"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ColorFor(tt.mag), "mag %v", tt.mag)
	}
}

func TestMarkerSize(t *testing.T) {
	assert.Equal(t, 25.0, MarkerSize(5))
	assert.Equal(t, 1.0, MarkerSize(-1.2))
}

func TestBuildView_DropsIncompleteRecordsAndCentres(t *testing.T) {
	now := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	records := []models.PersistedRecord{
		record("a", models.Float(40), models.Float(10), models.Float(3.5)),
		record("b", nil, models.Float(10), models.Float(2)),
		record("c", models.Float(42), models.Float(14), models.Float(6.1)),
		record("d", models.Float(41), models.Float(12), nil),
	}

	view := BuildView(records, now)

	require.Len(t, view.Events, 2)
	assert.Equal(t, 2, view.Total)
	assert.Equal(t, "a", view.Events[0].UNID)
	assert.Equal(t, "c", view.Events[1].UNID)
	assert.InDelta(t, 41.0, view.Center.Lat, 1e-9)
	assert.InDelta(t, 12.0, view.Center.Lon, 1e-9)
	assert.Equal(t, "2024-05-01 13:00:00", view.LastUpdated)
	assert.Equal(t, "orange", view.Events[0].Color)
	assert.Equal(t, 17.5, view.Events[0].Size)
	assert.Equal(t,
		"<b>CENTRAL ITALY</b><br>Magnitude: 3.50<br>Depth: 10.00 km<br>Time: 2024-05-01 12:30:00<br>Coords: (40.00, 10.00)",
		view.Events[0].HoverText)
}

func TestBuildView_EmptyCentresOnOrigin(t *testing.T) {
	view := BuildView(nil, time.Now())

	assert.Equal(t, 0, view.Total)
	assert.Empty(t, view.Events)
	assert.Equal(t, Center{}, view.Center)
}

func newRouter(reader Reader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	log := logger.NopLogger()
	NewHandler(NewService(reader, log), 5*time.Second, log).RegisterRoutes(router)
	return router
}

func TestHandler_ListEvents(t *testing.T) {
	router := newRouter(&fakeReader{records: []models.PersistedRecord{
		record("a", models.Float(40), models.Float(10), models.Float(7.2)),
	}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var view View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 1, view.Total)
	assert.Equal(t, "darkred", view.Events[0].Color)
}

func TestHandler_ListEventsSinkFailure(t *testing.T) {
	router := newRouter(&fakeReader{err: errors.New("connection refused")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Unable to fetch events", body["error"])
	assert.Equal(t, "EVENTS_UNAVAILABLE", body["error_code"])
}

func TestHandler_Index(t *testing.T) {
	router := newRouter(&fakeReader{records: []models.PersistedRecord{
		record("a", models.Float(40), models.Float(10), models.Float(4)),
	}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Total Events: 1")
	assert.Contains(t, w.Body.String(), `content="5"`)
}

func TestHandler_IndexSinkFailure(t *testing.T) {
	router := newRouter(&fakeReader{err: errors.New("boom")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Unable to fetch events")
}
