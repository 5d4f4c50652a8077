package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seismo/pkg/models"
)

func sampleRecord(unid string) models.PersistedRecord {
	return models.PersistedRecord{
		UNID:        unid,
		Time:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Mag:         models.Float(4.2),
		FlynnRegion: "GREECE",
		Longitude:   models.Float(22.1),
		Latitude:    models.Float(38.5),
		Depth:       models.Float(10),
	}
}

func TestCSVSink_WritesHeaderOnceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seismic.csv")
	ctx := context.Background()

	s, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, sampleRecord("a")))
	require.NoError(t, s.Close())

	s, err = NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, sampleRecord("b")))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"unid,time,mag,flynn_region,longitude,latitude,depth\n"+
			"a,2024-01-01 00:00:00,4.2,GREECE,22.1,38.5,10.0\n"+
			"b,2024-01-01 00:00:00,4.2,GREECE,22.1,38.5,10.0\n",
		string(data))
}

func TestCSVSink_ReadAllPreservesOrderAndNulls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seismic.csv")
	ctx := context.Background()

	s, err := NewCSVSink(path)
	require.NoError(t, err)
	defer s.Close()

	partial := models.PersistedRecord{UNID: "p", Time: time.Date(2024, 2, 2, 3, 4, 5, 0, time.UTC), FlynnRegion: "SICILY, ITALY"}
	require.NoError(t, s.Append(ctx, sampleRecord("a")))
	require.NoError(t, s.Append(ctx, partial))
	require.NoError(t, s.Append(ctx, sampleRecord("a")))

	records, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].UNID)
	assert.Equal(t, partial, records[1])
	assert.Equal(t, "a", records[2].UNID, "duplicates are kept")
}

func TestCSVSink_RepairsTornLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seismic.csv")
	header := strings.Join(models.RecordColumns, ",") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(header+"a,2024-01-01 00:00:00,4.2,GREE"), 0o644))

	s, err := NewCSVSink(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Append(context.Background(), sampleRecord("b")))

	records, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].UNID)
}

func TestCSVSink_TornQuotedRowDoesNotSwallowLaterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seismic.csv")
	header := strings.Join(models.RecordColumns, ",") + "\n"
	complete := strings.Join(sampleRecord("a").Row(), ",") + "\n"
	torn := `b,2024-01-01 00:00:00,4.2,"NEAR COAST, CHI`
	require.NoError(t, os.WriteFile(path, []byte(header+complete+torn), 0o644))

	s, err := NewCSVSink(path)
	require.NoError(t, err)
	defer s.Close()
	for _, unid := range []string{"c", "d", "e"} {
		require.NoError(t, s.Append(context.Background(), sampleRecord(unid)))
	}

	records, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	var unids []string
	for _, rec := range records {
		unids = append(unids, rec.UNID)
	}
	assert.Equal(t, []string{"a", "c", "d", "e"}, unids)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "NEAR COAST")
}

func TestCSVSink_TornHeaderIsRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seismic.csv")
	require.NoError(t, os.WriteFile(path, []byte("unid,ti"), 0o644))

	s, err := NewCSVSink(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Append(context.Background(), sampleRecord("a")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(models.RecordColumns, ","), lines[0])
}

func TestCSVSink_ReadAllMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seismic.csv")
	s, err := NewCSVSink(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, os.Remove(path))

	records, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCSVSink_AppendHonoursCancelledContext(t *testing.T) {
	s, err := NewCSVSink(filepath.Join(t.TempDir(), "seismic.csv"))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Append(ctx, sampleRecord("a")), context.Canceled)
}
