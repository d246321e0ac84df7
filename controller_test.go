package qseek

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/traveltime"
)

func TestEmptyBatchAllNaN(t *testing.T) {
	b := Batch{Traces: []Trace{{Data: []float64{math.NaN(), math.NaN()}}}}
	require.True(t, emptyBatch(b))
}

func TestEmptyBatchWithFiniteSample(t *testing.T) {
	b := Batch{Traces: []Trace{{Data: []float64{math.NaN(), 1.0}}}}
	require.False(t, emptyBatch(b))
}

func TestEmptyBatchNoTraces(t *testing.T) {
	require.True(t, emptyBatch(Batch{}))
}

func TestTimeSecondsRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sec := timeToSeconds(now)
	back := secondsToTime(sec)
	require.WithinDuration(t, now, back, time.Millisecond)
}

func TestTimeToSecondsZeroTime(t *testing.T) {
	require.Equal(t, 0.0, timeToSeconds(time.Time{}))
}

func TestSearchPrepareDerivesWindowPadding(t *testing.T) {
	bounds := model.Bounds{Min: -1000, Max: 1000}
	depth := model.Bounds{Min: 0, Max: 2000}
	anchor := model.NewLocation(45, 10, 0)
	octree, err := model.NewOctree(bounds, bounds, depth, 1000, 250, anchor)
	require.NoError(t, err)

	stations := model.NewStations([]model.Station{
		{NSL: model.NSL{Network: "NL", Station: "A", Location: "00"}, Location: anchor.Shifted(100, 0, 0)},
	})

	cfg := DefaultConfiguration()
	cfg.RayTracers = []TaggedKind{{Kind: "cake:P"}}
	cfg.WindowLength = 600

	tables := map[string]traveltime.Table{"cake:P": &zeroTimeTable{}}
	search := NewSearch(cfg, octree, stations, tables, nil, nil, nil, nil, nil)
	err = search.Prepare(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, search.Config.WindowPadding, cfg.DetectionBlinding)
}
