package qseek

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/traveltime"
)

// TestFrameEngineStopsRefiningAtSizeLimit guards §8 S2: once every
// refinement candidate already sits at size_limit, the engine must emit a
// detection instead of recursing forever.
func TestFrameEngineStopsRefiningAtSizeLimit(t *testing.T) {
	bounds := model.Bounds{Min: -500, Max: 500}
	depth := model.Bounds{Min: 0, Max: 1000}
	anchor := model.NewLocation(45, 10, 0)
	// root_size == size_limit: split() always fails immediately.
	octree, err := model.NewOctree(bounds, bounds, depth, 1000, 1000, anchor)
	require.NoError(t, err)
	require.Equal(t, 1, octree.LeafCount())

	nsl := model.NSL{Network: "NL", Station: "A", Location: "00"}
	stations := model.NewStations([]model.Station{
		{NSL: nsl, Location: anchor.Shifted(0, 0, 0)},
	})

	cfg := DefaultConfiguration()
	cfg.SamplingRate = 10
	cfg.DetectionThreshold = 0.1
	cfg.NodeSplitThreshold = 0.5
	cfg.DetectionBlinding = 0.2

	data := make([]float64, 20)
	data[10] = 1.0
	img := Image{
		Phase:  "P",
		Weight: 1.0,
		Stations: []StationImage{
			{NSL: nsl, Start: 0, SamplingRate: 10, Data: data},
		},
	}

	search := &Search{
		Config:   cfg,
		Octree:   octree,
		Stations: stations,
		Tables:   map[string]traveltime.Table{"P": &zeroTimeTable{}},
		Weights:  nil,
	}

	frame := newFrameEngine(search, WaveformImages{Images: []Image{img}}, 0, 2)
	detections, maxTrace, err := frame.run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, maxTrace)
	require.Len(t, detections, 1)
	require.Greater(t, detections[0].Semblance, cfg.DetectionThreshold)
}
