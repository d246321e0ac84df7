package qseek

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
)

func TestStationWeightsDecayMonotonic(t *testing.T) {
	sw := NewStationWeights(1000, 2, 1<<20)
	require.Equal(t, 1.0, sw.decay(0))
	require.Greater(t, sw.decay(100), sw.decay(1000))
	require.Greater(t, sw.decay(1000), sw.decay(10000))
	require.InDelta(t, 0, sw.decay(1e9), 1e-6)
}

func TestStationWeightsZeroRadiusIsUnweighted(t *testing.T) {
	sw := NewStationWeights(0, 2, 1<<20)
	require.Equal(t, 1.0, sw.decay(5000))
}

func TestStationWeightsCachesByNodeHash(t *testing.T) {
	sw := NewStationWeights(1000, 2, 1<<20)
	anchor := model.NewLocation(45, 10, 0)
	stations := []model.Station{
		{NSL: model.NSL{Network: "NL", Station: "A", Location: "00"}, Location: anchor.Shifted(500, 0, 0)},
	}

	w1 := sw.Weights(1, anchor, stations)
	w2 := sw.Weights(1, anchor.Shifted(9999, 0, 0), stations) // same hash, must hit cache
	require.Same(t, &w1[0], &w2[0])
}

func TestStationWeightsBatchComputesMissingOnly(t *testing.T) {
	sw := NewStationWeights(1000, 2, 1<<20)
	anchor := model.NewLocation(45, 10, 0)
	stations := []model.Station{
		{NSL: model.NSL{Network: "NL", Station: "A", Location: "00"}, Location: anchor.Shifted(500, 0, 0)},
	}

	sw.Weights(7, anchor, stations)
	out := sw.WeightsBatch([]uint64{7, 8}, []model.Location{anchor, anchor.Shifted(100, 0, 0)}, stations)
	require.Len(t, out, 2)
	require.NotNil(t, out[0])
	require.NotNil(t, out[1])
}

func TestHashCoordsDeterministic(t *testing.T) {
	require.Equal(t, hashCoords(1, 2, 3), hashCoords(1, 2, 3))
	require.NotEqual(t, hashCoords(1, 2, 3), hashCoords(1, 2, 4))
}
