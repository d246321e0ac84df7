package qseek

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/traveltime"
)

// zeroTimeTable is a stub Table with zero travel time everywhere, so
// StackMigrate's shift/offset arithmetic collapses to a plain sum and the
// kernel's output is exactly predictable.
type zeroTimeTable struct {
	nNodes, nStations int
}

func (z *zeroTimeTable) Prepare(*model.Octree, *model.Stations) error { return nil }
func (z *zeroTimeTable) AvailablePhases() []string                    { return []string{"P"} }

func (z *zeroTimeTable) GetTravelTimes(phase string, octree *model.Octree, stations *model.Stations) ([]float64, error) {
	out := make([]float64, len(octree.IterLeaves())*stations.Len())
	return out, nil
}

func (z *zeroTimeTable) GetTravelTime(string, model.Location, model.Station) (float64, error) {
	return 0, nil
}

func (z *zeroTimeTable) GetArrivals(phase string, t0 float64, source model.Location, receivers []model.Station) ([]*traveltime.Arrival, error) {
	out := make([]*traveltime.Arrival, len(receivers))
	for i, r := range receivers {
		out[i] = &traveltime.Arrival{Phase: phase, NSL: r.NSL, Time: t0}
	}
	return out, nil
}

func TestStackMigrateSumsWeightedTraces(t *testing.T) {
	bounds := model.Bounds{Min: -1000, Max: 1000}
	depth := model.Bounds{Min: 0, Max: 2000}
	anchor := model.NewLocation(45, 10, 0)
	octree, err := model.NewOctree(bounds, bounds, depth, 1000, 250, anchor)
	require.NoError(t, err)

	nsl := model.NSL{Network: "NL", Station: "A", Location: "00"}
	stations := model.NewStations([]model.Station{
		{NSL: nsl, Location: anchor.Shifted(100, 0, 0)},
	})

	sem := NewSemblance(octree.LeafCount(), 0, 10, 1.0, 0)
	data := make([]float64, 10)
	for i := range data {
		data[i] = 1.0
	}
	img := Image{
		Phase:  "P",
		Weight: 2.0,
		Stations: []StationImage{
			{NSL: nsl, Start: 0, SamplingRate: 10, Data: data},
		},
	}

	w, err := StackMigrate(context.Background(), sem, octree, stations, &zeroTimeTable{}, img, 0, nil, 1, nil)
	require.NoError(t, err)
	require.Equal(t, 2.0, w)

	for i := 0; i < sem.NNodes(); i++ {
		row := sem.Row(i)
		for _, v := range row {
			require.InDelta(t, 2.0, v, 1e-9) // weight/1-station * 1.0 data
		}
	}
}

func TestStackMigrateSkipsCachedNodes(t *testing.T) {
	bounds := model.Bounds{Min: -1000, Max: 1000}
	depth := model.Bounds{Min: 0, Max: 2000}
	anchor := model.NewLocation(45, 10, 0)
	octree, err := model.NewOctree(bounds, bounds, depth, 1000, 250, anchor)
	require.NoError(t, err)

	nsl := model.NSL{Network: "NL", Station: "A", Location: "00"}
	stations := model.NewStations([]model.Station{
		{NSL: nsl, Location: anchor.Shifted(100, 0, 0)},
	})

	sem := NewSemblance(octree.LeafCount(), 0, 10, 1.0, 0)
	data := make([]float64, 10)
	for i := range data {
		data[i] = 1.0
	}
	img := Image{
		Phase:  "P",
		Weight: 2.0,
		Stations: []StationImage{
			{NSL: nsl, Start: 0, SamplingRate: 10, Data: data},
		},
	}

	skip := make(map[uint64]bool)
	for _, leaf := range octree.IterLeaves() {
		skip[leaf.Hash()] = true
	}

	_, err = StackMigrate(context.Background(), sem, octree, stations, &zeroTimeTable{}, img, 0, nil, 1, skip)
	require.NoError(t, err)

	for i := 0; i < sem.NNodes(); i++ {
		for _, v := range sem.Row(i) {
			require.Zero(t, v)
		}
	}
}
