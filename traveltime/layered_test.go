package traveltime_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/traveltime"
)

func testOctreeAndStations(t *testing.T) (*model.Octree, *model.Stations) {
	t.Helper()
	bounds := model.Bounds{Min: -5000, Max: 5000}
	depth := model.Bounds{Min: 0, Max: 10000}
	anchor := model.NewLocation(45, 10, 0)
	o, err := model.NewOctree(bounds, bounds, depth, 1000, 250, anchor)
	require.NoError(t, err)

	stations := model.NewStations([]model.Station{
		{NSL: model.NSL{Network: "NL", Station: "A", Location: "00"}, Location: anchor.Shifted(100, 0, 0)},
		{NSL: model.NSL{Network: "NL", Station: "B", Location: "00"}, Location: anchor.Shifted(-100, 200, 0)},
	})
	return o, stations
}

func TestLayeredTablePrepareAndGetTravelTimes(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewLayeredTable(traveltime.DefaultEarthModel(), []string{"P", "S"})

	require.NoError(t, table.Prepare(octree, stations))
	require.ElementsMatch(t, []string{"P", "S"}, table.AvailablePhases())

	times, err := table.GetTravelTimes("P", octree, stations)
	require.NoError(t, err)
	require.Len(t, times, octree.LeafCount()*stations.Len())
	for _, tt := range times {
		require.Greater(t, tt, 0.0)
	}
}

func TestLayeredTableZeroDistanceIsZeroTime(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewLayeredTable(traveltime.DefaultEarthModel(), []string{"P"})
	require.NoError(t, table.Prepare(octree, stations))

	st := stations.All()[0]
	tt, err := table.GetTravelTime("P", st.Location, st)
	require.NoError(t, err)
	require.InDelta(t, 0, tt, 1e-3)
}

func TestLayeredTableTravelTimeIncreasesWithDistance(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewLayeredTable(traveltime.DefaultEarthModel(), []string{"P"})
	require.NoError(t, table.Prepare(octree, stations))

	st := stations.All()[0]
	near, err := table.GetTravelTime("P", st.Location.Shifted(50, 0, 500), st)
	require.NoError(t, err)
	far, err := table.GetTravelTime("P", st.Location.Shifted(4000, 0, 500), st)
	require.NoError(t, err)
	require.Less(t, near, far)
}

func TestLayeredTableUnknownPhase(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewLayeredTable(traveltime.DefaultEarthModel(), []string{"P"})
	require.NoError(t, table.Prepare(octree, stations))

	_, err := table.GetTravelTimes("S", octree, stations)
	require.ErrorIs(t, err, traveltime.ErrUnknownPhase)
}

func TestLayeredTableGetArrivalsOffsetsByOrigin(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewLayeredTable(traveltime.DefaultEarthModel(), []string{"P"})
	require.NoError(t, table.Prepare(octree, stations))

	source := octree.IterLeaves()[0].Location()
	arrivals, err := table.GetArrivals("P", 100.0, source, stations.All())
	require.NoError(t, err)
	require.Len(t, arrivals, stations.Len())
	for _, a := range arrivals {
		require.NotNil(t, a)
		require.Greater(t, a.Time, 100.0)
	}
}

func TestLayeredTablePrepareNoStations(t *testing.T) {
	octree, _ := testOctreeAndStations(t)
	table := traveltime.NewLayeredTable(traveltime.DefaultEarthModel(), []string{"P"})
	err := table.Prepare(octree, model.NewStations(nil))
	require.ErrorIs(t, err, traveltime.ErrNoData)
}

func TestEarthModelHashStable(t *testing.T) {
	m1 := traveltime.DefaultEarthModel()
	m2 := traveltime.DefaultEarthModel()
	require.Equal(t, m1.Hash(), m2.Hash())

	m2.Layers[0].Vp += 1
	require.NotEqual(t, m1.Hash(), m2.Hash())
}

func TestLayeredTableSaveLoadRoundTrips(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewLayeredTable(traveltime.DefaultEarthModel(), []string{"P"})
	require.NoError(t, table.Prepare(octree, stations))

	dir := t.TempDir()
	path, err := table.Save(dir, "cake:P", "P")
	require.NoError(t, err)

	loaded, phase, err := traveltime.LoadLayeredTable(path)
	require.NoError(t, err)
	require.Equal(t, "P", phase)
	require.Equal(t, table.Model.Hash(), loaded.Model.Hash())

	st := stations.All()[0]
	want, err := table.GetTravelTime("P", st.Location, st)
	require.NoError(t, err)
	got, err := loaded.GetTravelTime("P", st.Location, st)
	require.NoError(t, err)
	require.InDelta(t, want, got, 1e-6)
}
