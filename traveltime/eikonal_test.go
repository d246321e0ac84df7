package traveltime_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/traveltime"
)

func TestEikonalTablePrepareSeedIsZero(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewEikonalTable(traveltime.DefaultEarthModel(), "P", 500)
	require.NoError(t, table.Prepare(octree, stations))
	require.Equal(t, []string{"P"}, table.AvailablePhases())

	st := stations.All()[0]
	tt, err := table.GetTravelTime("P", st.Location, st)
	require.NoError(t, err)
	require.InDelta(t, 0, tt, 0.5)
}

func TestEikonalTableTravelTimeIncreasesWithDistance(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewEikonalTable(traveltime.DefaultEarthModel(), "P", 500)
	require.NoError(t, table.Prepare(octree, stations))

	st := stations.All()[0]
	near, err := table.GetTravelTime("P", st.Location.Shifted(st.EastShift+500, st.NorthShift, 500), st)
	require.NoError(t, err)
	far, err := table.GetTravelTime("P", st.Location.Shifted(st.EastShift+4000, st.NorthShift, 500), st)
	require.NoError(t, err)
	require.Less(t, near, far)
}

func TestEikonalTableUnknownPhase(t *testing.T) {
	octree, stations := testOctreeAndStations(t)
	table := traveltime.NewEikonalTable(traveltime.DefaultEarthModel(), "P", 500)
	require.NoError(t, table.Prepare(octree, stations))

	_, err := table.GetTravelTime("S", octree.IterLeaves()[0].Location(), stations.All()[0])
	require.ErrorIs(t, err, traveltime.ErrUnknownPhase)
}

func TestEikonalTableBlacklistsOutOfBoundsStations(t *testing.T) {
	bounds := model.Bounds{Min: -1000, Max: 1000}
	depth := model.Bounds{Min: 0, Max: 2000}
	anchor := model.NewLocation(45, 10, 0)
	octree, err := model.NewOctree(bounds, bounds, depth, 500, 250, anchor)
	require.NoError(t, err)

	inBounds := model.Station{NSL: model.NSL{Network: "NL", Station: "A", Location: "00"}, Location: anchor.Shifted(100, 0, 0)}
	outOfBounds := model.Station{NSL: model.NSL{Network: "NL", Station: "B", Location: "00"}, Location: anchor.Shifted(50000, 0, 0)}
	stations := model.NewStations([]model.Station{inBounds, outOfBounds})
	require.Equal(t, 2, stations.Len())

	table := traveltime.NewEikonalTable(traveltime.DefaultEarthModel(), "P", 500)
	require.NoError(t, table.Prepare(octree, stations))

	require.Equal(t, 1, stations.Len())
	require.True(t, stations.IsBlacklisted(outOfBounds))
}

func TestEikonalTablePrepareNoStations(t *testing.T) {
	octree, _ := testOctreeAndStations(t)
	table := traveltime.NewEikonalTable(traveltime.DefaultEarthModel(), "P", 500)
	err := table.Prepare(octree, model.NewStations(nil))
	require.ErrorIs(t, err, traveltime.ErrNoData)
}
