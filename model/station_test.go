package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
)

func station(net, sta, loc string, east float64) model.Station {
	return model.Station{
		NSL:      model.NSL{Network: net, Station: sta, Location: loc},
		Location: model.NewLocation(45, 10, 0).Shifted(east, 0, 0),
	}
}

func TestStationsDropsDuplicatesAndZero(t *testing.T) {
	dup := station("NL", "A", "00", 100)
	stations := model.NewStations([]model.Station{
		dup, dup,
		{}, // all-zero, dropped
		station("NL", "B", "00", 200),
	})
	require.Equal(t, 2, stations.Len())
}

func TestStationsBlacklist(t *testing.T) {
	a := station("NL", "A", "00", 100)
	b := station("NL", "B", "00", 200)
	stations := model.NewStations([]model.Station{a, b})

	stations.Blacklist(a.NSL.String())
	require.Equal(t, 1, stations.Len())
	require.True(t, stations.IsBlacklisted(a))

	all := stations.All()
	require.Len(t, all, 1)
	require.Equal(t, b.NSL, all[0].NSL)
}

func TestStationsFind(t *testing.T) {
	a := station("NL", "A", "00", 100)
	stations := model.NewStations([]model.Station{a})

	found, ok := stations.Find(a.NSL)
	require.True(t, ok)
	require.True(t, found.Equal(a))

	_, ok = stations.Find(model.NSL{Network: "NL", Station: "Z", Location: "00"})
	require.False(t, ok)
}

func TestNSLString(t *testing.T) {
	n := model.NSL{Network: "NL", Station: "HGN", Location: "00"}
	require.Equal(t, "NL.HGN.00", n.String())
}
