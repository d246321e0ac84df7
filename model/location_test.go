package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
)

func TestLocationEffectiveDepth(t *testing.T) {
	loc := model.NewLocation(45, 10, 100).Shifted(0, 0, 500)
	require.InDelta(t, 400, loc.EffectiveDepth(), 1e-9)
}

func TestLocationDistanceToSelfIsZero(t *testing.T) {
	loc := model.NewLocation(45, 10, 0).Shifted(1000, -500, 200)
	require.InDelta(t, 0, loc.DistanceTo(loc), 1e-6)
}

func TestLocationSurfaceDistanceSharedAnchor(t *testing.T) {
	anchor := model.NewLocation(45, 10, 0)
	a := anchor.Shifted(0, 0, 0)
	b := anchor.Shifted(3000, 4000, 0)
	require.InDelta(t, 5000, a.SurfaceDistanceTo(b), 1e-6)
}

func TestLocationDistance3DIgnoresAnchor(t *testing.T) {
	anchor := model.NewLocation(45, 10, 0)
	a := anchor.Shifted(0, 0, 0)
	b := model.NewLocation(46, 11, 0).Shifted(3, 4, 0)
	require.InDelta(t, 5, a.Distance3D(b), 1e-9)
}

func TestLocationECEFDistanceGrowsWithOffset(t *testing.T) {
	anchor := model.NewLocation(45, 10, 0)
	near := anchor.Shifted(100, 0, 0)
	far := anchor.Shifted(100000, 0, 0)

	require.Less(t, anchor.DistanceTo(near), anchor.DistanceTo(far))
}
