package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
)

func TestComputeUncertaintyBoundsLeavesAbovePeak(t *testing.T) {
	bounds := model.Bounds{Min: -10000, Max: 10000}
	depth := model.Bounds{Min: 0, Max: 20000}
	o, err := model.NewOctree(bounds, bounds, depth, 2000, 250, model.NewLocation(45, 10, 0))
	require.NoError(t, err)

	leaves := o.IterLeaves()
	var peak *model.Node
	for _, l := range leaves {
		if l.East == 1000 && l.North == 1000 && l.Depth == 1000 {
			peak = l
		}
	}
	require.NotNil(t, peak)
	peak.Semblance = 1.0

	for _, l := range leaves {
		if l == peak {
			continue
		}
		d := l.East
		if d < 0 {
			d = -d
		}
		if d < 3000 {
			l.Semblance = 0.8 // above uncertaintyEFold(1.0) = 0.6065
		}
	}

	u := model.ComputeUncertainty(o, peak)
	require.LessOrEqual(t, u.East.Lo, 0.0)
	require.GreaterOrEqual(t, u.East.Hi, 0.0)
}

func TestNewDetectionRealizesPeakLocation(t *testing.T) {
	bounds := model.Bounds{Min: -10000, Max: 10000}
	depth := model.Bounds{Min: 0, Max: 20000}
	o, err := model.NewOctree(bounds, bounds, depth, 2000, 250, model.NewLocation(45, 10, 0))
	require.NoError(t, err)

	peak := o.IterLeaves()[0]
	peak.Semblance = 0.5

	det := model.NewDetection(o, peak, 60.0, 5)
	require.Equal(t, 60.0, det.Time)
	require.Equal(t, 0.5, det.Semblance)
	require.Equal(t, peak.Location(), det.Location)
}
