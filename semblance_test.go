package qseek

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSemblanceNUnpaddedIgnoresPadding(t *testing.T) {
	s := NewSemblance(4, 0, 100, 2.0, 0.5)
	require.Equal(t, 200, s.NUnpadded())
	require.Equal(t, 50, s.PaddingSamples)
	require.Equal(t, 300, s.NSamplesTotal)
}

func TestSemblanceSetRowAndCloneRowRoundTrip(t *testing.T) {
	s := NewSemblance(2, 0, 10, 1.0, 0)
	row := s.CloneRow(0)
	for i := range row {
		row[i] = float64(i)
	}
	s.SetRow(0, row)
	require.Equal(t, row, s.Row(0))

	clone := s.CloneRow(0)
	clone[0] = 99
	require.NotEqual(t, clone[0], s.Row(0)[0])
}

func TestSemblanceNormalizeDividesByWeight(t *testing.T) {
	s := NewSemblance(1, 0, 10, 1.0, 0)
	for i := range s.rows[0] {
		s.rows[0][i] = 4
	}
	s.Normalize(2)
	for _, v := range s.rows[0] {
		require.InDelta(t, 2, v, 1e-9)
	}
}

func TestSemblanceNormalizeZeroWeightIsNoop(t *testing.T) {
	s := NewSemblance(1, 0, 10, 1.0, 0)
	s.rows[0][0] = 4
	s.Normalize(0)
	require.Equal(t, 4.0, s.rows[0][0])
}

func TestSemblanceMaxTraceAndArgmaxNode(t *testing.T) {
	s := NewSemblance(2, 0, 10, 1.0, 0)
	s.rows[0][5] = 0.5
	s.rows[1][5] = 0.9

	max := s.MaxTrace()
	require.InDelta(t, 0.9, max[5], 1e-9)
	require.Equal(t, 1, s.ArgmaxNode(5))
}

func TestFindPeaksRespectsThresholdAndMinDistance(t *testing.T) {
	trace := make([]float64, 20)
	trace[5] = 0.9
	trace[6] = 0.8 // too close to 5, should be suppressed
	trace[15] = 0.6

	peaks := FindPeaks(trace, 0.5, 4)
	require.Len(t, peaks, 2)
	require.Equal(t, 5, peaks[0].Index)
	require.Equal(t, 15, peaks[1].Index)
}

func TestFindPeaksKeepsStrongerOfTwoCloseSources(t *testing.T) {
	trace := make([]float64, 20)
	trace[5] = 0.95
	trace[7] = 0.99

	peaks := FindPeaks(trace, 0.5, 5)
	require.Len(t, peaks, 1)
	require.Equal(t, 7, peaks[0].Index)
}

func TestFindPeaksBelowThresholdIsEmpty(t *testing.T) {
	trace := []float64{0.1, 0.2, 0.1}
	require.Empty(t, FindPeaks(trace, 0.5, 1))
}

func TestSemblanceCacheGetPut(t *testing.T) {
	c := newSemblanceCache()
	_, ok := c.get(42)
	require.False(t, ok)

	c.put(42, []float64{1, 2, 3})
	row, ok := c.get(42)
	require.True(t, ok)
	require.Equal(t, []float64{1, 2, 3}, row)
}
