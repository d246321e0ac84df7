package qseek

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatsUpdateAccumulates(t *testing.T) {
	s := NewStats(4)
	s.Update(100*time.Millisecond, 60, 0, 2)
	s.Update(100*time.Millisecond, 120, 0, 0)

	snap := s.Snapshot()
	require.Equal(t, 2, snap.WindowsProcessed)
	require.Equal(t, 2, snap.DetectionsTotal)
	require.Equal(t, 120.0, snap.TimeProgress)
	require.Greater(t, snap.WindowsPerSecond, 0.0)
}

func TestStatsRecordEmptyAndShortBatch(t *testing.T) {
	s := NewStats(4)
	s.RecordEmptyBatch()
	s.RecordShortBatch()
	s.RecordShortBatch()

	snap := s.Snapshot()
	require.Equal(t, 1, snap.BatchesEmpty)
	require.Equal(t, 2, snap.BatchesShort)
}

func TestStatsQueueDepthDrivesStarved(t *testing.T) {
	s := NewStats(4)
	s.SetQueueDepth(0)
	require.True(t, s.Snapshot().Starved)

	s.SetQueueDepth(2)
	snap := s.Snapshot()
	require.False(t, snap.Starved)
	require.Equal(t, 2, snap.QueueDepth)
	require.Equal(t, 4, snap.QueueCapacity)
}
