package qseek

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
)

func TestDetectionStoreAppendAssignsIDs(t *testing.T) {
	store := NewDetectionStore()
	stored := store.Append([]model.Detection{{Time: 1}, {Time: 2}})

	require.Len(t, stored, 2)
	require.NotEmpty(t, stored[0].ID)
	require.NotEqual(t, stored[0].ID, stored[1].ID)
	require.Equal(t, 2, store.Len())
}

func TestDetectionStoreAllReturnsEmissionOrder(t *testing.T) {
	store := NewDetectionStore()
	store.Append([]model.Detection{{Time: 1}})
	store.Append([]model.Detection{{Time: 2}})

	all := store.All()
	require.Len(t, all, 2)
	require.Equal(t, 1.0, all[0].Detection.Time)
	require.Equal(t, 2.0, all[1].Detection.Time)
}

func TestDetectionStoreAppendSemblance(t *testing.T) {
	store := NewDetectionStore()
	store.AppendSemblance(0, 100, []float64{0.1, 0.2})
	require.Len(t, store.semblance, 1)
	require.Equal(t, 100.0, store.semblance[0].SamplingRate)
}
