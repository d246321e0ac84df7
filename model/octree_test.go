package model_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
)

func testOctree(t *testing.T) *model.Octree {
	t.Helper()
	bounds := model.Bounds{Min: -10000, Max: 10000}
	depth := model.Bounds{Min: 0, Max: 20000}
	anchor := model.NewLocation(45.0, 10.0, 0)
	o, err := model.NewOctree(bounds, bounds, depth, 2000, 250, anchor)
	require.NoError(t, err)
	return o
}

func TestOctreeRootLattice(t *testing.T) {
	o := testOctree(t)
	require.Equal(t, 10*10*10, o.RootCount())
	require.Equal(t, o.RootCount(), o.LeafCount())
}

func TestOctreeResetRestoresLeafCount(t *testing.T) {
	o := testOctree(t)
	leaves := o.IterLeaves()
	require.NoError(t, o.Split(leaves[0]))
	require.Equal(t, o.RootCount()-1+8, o.LeafCount())

	o.Reset()
	require.Equal(t, o.RootCount(), o.LeafCount())
	for _, leaf := range o.IterLeaves() {
		require.Zero(t, leaf.Semblance)
	}
}

func TestOctreeSplitMemoizesChildren(t *testing.T) {
	o := testOctree(t)
	leaves := o.IterLeaves()
	node := leaves[0]

	require.NoError(t, o.Split(node))
	first := node.Children()

	o.Reset()
	require.NoError(t, o.Split(node))
	second := node.Children()

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Same(t, first[i], second[i])
	}
}

func TestOctreeSplitBelowSizeLimitFails(t *testing.T) {
	o := testOctree(t)
	leaves := o.IterLeaves()
	node := leaves[0]

	// 2000 -> 1000 -> 500 -> 250: three splits reach size_limit, the
	// fourth must fail.
	for i := 0; i < 3; i++ {
		require.NoError(t, o.Split(node))
		node = node.Children()[0]
	}
	require.ErrorIs(t, o.Split(node), model.ErrNodeSplit)
}

func TestOctreeChildCentersTileParent(t *testing.T) {
	o := testOctree(t)
	node := o.IterLeaves()[0]
	require.NoError(t, o.Split(node))

	quarter := node.Size / 4
	for _, c := range node.Children() {
		require.InDelta(t, quarter, math.Abs(c.East-node.East), 1e-9)
		require.InDelta(t, quarter, math.Abs(c.North-node.North), 1e-9)
		require.InDelta(t, quarter, math.Abs(c.Depth-node.Depth), 1e-9)
		require.InDelta(t, node.Size/2, c.Size, 1e-9)
	}
}

func TestOctreeMapSemblanceLengthMismatch(t *testing.T) {
	o := testOctree(t)
	err := o.MapSemblance(make([]float64, o.LeafCount()-1))
	require.ErrorIs(t, err, model.ErrLeafCountMismatch)
}

func TestOctreeRefinementNodesUnionsAcrossPeaks(t *testing.T) {
	o := testOctree(t)
	leaves := o.IterLeaves()
	for i, l := range leaves {
		if i < 2 {
			l.Semblance = 1.0
		}
	}
	nodes := o.RefinementNodes([]float64{1.0}, 0.9)
	require.Len(t, nodes, 2)
}

func TestOctreeHashStableAcrossResplit(t *testing.T) {
	o := testOctree(t)
	node := o.IterLeaves()[0]
	h1 := node.Hash()

	require.NoError(t, o.Split(node))
	o.Reset()
	h2 := node.Hash()
	require.Equal(t, h1, h2)
}

func TestOctreeCloneIsIndependent(t *testing.T) {
	o := testOctree(t)
	node := o.IterLeaves()[0]
	node.Semblance = 5

	clone := o.Clone()
	cloneLeaves := clone.IterLeaves()
	require.Zero(t, cloneLeaves[0].Semblance)
}
