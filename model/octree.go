package model

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math"

	"github.com/samber/lo"
)

// ErrNodeSplit is returned by Octree.Split when the node's half-size would
// fall below the octree's size_limit. Recovered locally by the caller
// (the refinement policy silently skips such nodes).
var ErrNodeSplit = errors.New("model: node cannot be split below size limit")

// ErrLeafCountMismatch is returned by Octree.MapSemblance when the supplied
// vector's length does not equal the current leaf count.
var ErrLeafCountMismatch = errors.New("model: semblance vector length does not match leaf count")

// childOffset is the fixed traversal order for a split node's eight
// children: east in {-,+}, north in {-,+}, depth in {-,+}, east outermost.
var childOffset = [8][3]float64{
	{-1, -1, -1}, {-1, -1, 1}, {-1, 1, -1}, {-1, 1, 1},
	{1, -1, -1}, {1, -1, 1}, {1, 1, -1}, {1, 1, 1},
}

// Bounds is an inclusive [min, max] interval along one axis.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) extent() float64 { return b.Max - b.Min }

// Node is a cubic candidate-source-location cell: either a leaf or exactly
// eight children. Nodes carry a non-owning back-pointer to their Octree so
// their absolute coordinates and stable hash can be realized without
// storing the anchor redundantly on every node.
type Node struct {
	East, North, Depth float64
	Size               float64
	Semblance          float64

	tree     *Octree
	children []*Node // memoized; non-nil once ever split, regardless of active
	active   bool    // true while currently split (non-leaf)
}

// IsLeaf reports whether n currently has no active children.
func (n *Node) IsLeaf() bool {
	return !n.active
}

// Children returns n's eight children if currently split, or nil if n is
// a leaf.
func (n *Node) Children() []*Node {
	if !n.active {
		return nil
	}
	return n.children
}

// Hash derives a stable cache key from the owning octree's geographic
// center plus the node's own (east, north, depth, size) — stable across
// resets and re-splits because those never change a node's own geometry,
// only its active/children state.
func (n *Node) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	write := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	cLat, cLon, cElev := n.tree.Center()
	write(cLat)
	write(cLon)
	write(cElev)
	write(n.East)
	write(n.North)
	write(n.Depth)
	write(n.Size)
	return h.Sum64()
}

// Location realizes the node's absolute Location using the owning
// octree's geographic anchor and the node's local east/north/depth
// offsets.
func (n *Node) Location() Location {
	return n.tree.Anchor.Shifted(n.East, n.North, n.Depth)
}

// DistanceToBorder returns the minimum distance from any of the node's six
// faces to the corresponding octree boundary.
func (n *Node) DistanceToBorder() float64 {
	return n.tree.distanceToBorder(n)
}

// IsInBounds reports whether the node's minimum distance to any boundary
// face is at least the octree's size_limit.
func (n *Node) IsInBounds() bool {
	return n.DistanceToBorder() >= n.tree.SizeLimit
}

// Octree is an adaptive 3-D grid of cubic nodes tiling
// East x North x Depth bounds with uniform-size root nodes, recursively
// splittable down to SizeLimit.
type Octree struct {
	EastBounds  Bounds
	NorthBounds Bounds
	DepthBounds Bounds
	RootSize    float64
	SizeLimit   float64

	// Anchor is the geographic point that local east/north/depth offsets
	// are realized against; it never changes across the octree's
	// lifetime, so it safely participates in Node.Hash.
	Anchor Location

	roots []*Node

	leafCount      int
	leafCountValid bool
}

// NewOctree lays out root nodes on a regular integer lattice: each root's
// center sits at bounds.Min + RootSize*(k+0.5) for k = 0..floor(extent/RootSize)-1
// along each axis, per the construction rule in the spec.
func NewOctree(eastBounds, northBounds, depthBounds Bounds, rootSize, sizeLimit float64, anchor Location) (*Octree, error) {
	if rootSize <= 0 || sizeLimit <= 0 || rootSize < sizeLimit {
		return nil, errors.New("model: invalid octree root_size/size_limit")
	}

	o := &Octree{
		EastBounds:  eastBounds,
		NorthBounds: northBounds,
		DepthBounds: depthBounds,
		RootSize:    rootSize,
		SizeLimit:   sizeLimit,
		Anchor:      anchor,
	}

	nE := int(math.Floor(eastBounds.extent() / rootSize))
	nN := int(math.Floor(northBounds.extent() / rootSize))
	nD := int(math.Floor(depthBounds.extent() / rootSize))
	if nE < 1 || nN < 1 || nD < 1 {
		return nil, errors.New("model: octree bounds too small for root_size")
	}

	roots := make([]*Node, 0, nE*nN*nD)
	for ei := 0; ei < nE; ei++ {
		east := eastBounds.Min + rootSize*(float64(ei)+0.5)
		for ni := 0; ni < nN; ni++ {
			north := northBounds.Min + rootSize*(float64(ni)+0.5)
			for di := 0; di < nD; di++ {
				depth := depthBounds.Min + rootSize*(float64(di)+0.5)
				roots = append(roots, &Node{
					East: east, North: north, Depth: depth,
					Size: rootSize, tree: o,
				})
			}
		}
	}
	o.roots = roots
	return o, nil
}

// Center returns the octree's geographic anchor as (lat, lon, elevation),
// the quantity Node.Hash mixes in to make node hashes tree-specific.
func (o *Octree) Center() (lat, lon, elevation float64) {
	return o.Anchor.Lat, o.Anchor.Lon, o.Anchor.Elevation
}

// RootCount returns the number of root nodes (the product of per-axis
// lattice counts).
func (o *Octree) RootCount() int {
	return len(o.roots)
}

// Clone deep-copies the octree's structure (including memoized children)
// with fresh Node objects but a reset (zeroed, leaf-only) state. Used by
// SearchTraces to obtain a private per-frame copy of the parent's octree
// template, per the determinism requirement that recursion never shares
// state across windows.
func (o *Octree) Clone() *Octree {
	clone := &Octree{
		EastBounds:  o.EastBounds,
		NorthBounds: o.NorthBounds,
		DepthBounds: o.DepthBounds,
		RootSize:    o.RootSize,
		SizeLimit:   o.SizeLimit,
		Anchor:      o.Anchor,
	}
	clone.roots = make([]*Node, len(o.roots))
	for i, r := range o.roots {
		clone.roots[i] = cloneNode(r, clone)
	}
	return clone
}

func cloneNode(n *Node, tree *Octree) *Node {
	cp := &Node{East: n.East, North: n.North, Depth: n.Depth, Size: n.Size, tree: tree}
	if n.children != nil {
		cp.children = make([]*Node, len(n.children))
		for i, c := range n.children {
			cp.children[i] = cloneNode(c, tree)
		}
	}
	return cp
}

// IterLeaves returns every current leaf in fixed depth-first child order
// (east {-,+}, north {-,+}, depth {-,+}), root nodes visited in lattice
// order.
func (o *Octree) IterLeaves() []*Node {
	leaves := make([]*Node, 0, o.LeafCount())
	for _, r := range o.roots {
		leaves = appendLeaves(leaves, r)
	}
	return leaves
}

func appendLeaves(acc []*Node, n *Node) []*Node {
	if n.IsLeaf() {
		return append(acc, n)
	}
	for _, c := range n.children {
		acc = appendLeaves(acc, c)
	}
	return acc
}

// LeafCount returns the current number of leaves, cached until the next
// split or reset.
func (o *Octree) LeafCount() int {
	if o.leafCountValid {
		return o.leafCount
	}
	n := 0
	for _, r := range o.roots {
		n += countLeaves(r)
	}
	o.leafCount = n
	o.leafCountValid = true
	return n
}

func countLeaves(n *Node) int {
	if n.IsLeaf() {
		return 1
	}
	c := 0
	for _, ch := range n.children {
		c += countLeaves(ch)
	}
	return c
}

// Split subdivides node into eight children of half its size, centered at
// parent ± size/4 on each axis. Splitting is memoized: if node was split
// before and later reset, the same child objects are reattached rather
// than recreated, preserving object identity for cache keys.
func (o *Octree) Split(node *Node) error {
	if node.Size/2 < o.SizeLimit {
		return ErrNodeSplit
	}
	if node.children == nil {
		quarter := node.Size / 4
		half := node.Size / 2
		children := make([]*Node, 8)
		for i, off := range childOffset {
			children[i] = &Node{
				East:  node.East + off[0]*quarter,
				North: node.North + off[1]*quarter,
				Depth: node.Depth + off[2]*quarter,
				Size:  half,
				tree:  o,
			}
		}
		node.children = children
	}
	node.active = true
	o.leafCountValid = false
	return nil
}

// Reset detaches all children (without discarding the memoized structure)
// and zeroes all semblance, preserving root layout for rapid reuse across
// windows.
func (o *Octree) Reset() {
	for _, r := range o.roots {
		resetNode(r)
	}
	o.leafCountValid = false
}

func resetNode(n *Node) {
	n.Semblance = 0
	n.active = false
	for _, c := range n.children {
		resetNode(c)
	}
}

// MapSemblance writes vector[i] into the i-th leaf in iteration order.
func (o *Octree) MapSemblance(vector []float64) error {
	leaves := o.IterLeaves()
	if len(vector) != len(leaves) {
		return ErrLeafCountMismatch
	}
	for i, leaf := range leaves {
		leaf.Semblance = vector[i]
	}
	return nil
}

// NodesAbove returns every leaf whose semblance is at least threshold.
func (o *Octree) NodesAbove(threshold float64) []*Node {
	return lo.Filter(o.IterLeaves(), func(n *Node, _ int) bool {
		return n.Semblance >= threshold
	})
}

// distanceToBorder returns the minimum distance from any of the node's six
// faces to the octree's boundary on that axis.
func (o *Octree) distanceToBorder(n *Node) float64 {
	half := n.Size / 2
	return math.Min(
		math.Min((n.East-half)-o.EastBounds.Min, o.EastBounds.Max-(n.East+half)),
		math.Min(
			math.Min((n.North-half)-o.NorthBounds.Min, o.NorthBounds.Max-(n.North+half)),
			math.Min((n.Depth-half)-o.DepthBounds.Min, o.DepthBounds.Max-(n.Depth+half)),
		),
	)
}

// RefinementNodes implements the refinement policy (§4.1): for each peak,
// collect leaves whose semblance is at least peakValue*splitFraction,
// union across all peaks, and return that union for the caller to split.
func (o *Octree) RefinementNodes(peakValues []float64, splitFraction float64) []*Node {
	seen := make(map[*Node]bool)
	union := make([]*Node, 0)
	for _, pv := range peakValues {
		threshold := pv * splitFraction
		for _, n := range o.NodesAbove(threshold) {
			if !seen[n] {
				seen[n] = true
				union = append(union, n)
			}
		}
	}
	return union
}
