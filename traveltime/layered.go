package traveltime

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/tiledbutil"
)

// simpson integrates f over [a, b] with a fixed-node composite Simpson's
// rule. The ray-path integrals below have no singularities away from the
// turning point excluded by the caller, so a fixed node count is enough to
// stay within the tree's own ftol; no library in the stack exposes 1-D
// quadrature with a stable enough API to prefer over this.
func simpson(f func(float64) float64, a, b float64, n int) float64 {
	if n%2 == 1 {
		n++
	}
	h := (b - a) / float64(n)
	sum := f(a) + f(b)
	for i := 1; i < n; i++ {
		x := a + float64(i)*h
		v := f(x)
		if math.IsNaN(v) {
			return math.NaN()
		}
		if i%2 == 0 {
			sum += 2 * v
		} else {
			sum += 4 * v
		}
	}
	return sum * h / 3
}

// Layer is one row of a layered 1-D earth model: top depth in metres plus
// P- and S-wave velocities in metres/second at that depth. Velocities are
// linearly interpolated between consecutive layer tops.
type Layer struct {
	DepthM float64 `json:"depth_m"`
	Vp     float64 `json:"vp"`
	Vs     float64 `json:"vs"`
}

// EarthModel is a depth-ordered stack of Layer.
type EarthModel struct {
	Layers []Layer `json:"layers"`
}

// DefaultEarthModel is a generic crustal velocity model, used when a
// search configuration specifies no explicit layers.
func DefaultEarthModel() EarthModel {
	return EarthModel{Layers: []Layer{
		{DepthM: 0, Vp: 5500, Vs: 3200},
		{DepthM: 1000, Vp: 5500, Vs: 3200},
		{DepthM: 1000, Vp: 6000, Vs: 3500},
		{DepthM: 4000, Vp: 6000, Vs: 3500},
		{DepthM: 4000, Vp: 6200, Vs: 3600},
		{DepthM: 8000, Vp: 6200, Vs: 3600},
		{DepthM: 8000, Vp: 6300, Vs: 3700},
		{DepthM: 30000, Vp: 8100, Vs: 4700},
	}}
}

// Hash returns a stable short identity for the model, used to key
// persisted tables and in is_suited comparisons.
func (m EarthModel) Hash() string {
	h := sha1.New()
	var buf [8]byte
	for _, l := range m.Layers {
		for _, v := range []float64{l.DepthM, l.Vp, l.Vs} {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

func (m EarthModel) velocityAt(phase string, depth float64) float64 {
	layers := m.Layers
	if depth <= layers[0].DepthM {
		return m.velocityOf(phase, layers[0])
	}
	for i := 1; i < len(layers); i++ {
		if depth <= layers[i].DepthM {
			prev, cur := layers[i-1], layers[i]
			if cur.DepthM == prev.DepthM {
				return m.velocityOf(phase, cur)
			}
			frac := (depth - prev.DepthM) / (cur.DepthM - prev.DepthM)
			return m.velocityOf(phase, prev) + frac*(m.velocityOf(phase, cur)-m.velocityOf(phase, prev))
		}
	}
	return m.velocityOf(phase, layers[len(layers)-1])
}

func (m EarthModel) velocityOf(phase string, l Layer) float64 {
	if phase == "S" {
		return l.Vs
	}
	return l.Vp
}

func (m EarthModel) vmin(phase string) float64 {
	v := math.Inf(1)
	for _, l := range m.Layers {
		vv := m.velocityOf(phase, l)
		if vv > 0 && vv < v {
			v = vv
		}
	}
	return v
}

// directRay returns the travel time (seconds) and horizontal distance
// (metres) for a straight, non-turning ray shot with ray parameter p
// between depths z0 and z1 (z0 < z1), integrated numerically over the
// velocity profile.
func (m EarthModel) directRay(phase string, z0, z1, p float64) (t, x float64) {
	if z0 == z1 {
		return 0, 0
	}
	dtdz := func(z float64) float64 {
		v := m.velocityAt(phase, z)
		radicand := 1 - p*p*v*v
		if radicand <= 0 {
			return math.NaN()
		}
		return 1 / (v * math.Sqrt(radicand))
	}
	dxdz := func(z float64) float64 {
		v := m.velocityAt(phase, z)
		radicand := 1 - p*p*v*v
		if radicand <= 0 {
			return math.NaN()
		}
		return p * v / math.Sqrt(radicand)
	}
	const nodes = 32
	t = simpson(dtdz, z0, z1, nodes)
	x = simpson(dxdz, z0, z1, nodes)
	return t, x
}

// travelTime finds, by bisection on ray parameter, the direct (non-turning)
// ray connecting receiverDepth and sourceDepth across the given epicentral
// distance, and returns its travel time. Head-wave/turning-ray arrivals
// are not modelled; for the shallow, near-offset geometries this search
// engine targets the direct ray is the first arrival in practice.
func (m EarthModel) travelTime(phase string, receiverDepth, sourceDepth, distance float64) float64 {
	z0, z1 := receiverDepth, sourceDepth
	if z0 > z1 {
		z0, z1 = z1, z0
	}
	if distance == 0 {
		t, _ := m.directRay(phase, z0, z1, 0)
		return t
	}

	pMax := 1 / m.vmin(phase)
	lo, hi := 0.0, pMax*0.999999
	var tLo, xLo, tHi, xHi float64
	tLo, xLo = m.directRay(phase, z0, z1, lo)
	tHi, xHi = m.directRay(phase, z0, z1, hi)
	_ = tHi
	if math.IsNaN(xHi) || xHi < distance {
		straight := math.Hypot(distance, z1-z0)
		return straight / m.velocityAt(phase, (z0+z1)/2)
	}

	for i := 0; i < 40; i++ {
		mid := (lo + hi) / 2
		tMid, xMid := m.directRay(phase, z0, z1, mid)
		if math.IsNaN(xMid) || xMid > distance {
			hi = mid
		} else {
			lo = mid
			tLo, xLo = tMid, xMid
		}
	}
	_ = xLo
	return tLo
}

// sptreeNode is one cell of the adaptive sampled-parameter tree: a 3-D box
// in (receiver_depth, source_depth, distance) with the function sampled at
// its 8 corners, subdividable on its longest axis until ftol/xtol are met.
type sptreeNode struct {
	Bounds   [3]Bounds1D `json:"bounds"`
	Corners  [8]float64  `json:"corners"`
	Children []*sptreeNode `json:"children,omitempty"`
}

func (n *sptreeNode) isLeaf() bool { return len(n.Children) == 0 }

// interpolate trilinearly interpolates f(rz, sz, dist) within the tree,
// descending to the containing leaf.
func (n *sptreeNode) interpolate(rz, sz, dist float64) float64 {
	if n.isLeaf() {
		return trilinear(n.Bounds, n.Corners, rz, sz, dist)
	}
	for _, c := range n.Children {
		if within(c.Bounds, rz, sz, dist) {
			return c.interpolate(rz, sz, dist)
		}
	}
	return trilinear(n.Bounds, n.Corners, rz, sz, dist)
}

func within(b [3]Bounds1D, rz, sz, dist float64) bool {
	return rz >= b[0].Min && rz <= b[0].Max &&
		sz >= b[1].Min && sz <= b[1].Max &&
		dist >= b[2].Min && dist <= b[2].Max
}

func trilinear(b [3]Bounds1D, c [8]float64, rz, sz, dist float64) float64 {
	u := frac(b[0], rz)
	v := frac(b[1], sz)
	w := frac(b[2], dist)

	c00 := c[0]*(1-u) + c[4]*u
	c01 := c[1]*(1-u) + c[5]*u
	c10 := c[2]*(1-u) + c[6]*u
	c11 := c[3]*(1-u) + c[7]*u

	c0 := c00*(1-v) + c10*v
	c1 := c01*(1-v) + c11*v

	return c0*(1-w) + c1*w
}

func frac(b Bounds1D, x float64) float64 {
	if b.Max == b.Min {
		return 0
	}
	f := (x - b.Min) / (b.Max - b.Min)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func cornersOf(b [3]Bounds1D, f func(rz, sz, dist float64) float64) [8]float64 {
	var out [8]float64
	i := 0
	for _, rz := range []float64{b[0].Min, b[0].Max} {
		for _, sz := range []float64{b[1].Min, b[1].Max} {
			for _, d := range []float64{b[2].Min, b[2].Max} {
				out[i] = f(rz, sz, d)
				i++
			}
		}
	}
	return out
}

// buildSptree recursively subdivides bounds on its longest axis until the
// corner-value spread is within ftol or every axis extent is within xtol,
// or the recursion hits maxDepth.
func buildSptree(bounds [3]Bounds1D, ftol, xtol float64, maxDepth int, f func(rz, sz, dist float64) float64) *sptreeNode {
	corners := cornersOf(bounds, f)
	node := &sptreeNode{Bounds: bounds, Corners: corners}

	spread := 0.0
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range corners {
		if math.IsNaN(c) {
			continue
		}
		lo, hi = math.Min(lo, c), math.Max(hi, c)
	}
	if hi >= lo {
		spread = hi - lo
	}

	longestAxis, longestExtent := 0, bounds[0].extent()
	for i := 1; i < 3; i++ {
		if e := bounds[i].extent(); e > longestExtent {
			longestAxis, longestExtent = i, e
		}
	}

	if maxDepth <= 0 || spread <= ftol || longestExtent <= xtol {
		return node
	}

	left, right := bounds, bounds
	mid := (bounds[longestAxis].Min + bounds[longestAxis].Max) / 2
	left[longestAxis].Max = mid
	right[longestAxis].Min = mid

	node.Children = []*sptreeNode{
		buildSptree(left, ftol, xtol, maxDepth-1, f),
		buildSptree(right, ftol, xtol, maxDepth-1, f),
	}
	return node
}

func (b Bounds1D) extent() float64 { return b.Max - b.Min }

// LayeredTable is the 1-D layered travel-time provider: one adaptive
// sampled-parameter tree per phase, keyed on (receiver_depth, source_depth,
// epicentral_distance).
type LayeredTable struct {
	Model EarthModel

	Phases          []string
	DistanceBounds  Bounds1D
	SourceDepthBounds Bounds1D
	ReceiverDepthBounds Bounds1D
	TimeTolerance   float64
	SpatialTolerance float64

	trees map[string]*sptreeNode
	cache map[string]*coordinateCache
}

// NewLayeredTable constructs a LayeredTable for the given model and phase
// list (e.g. []string{"P", "S"}).
func NewLayeredTable(m EarthModel, phases []string) *LayeredTable {
	return &LayeredTable{Model: m, Phases: phases}
}

func (t *LayeredTable) AvailablePhases() []string { return t.Phases }

// Prepare computes, for each phase, bounds from the octree/stations and
// builds a fresh sampled-parameter tree. It neither loads a cached table
// from disk nor persists the new one (see Save and LoadLayeredTable), and
// it does not call IsSuited.
func (t *LayeredTable) Prepare(octree *model.Octree, stations *model.Stations) error {
	if stations.Len() == 0 {
		return ErrNoData
	}

	receiverDepths := make([]float64, 0, stations.Len())
	for _, st := range stations.All() {
		receiverDepths = append(receiverDepths, st.EffectiveDepth())
	}
	t.ReceiverDepthBounds = boundsOf(receiverDepths)
	t.SourceDepthBounds = Bounds1D{Min: octree.DepthBounds.Min, Max: octree.DepthBounds.Max}

	distances := make([]float64, 0)
	for _, st := range stations.All() {
		for _, leaf := range octree.IterLeaves() {
			distances = append(distances, leaf.Location().SurfaceDistanceTo(st.Location))
		}
	}
	t.DistanceBounds = boundsOf(distances)
	// Cover zero distance too, so a source directly beneath (or at) a
	// receiver is inside the tree rather than clamped to the nearest leaf.
	t.DistanceBounds.Min = 0
	t.SpatialTolerance = octree.SizeLimit / 2

	t.trees = make(map[string]*sptreeNode, len(t.Phases))
	t.cache = make(map[string]*coordinateCache, len(t.Phases))

	for _, phase := range t.Phases {
		vmin := t.Model.vmin(phase)
		t.TimeTolerance = octree.SizeLimit / (vmin * 3.0)

		bounds := [3]Bounds1D{t.ReceiverDepthBounds, t.SourceDepthBounds, t.DistanceBounds}
		phaseCopy := phase
		eval := func(rz, sz, dist float64) float64 {
			return t.Model.travelTime(phaseCopy, rz, sz, dist)
		}
		t.trees[phase] = buildSptree(bounds, t.TimeTolerance, t.SpatialTolerance, 14, eval)
		t.cache[phase] = newCoordinateCache(octree.LeafCount() * 8)
	}
	return nil
}

// IsSuited reports whether this (already-prepared) table covers the
// requested bounds/tolerances and matches the model hash — the reuse test
// from §4.2.
func (t *LayeredTable) IsSuited(phase string, requested LayeredTable) bool {
	return t.Model.Hash() == requested.Model.Hash() &&
		t.DistanceBounds.encloses(requested.DistanceBounds) &&
		t.SourceDepthBounds.encloses(requested.SourceDepthBounds) &&
		t.ReceiverDepthBounds.encloses(requested.ReceiverDepthBounds) &&
		t.TimeTolerance <= requested.TimeTolerance &&
		t.SpatialTolerance <= requested.SpatialTolerance
}

func (t *LayeredTable) GetTravelTime(phase string, source model.Location, receiver model.Station) (float64, error) {
	tree, ok := t.trees[phase]
	if !ok {
		return 0, ErrUnknownPhase
	}
	dist := source.SurfaceDistanceTo(receiver.Location)
	return tree.interpolate(receiver.EffectiveDepth(), source.EffectiveDepth(), dist), nil
}

func (t *LayeredTable) GetTravelTimes(phase string, octree *model.Octree, stations *model.Stations) ([]float64, error) {
	tree, ok := t.trees[phase]
	if !ok {
		return nil, ErrUnknownPhase
	}
	cache := t.cache[phase]

	leaves := octree.IterLeaves()
	sts := stations.All()
	coords := make([][3]float64, 0, len(leaves)*len(sts))
	for _, leaf := range leaves {
		for _, st := range sts {
			coords = append(coords, [3]float64{
				st.EffectiveDepth(), leaf.Depth, leaf.Location().SurfaceDistanceTo(st.Location),
			})
		}
	}

	if cached, ok := cache.get(coords); ok {
		return cached, nil
	}

	out := make([]float64, len(coords))
	for i, c := range coords {
		out[i] = tree.interpolate(c[0], c[1], c[2])
	}
	cache.put(coords, out)
	return out, nil
}

func (t *LayeredTable) GetArrivals(phase string, t0 float64, source model.Location, receivers []model.Station) ([]*Arrival, error) {
	if _, ok := t.trees[phase]; !ok {
		return nil, ErrUnknownPhase
	}
	out := make([]*Arrival, len(receivers))
	for i, recv := range receivers {
		tt, err := t.GetTravelTime(phase, source, recv)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(tt) {
			out[i] = nil
			continue
		}
		out[i] = &Arrival{Phase: phase, NSL: recv.NSL, Time: t0 + tt}
	}
	return out, nil
}

// archiveFilename is the on-disk name a layered table is persisted under:
// {phase_id}-{model_hash}.sptree, per §4.2.
func (t *LayeredTable) archiveFilename(phaseID string) string {
	return fmt.Sprintf("%s-%s.sptree", phaseID, t.Model.Hash())
}

// sptreeArchive is the JSON payload persisted for one phase's tree: header
// fields plus the tree body, written as a single JSON document (the
// teacher's tiledbutil.WriteJson/ReadJson round trip) rather than a
// separate header.json/payload.bin pair, since the tree already serializes
// compactly as JSON and gains nothing from a split binary layout.
type sptreeArchive struct {
	Model               EarthModel  `json:"model"`
	Phase               string      `json:"phase"`
	DistanceBounds      Bounds1D    `json:"distance_bounds"`
	SourceDepthBounds   Bounds1D    `json:"source_depth_bounds"`
	ReceiverDepthBounds Bounds1D    `json:"receiver_depth_bounds"`
	TimeTolerance       float64     `json:"time_tolerance"`
	SpatialTolerance    float64     `json:"spatial_tolerance"`
	Tree                *sptreeNode `json:"tree"`
}

// Save persists the phase's tree to dir/{phase_id}-{model_hash}.sptree.
func (t *LayeredTable) Save(dir, phaseID, phase string) (string, error) {
	path := dir + "/" + t.archiveFilename(phaseID)
	archive := sptreeArchive{
		Model:               t.Model,
		Phase:               phase,
		DistanceBounds:      t.DistanceBounds,
		SourceDepthBounds:   t.SourceDepthBounds,
		ReceiverDepthBounds: t.ReceiverDepthBounds,
		TimeTolerance:       t.TimeTolerance,
		SpatialTolerance:    t.SpatialTolerance,
		Tree:                t.trees[phase],
	}
	if _, err := tiledbutil.WriteJson(path, "", archive); err != nil {
		return "", err
	}
	return path, nil
}

// LoadLayeredTable reads a previously persisted phase tree from path.
func LoadLayeredTable(path string) (*LayeredTable, string, error) {
	var archive sptreeArchive
	if err := tiledbutil.ReadJson(path, "", &archive); err != nil {
		return nil, "", err
	}
	t := &LayeredTable{
		Model:               archive.Model,
		Phases:              []string{archive.Phase},
		DistanceBounds:      archive.DistanceBounds,
		SourceDepthBounds:   archive.SourceDepthBounds,
		ReceiverDepthBounds: archive.ReceiverDepthBounds,
		TimeTolerance:       archive.TimeTolerance,
		SpatialTolerance:    archive.SpatialTolerance,
		trees:               map[string]*sptreeNode{archive.Phase: archive.Tree},
		cache:               map[string]*coordinateCache{archive.Phase: newCoordinateCache(2000)},
	}
	return t, archive.Phase, nil
}
