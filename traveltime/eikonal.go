package traveltime

import (
	"fmt"
	"math"
	"runtime"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/alitto/pond"
	"github.com/qseek/qseek/model"
)

// eikonalVolume is one station's travel-time volume: a regular Cartesian
// grid covering the octree box, seeded at the station position and solved
// for first-arrival time everywhere via the eikonal equation.
type eikonalVolume struct {
	NSL        model.NSL
	EastBounds Bounds1D
	NorthBounds Bounds1D
	DepthBounds Bounds1D
	Spacing    float64

	nEast, nNorth, nDepth int
	times                 []float64 // flattened [east][north][depth], row-major
}

func (v *eikonalVolume) byteSize() int64 {
	return int64(len(v.times) * 8)
}

func (v *eikonalVolume) idx(i, j, k int) int {
	return (i*v.nNorth+j)*v.nDepth + k
}

func (v *eikonalVolume) coord(i, j, k int) (east, north, depth float64) {
	return v.EastBounds.Min + float64(i)*v.Spacing,
		v.NorthBounds.Min + float64(j)*v.Spacing,
		v.DepthBounds.Min + float64(k)*v.Spacing
}

// solveFastSweeping fills v.times by the fast sweeping method: repeated
// Gauss-Seidel sweeps of the first-order upwind eikonal difference scheme,
// in all 8 axis-aligned orderings, until the maximum update falls below
// tol. Equivalent in result to the heap-based fast-marching method but
// simpler to express without a priority queue.
func (v *eikonalVolume) solveFastSweeping(velocity func(east, north, depth float64) float64, seedI, seedJ, seedK int, tol float64) {
	const inf = math.MaxFloat64 / 2
	n := v.nEast * v.nNorth * v.nDepth
	v.times = make([]float64, n)
	for i := range v.times {
		v.times[i] = inf
	}
	v.times[v.idx(seedI, seedJ, seedK)] = 0

	h := v.Spacing
	sweepOrders := [][3]int{{1, 1, 1}, {-1, 1, 1}, {1, -1, 1}, {1, 1, -1}, {-1, -1, 1}, {-1, 1, -1}, {1, -1, -1}, {-1, -1, -1}}

	for iter := 0; iter < 20; iter++ {
		maxDelta := 0.0
		for _, dir := range sweepOrders {
			iStart, iEnd, iStep := sweepRange(v.nEast, dir[0])
			jStart, jEnd, jStep := sweepRange(v.nNorth, dir[1])
			kStart, kEnd, kStep := sweepRange(v.nDepth, dir[2])

			for i := iStart; i != iEnd; i += iStep {
				for j := jStart; j != jEnd; j += jStep {
					for k := kStart; k != kEnd; k += kStep {
						if i == seedI && j == seedJ && k == seedK {
							continue
						}
						east, north, depth := v.coord(i, j, k)
						vel := velocity(east, north, depth)
						if vel <= 0 {
							continue
						}
						slowness := 1 / vel

						a := minNeighbor(v, i, j, k, v.nEast, 0)
						b := minNeighbor(v, i, j, k, v.nNorth, 1)
						c := minNeighbor(v, i, j, k, v.nDepth, 2)

						newT := solveQuadratic(a, b, c, h, slowness)
						idx := v.idx(i, j, k)
						if newT < v.times[idx] {
							maxDelta = math.Max(maxDelta, v.times[idx]-newT)
							v.times[idx] = newT
						}
					}
				}
			}
		}
		if maxDelta < tol {
			break
		}
	}
}

func sweepRange(n, dir int) (start, end, step int) {
	if dir > 0 {
		return 0, n, 1
	}
	return n - 1, -1, -1
}

// minNeighbor returns the minimum travel time of the two neighbors along
// axis (0=east,1=north,2=depth) adjacent to (i,j,k), or +Inf if out of
// bounds on both sides.
func minNeighbor(v *eikonalVolume, i, j, k, limit, axis int) float64 {
	get := func(ii, jj, kk int) float64 {
		if ii < 0 || ii >= v.nEast || jj < 0 || jj >= v.nNorth || kk < 0 || kk >= v.nDepth {
			return math.Inf(1)
		}
		return v.times[v.idx(ii, jj, kk)]
	}
	switch axis {
	case 0:
		return math.Min(get(i-1, j, k), get(i+1, j, k))
	case 1:
		return math.Min(get(i, j-1, k), get(i, j+1, k))
	default:
		return math.Min(get(i, j, k-1), get(i, j, k+1))
	}
}

// solveQuadratic solves the first-order upwind eikonal update for a node
// given the minimum neighbor times a, b, c along the three axes, grid
// spacing h and local slowness (1/velocity).
func solveQuadratic(a, b, c, h, slowness float64) float64 {
	vals := []float64{a, b, c}
	// sort ascending (3 elements, insertion sort)
	if vals[0] > vals[1] {
		vals[0], vals[1] = vals[1], vals[0]
	}
	if vals[1] > vals[2] {
		vals[1], vals[2] = vals[2], vals[1]
	}
	if vals[0] > vals[1] {
		vals[0], vals[1] = vals[1], vals[0]
	}

	t := vals[0] + h*slowness
	if t <= vals[1] {
		return t
	}

	// two-neighbor quadratic: (t-a)^2 + (t-b)^2 = (h*slowness)^2
	sum2 := vals[0] + vals[1]
	diff2 := vals[0]*vals[0] + vals[1]*vals[1]
	disc := sum2*sum2 - 2*(diff2-h*h*slowness*slowness)
	if disc < 0 {
		return t
	}
	t = (sum2 + math.Sqrt(disc)) / 2
	if t <= vals[2] || math.IsInf(vals[2], 1) {
		return t
	}

	// three-neighbor quadratic
	sum3 := vals[0] + vals[1] + vals[2]
	sq3 := vals[0]*vals[0] + vals[1]*vals[1] + vals[2]*vals[2]
	disc3 := sum3*sum3 - 3*(sq3-h*h*slowness*slowness)
	if disc3 < 0 {
		return t
	}
	return (sum3 + math.Sqrt(disc3)) / 3
}

func (v *eikonalVolume) trilinearAt(east, north, depth float64) float64 {
	fi := (east - v.EastBounds.Min) / v.Spacing
	fj := (north - v.NorthBounds.Min) / v.Spacing
	fk := (depth - v.DepthBounds.Min) / v.Spacing

	i0 := clampInt(int(math.Floor(fi)), 0, v.nEast-2)
	j0 := clampInt(int(math.Floor(fj)), 0, v.nNorth-2)
	k0 := clampInt(int(math.Floor(fk)), 0, v.nDepth-2)

	u := clamp01(fi - float64(i0))
	w := clamp01(fj - float64(j0))
	x := clamp01(fk - float64(k0))

	get := func(di, dj, dk int) float64 { return v.times[v.idx(i0+di, j0+dj, k0+dk)] }

	c00 := get(0, 0, 0)*(1-u) + get(1, 0, 0)*u
	c01 := get(0, 0, 1)*(1-u) + get(1, 0, 1)*u
	c10 := get(0, 1, 0)*(1-u) + get(1, 1, 0)*u
	c11 := get(0, 1, 1)*(1-u) + get(1, 1, 1)*u

	c0 := c00*(1-w) + c10*w
	c1 := c01*(1-w) + c11*w

	return c0*(1-x) + c1*x
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EikonalTable is the 3-D fast-marching travel-time provider: one volume
// per station, solved (or loaded from cache) at Prepare time and queried
// by trilinear interpolation at node centers.
type EikonalTable struct {
	Model EarthModel // depth-dependent velocity only, per station-agnostic crustal model

	phase       string
	gridSpacing float64
	volumes     map[string]*eikonalVolume
	cache       *volumeCache

	// preloaded holds volumes read back by LoadCache, keyed by station NSL
	// string; Prepare consumes it as a cache-hit short-circuit and clears
	// it once done so a second Prepare call re-solves from scratch.
	preloaded map[string]*eikonalVolume
}

// NewEikonalTable constructs an EikonalTable for phase (e.g. "P"), with
// grid spacing defaulting to octree.size_limit when gridSpacing <= 0.
func NewEikonalTable(m EarthModel, phase string, gridSpacing float64) *EikonalTable {
	return &EikonalTable{Model: m, phase: phase, gridSpacing: gridSpacing}
}

func (t *EikonalTable) AvailablePhases() []string { return []string{t.phase} }

// LoadCache reads back a combined raw-binary volume archive from dir (see
// SaveCache), seeding the next Prepare call with cache hits instead of
// re-solving the eikonal equation for every station. A missing or
// unreadable archive is returned as an error and leaves the preloaded set
// untouched; Prepare then solves every station as if no cache existed.
func (t *EikonalTable) LoadCache(ctx *tiledb.Context, config *tiledb.Config, dir string) error {
	volumes, err := LoadRawArchive(ctx, config, rawArchiveURI(dir, t))
	if err != nil {
		return err
	}
	t.preloaded = volumes
	return nil
}

// SaveCache persists every volume this table holds after Prepare to a
// combined raw-binary archive under dir, for a later LoadCache call
// (typically on a "continue" run against the same configuration).
func (t *EikonalTable) SaveCache(ctx *tiledb.Context, config *tiledb.Config, dir string) error {
	return t.SaveRawArchive(ctx, config, rawArchiveURI(dir, t))
}

// Prepare solves one eikonal volume per station in parallel via a pond
// worker pool, blacklisting any station whose east/north position falls
// outside the octree box's horizontal extent; station depth is not
// checked (the seed depth is clamped into the grid). A station whose preloaded
// volume (from a prior LoadCache) matches the current grid geometry
// exactly is reused rather than resolved.
func (t *EikonalTable) Prepare(octree *model.Octree, stations *model.Stations) error {
	spacing := t.gridSpacing
	if spacing <= 0 {
		spacing = octree.SizeLimit
	}
	t.gridSpacing = spacing
	t.volumes = make(map[string]*eikonalVolume)
	t.cache = newVolumeCache(512 << 20)

	eastB := Bounds1D{Min: octree.EastBounds.Min, Max: octree.EastBounds.Max}
	northB := Bounds1D{Min: octree.NorthBounds.Min, Max: octree.NorthBounds.Max}
	depthB := Bounds1D{Min: octree.DepthBounds.Min, Max: octree.DepthBounds.Max}

	all := stations.All()
	if len(all) == 0 {
		return ErrNoData
	}

	pool := pond.New(runtime.NumCPU(), 0, pond.MinWorkers(4))
	defer pool.StopAndWait()

	volumes := make([]*eikonalVolume, len(all))
	var blacklisted []string

	for idx, st := range all {
		i := idx
		station := st
		if station.EastShift < eastB.Min || station.EastShift > eastB.Max ||
			station.NorthShift < northB.Min || station.NorthShift > northB.Max {
			blacklisted = append(blacklisted, station.NSL.String())
			continue
		}
		if cached, ok := t.preloaded[station.NSL.String()]; ok && cached.matchesGeometry(eastB, northB, depthB, spacing) {
			volumes[i] = cached
			continue
		}
		pool.Submit(func() {
			volumes[i] = t.solveStation(station, eastB, northB, depthB, spacing)
		})
	}
	pool.StopAndWait()
	t.preloaded = nil

	for _, nsl := range blacklisted {
		stations.Blacklist(nsl)
	}
	for _, vol := range volumes {
		if vol == nil {
			continue
		}
		t.volumes[vol.NSL.String()] = vol
		t.cache.put(vol.NSL.String(), vol)
	}
	return nil
}

// matchesGeometry reports whether v was solved over exactly the grid
// geometry now requested, so a cached volume is only reused when the
// octree box and spacing it was solved against haven't changed.
func (v *eikonalVolume) matchesGeometry(eastB, northB, depthB Bounds1D, spacing float64) bool {
	return v.EastBounds == eastB && v.NorthBounds == northB && v.DepthBounds == depthB && v.Spacing == spacing
}

func (t *EikonalTable) solveStation(station model.Station, eastB, northB, depthB Bounds1D, spacing float64) *eikonalVolume {
	nEast := int(eastB.extent()/spacing) + 1
	nNorth := int(northB.extent()/spacing) + 1
	nDepth := int(depthB.extent()/spacing) + 1

	vol := &eikonalVolume{
		NSL: station.NSL, EastBounds: eastB, NorthBounds: northB, DepthBounds: depthB,
		Spacing: spacing, nEast: nEast, nNorth: nNorth, nDepth: nDepth,
	}

	seedI := clampInt(int(math.Round((station.EastShift-eastB.Min)/spacing)), 0, nEast-1)
	seedJ := clampInt(int(math.Round((station.NorthShift-northB.Min)/spacing)), 0, nNorth-1)
	seedK := clampInt(int(math.Round((station.EffectiveDepth()-depthB.Min)/spacing)), 0, nDepth-1)

	velocity := func(east, north, depth float64) float64 {
		return t.Model.velocityAt(t.phase, depth)
	}
	vol.solveFastSweeping(velocity, seedI, seedJ, seedK, spacing/1e5)
	return vol
}

func (t *EikonalTable) GetTravelTime(phase string, source model.Location, receiver model.Station) (float64, error) {
	if phase != t.phase {
		return 0, ErrUnknownPhase
	}
	vol, ok := t.volumes[receiver.NSL.String()]
	if !ok {
		return NaN, nil
	}
	return vol.trilinearAt(source.EastShift, source.NorthShift, source.Depth), nil
}

func (t *EikonalTable) GetTravelTimes(phase string, octree *model.Octree, stations *model.Stations) ([]float64, error) {
	if phase != t.phase {
		return nil, ErrUnknownPhase
	}
	leaves := octree.IterLeaves()
	sts := stations.All()
	out := make([]float64, 0, len(leaves)*len(sts))
	for _, leaf := range leaves {
		for _, st := range sts {
			vol, ok := t.volumes[st.NSL.String()]
			if !ok {
				out = append(out, NaN)
				continue
			}
			out = append(out, vol.trilinearAt(leaf.East, leaf.North, leaf.Depth))
		}
	}
	return out, nil
}

func (t *EikonalTable) GetArrivals(phase string, t0 float64, source model.Location, receivers []model.Station) ([]*Arrival, error) {
	if phase != t.phase {
		return nil, ErrUnknownPhase
	}
	out := make([]*Arrival, len(receivers))
	for i, recv := range receivers {
		vol, ok := t.volumes[recv.NSL.String()]
		if !ok {
			out[i] = nil
			continue
		}
		tt := vol.trilinearAt(source.EastShift, source.NorthShift, source.Depth)
		if math.IsNaN(tt) {
			out[i] = nil
			continue
		}
		out[i] = &Arrival{Phase: phase, NSL: recv.NSL, Time: t0 + tt}
	}
	return out, nil
}

// archiveFilename is the on-disk name a station's volume is persisted
// under: {station_nsl}-{velocity_model_hash}.3dtt, per §4.2.
func (t *EikonalTable) archiveFilename(nsl model.NSL) string {
	return fmt.Sprintf("%s-%s.3dtt", nsl.String(), t.Model.Hash())
}
