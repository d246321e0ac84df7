package qseek

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qseek/qseek/model"
)

// StationWeights computes exponential distance-decay weights over
// stations per candidate node (§4.6), caching per-node weight vectors in
// a byte-budgeted LRU shared across the run (§5 shared-resource policy:
// "Station-weights LRU: shared; inserts are serialized").
type StationWeights struct {
	Radius   float64
	Exponent float64

	cache    *lru.Cache[uint64, []float64]
	maxBytes int64
	curBytes int64
}

// NewStationWeights constructs a station-weighting provider with decay
// radius r (metres) and exponent p in [0,3], with an LRU bounded by
// maxBytes of cached weight vectors.
func NewStationWeights(r, p float64, maxBytes int64) *StationWeights {
	sw := &StationWeights{Radius: r, Exponent: p, maxBytes: maxBytes}
	c, _ := lru.NewWithEvict[uint64, []float64](1<<20, func(_ uint64, v []float64) {
		sw.curBytes -= int64(len(v) * 8)
	})
	sw.cache = c
	return sw
}

// decay is the per-station weight function w(d) = exp(-(d/r)^p), per
// §4.6 and invariant 9 (1 at d=0, monotonically non-increasing, tending
// to 0 as d -> inf).
func (sw *StationWeights) decay(d float64) float64 {
	if sw.Radius <= 0 {
		return 1
	}
	return math.Exp(-math.Pow(d/sw.Radius, sw.Exponent))
}

// Weights returns the per-station decay weight vector for a single node,
// computing and caching on miss.
func (sw *StationWeights) Weights(nodeHash uint64, node model.Location, stations []model.Station) []float64 {
	if w, ok := sw.cache.Get(nodeHash); ok {
		return w
	}
	return sw.computeAndCache(nodeHash, node, stations)
}

// WeightsBatch resolves weight vectors for every node, skipping any
// already cached and computing the rest in one pass, per §9's "missing
// nodes are computed in batch and inserted".
func (sw *StationWeights) WeightsBatch(hashes []uint64, nodes []model.Location, stations []model.Station) [][]float64 {
	out := make([][]float64, len(hashes))
	for i, h := range hashes {
		if w, ok := sw.cache.Get(h); ok {
			out[i] = w
			continue
		}
		out[i] = sw.computeAndCache(h, nodes[i], stations)
	}
	return out
}

func (sw *StationWeights) computeAndCache(nodeHash uint64, node model.Location, stations []model.Station) []float64 {
	w := make([]float64, len(stations))
	for i, st := range stations {
		w[i] = sw.decay(node.SurfaceDistanceTo(st.Location))
	}
	for sw.curBytes+int64(len(w)*8) > sw.maxBytes && sw.cache.Len() > 0 {
		sw.cache.RemoveOldest()
	}
	sw.cache.Add(nodeHash, w)
	sw.curBytes += int64(len(w) * 8)
	return w
}

// hashCoords is a small helper mirroring traveltime's coordinate hashing:
// FNV-1a over the raw float64 bits of east, north and depth. StationWeights
// keys its cache by model.Node.Hash and does not call it.
func hashCoords(east, north, depth float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range [3]float64{east, north, depth} {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}
