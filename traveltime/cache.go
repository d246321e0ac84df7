package traveltime

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// coordKey is a cache key derived from a batch of (receiver_depth,
// source_depth, distance) query coordinates, so identical node/station
// sets across consecutive windows hit the 1-D table's interpolation cache
// instead of re-evaluating the sampled-parameter tree.
type coordKey uint64

func hashCoordinates(coords [][3]float64) coordKey {
	h := fnv.New64a()
	var buf [8]byte
	for _, c := range coords {
		for _, v := range c {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return coordKey(h.Sum64())
}

// coordinateCache memoizes interpolated travel-time vectors for the 1-D
// layered table, keyed by a hash of the coordinate batch.
type coordinateCache struct {
	lru *lru.Cache[coordKey, []float64]
}

func newCoordinateCache(size int) *coordinateCache {
	c, _ := lru.New[coordKey, []float64](size)
	return &coordinateCache{lru: c}
}

func (c *coordinateCache) get(coords [][3]float64) ([]float64, bool) {
	return c.lru.Get(hashCoordinates(coords))
}

func (c *coordinateCache) put(coords [][3]float64, values []float64) {
	c.lru.Add(hashCoordinates(coords), values)
}

func (c *coordinateCache) resize(size int) {
	c.lru.Resize(size)
}

// volumeCache is a byte-budgeted LRU of per-station eikonal travel-time
// volumes: each station's full Cartesian grid (several MB) is too large
// to size an LRU by entry count, so eviction is driven by cumulative
// volume bytes instead.
type volumeCache struct {
	lru       *lru.Cache[string, *eikonalVolume]
	maxBytes  int64
	curBytes  int64
}

func newVolumeCache(maxBytes int64) *volumeCache {
	vc := &volumeCache{maxBytes: maxBytes}
	c, _ := lru.NewWithEvict[string, *eikonalVolume](1<<20, func(_ string, v *eikonalVolume) {
		vc.curBytes -= v.byteSize()
	})
	vc.lru = c
	return vc
}

func (vc *volumeCache) get(station string) (*eikonalVolume, bool) {
	return vc.lru.Get(station)
}

func (vc *volumeCache) put(station string, vol *eikonalVolume) {
	for vc.curBytes+vol.byteSize() > vc.maxBytes && vc.lru.Len() > 0 {
		vc.lru.RemoveOldest()
	}
	vc.lru.Add(station, vol)
	vc.curBytes += vol.byteSize()
}
