package qseek

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Semblance is the per-frame [node x sample] stacking buffer (§3, §4.3).
// Rows are addressable independently so that cached rows from a prior
// refinement level can be blitted back in without touching the rest of
// the buffer.
type Semblance struct {
	StartTime      float64
	SamplingRate   float64
	PaddingSamples int
	NSamplesTotal  int

	rows [][]float64
}

// NewSemblance allocates a zeroed buffer for nNodes candidate nodes
// spanning duration seconds plus windowPadding seconds of context on each
// side, per §4.5 step 1.
func NewSemblance(nNodes int, start, samplingRate, duration, windowPadding float64) *Semblance {
	padding := int(math.Round(windowPadding * samplingRate))
	unpadded := int(math.Round(duration * samplingRate))
	total := unpadded + 2*padding

	rows := make([][]float64, nNodes)
	for i := range rows {
		rows[i] = make([]float64, total)
	}

	return &Semblance{
		StartTime:      start,
		SamplingRate:   samplingRate,
		PaddingSamples: padding,
		NSamplesTotal:  total,
		rows:           rows,
	}
}

// NUnpadded returns the length of the unpadded view, per invariant 4:
// round((end-start)*sampling_rate) regardless of window_padding.
func (s *Semblance) NUnpadded() int {
	return s.NSamplesTotal - 2*s.PaddingSamples
}

// NNodes returns the number of candidate-node rows.
func (s *Semblance) NNodes() int {
	return len(s.rows)
}

// Row returns the full (padded) row for node i, for direct accumulation
// by the stack-migrate kernel.
func (s *Semblance) Row(i int) []float64 {
	return s.rows[i]
}

// SetRow overwrites node i's row wholesale, used to restore a cached row
// from a prior refinement level (§4.3 cache key).
func (s *Semblance) SetRow(i int, row []float64) {
	copy(s.rows[i], row)
}

// CloneRow returns a private copy of node i's row, suitable for storing in
// the per-frame cache before the buffer is discarded ahead of recursion.
func (s *Semblance) CloneRow(i int) []float64 {
	cp := make([]float64, len(s.rows[i]))
	copy(cp, s.rows[i])
	return cp
}

// Normalize divides every sample by the cumulative image weight
// accumulated across all stacked images, per §3/§4.3 step 1.
func (s *Semblance) Normalize(cumulativeWeight float64) {
	if cumulativeWeight == 0 {
		return
	}
	for _, row := range s.rows {
		floats.Scale(1/cumulativeWeight, row)
	}
}

// InverseExponent undoes a pre-exponentiated image scale (§4.5 step 3)
// before normalization, a no-op when exponent is 0.
func (s *Semblance) InverseExponent(exponent float64) {
	if exponent == 0 {
		return
	}
	inv := 1 / exponent
	for _, row := range s.rows {
		for i, v := range row {
			row[i] = math.Copysign(math.Pow(math.Abs(v), inv), v)
		}
	}
}

// MaxTrace returns S_max(t) = max_node S[:, t] over the unpadded range
// (§4.3 step 2).
func (s *Semblance) MaxTrace() []float64 {
	n := s.NUnpadded()
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		abs := t + s.PaddingSamples
		max := math.Inf(-1)
		for _, row := range s.rows {
			if row[abs] > max {
				max = row[abs]
			}
		}
		out[t] = max
	}
	return out
}

// ArgmaxNode returns the node index with the largest semblance at
// unpadded-relative sample t (§4.3 step 4).
func (s *Semblance) ArgmaxNode(t int) int {
	abs := t + s.PaddingSamples
	best, bestVal := -1, math.Inf(-1)
	for i, row := range s.rows {
		if row[abs] > bestVal {
			best, bestVal = i, row[abs]
		}
	}
	return best
}

// Peak is a detected local maximum on the S_max trace: its
// unpadded-relative sample index and value.
type Peak struct {
	Index int
	Value float64
}

// FindPeaks locates local maxima on trace at least threshold in value,
// separated by at least minDistance samples, per §4.3 step 3. Candidates
// are resolved greedily by descending value so that the strongest peak in
// a crowded neighbourhood always wins (§8 S4: two sources closer than
// blinding collapse to the higher-semblance peak).
func FindPeaks(trace []float64, threshold float64, minDistance int) []Peak {
	candidates := make([]Peak, 0)
	for i, v := range trace {
		if v < threshold {
			continue
		}
		if i > 0 && trace[i-1] > v {
			continue
		}
		if i < len(trace)-1 && trace[i+1] > v {
			continue
		}
		candidates = append(candidates, Peak{Index: i, Value: v})
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].Value > candidates[b].Value
	})

	kept := make([]Peak, 0, len(candidates))
	for _, c := range candidates {
		tooClose := false
		for _, k := range kept {
			if abs(c.Index-k.Index) < minDistance {
				tooClose = true
				break
			}
		}
		if !tooClose {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(a, b int) bool { return kept[a].Index < kept[b].Index })
	return kept
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// semblanceCache stores per-node semblance rows keyed by the node's
// stable hash (model.Node.Hash), surviving across one frame's refinement
// recursion but never across frames (§4.3, §5 shared-resource policy).
type semblanceCache struct {
	rows map[uint64][]float64
}

func newSemblanceCache() *semblanceCache {
	return &semblanceCache{rows: make(map[uint64][]float64)}
}

func (c *semblanceCache) get(hash uint64) ([]float64, bool) {
	row, ok := c.rows[hash]
	return row, ok
}

func (c *semblanceCache) put(hash uint64, row []float64) {
	c.rows[hash] = row
}
