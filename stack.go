package qseek

import (
	"context"
	"math"
	"runtime"

	"github.com/alitto/pond"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/traveltime"
)

// StackMigrate shift-sum-accumulates one Image's per-station traces onto
// sem, one contribution per (node, station) pair, per §4.4. windowStart is
// the absolute time of sem's first (padded) sample. The kernel is
// parallelized node-wise across a pond pool sized off n_threads_parstack
// (0 meaning all cores), matching the teacher's cmd/main.go
// pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx)) pattern.
func StackMigrate(ctx context.Context, sem *Semblance, octree *model.Octree, stations *model.Stations, table traveltime.Table, img Image, windowStart float64, weights *StationWeights, nThreads int, skip map[uint64]bool) (float64, error) {
	leaves := octree.IterLeaves()
	stationList := stations.All()
	nNodes, nStations := len(leaves), len(stationList)
	if nNodes == 0 || nStations == 0 || len(img.Stations) == 0 {
		return img.Weight, nil
	}

	tt, err := table.GetTravelTimes(img.BasePhase(), octree, stations)
	if err != nil {
		return 0, err
	}

	stationContrib := make([]int, nNodes)
	bad := make([]bool, nNodes*nStations)
	for n := 0; n < nNodes; n++ {
		for s := 0; s < nStations; s++ {
			idx := n*nStations + s
			if math.IsNaN(tt[idx]) {
				bad[idx] = true
				tt[idx] = 0
				continue
			}
			stationContrib[n]++
		}
	}

	dt := img.DeltaT()
	shifts := make([]int, nNodes*nStations)
	for i, t := range tt {
		shifts[i] = int(math.Round(-t / dt))
	}

	traceByNSL := make(map[model.NSL]StationImage, len(img.Stations))
	for _, si := range img.Stations {
		traceByNSL[si.NSL] = si
	}

	n := nThreads
	if n <= 0 {
		n = runtime.NumCPU()
	}
	pool := pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx))
	defer pool.StopAndWait()

	var perNode [][]float64
	if weights != nil {
		hashes := make([]uint64, nNodes)
		locs := make([]model.Location, nNodes)
		for i, leaf := range leaves {
			hashes[i] = leaf.Hash()
			locs[i] = leaf.Location()
		}
		perNode = weights.WeightsBatch(hashes, locs, stationList)
	}

	for nodeIdx := 0; nodeIdx < nNodes; nodeIdx++ {
		nodeIdx := nodeIdx
		if stationContrib[nodeIdx] == 0 {
			continue
		}
		// cached rows are restored verbatim after normalization (§4.3);
		// skip recomputing their contribution here.
		if skip != nil && skip[leaves[nodeIdx].Hash()] {
			continue
		}
		pool.Submit(func() {
			row := sem.Row(nodeIdx)
			base := img.Weight / float64(stationContrib[nodeIdx])
			for s := 0; s < nStations; s++ {
				idx := nodeIdx*nStations + s
				if bad[idx] {
					continue
				}
				si, ok := traceByNSL[stationList[s].NSL]
				if !ok || len(si.Data) == 0 {
					continue
				}
				w := base
				if perNode != nil {
					w *= perNode[nodeIdx][s]
				}

				offset := int(math.Round((si.Start - windowStart) * si.SamplingRate))
				shift := shifts[idx]
				for sample := 0; sample < len(row); sample++ {
					src := sample - shift - offset
					if src < 0 || src >= len(si.Data) {
						continue
					}
					row[sample] += w * si.Data[src]
				}
			}
		})
	}

	return img.Weight, nil
}
