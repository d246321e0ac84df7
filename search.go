package qseek

import (
	"context"
	"errors"
	"math"

	"github.com/qseek/qseek/model"
)

// frameEngine is SearchTraces (§4.5): orchestrates calculate-semblance ->
// find-peaks -> refine-or-emit for a single padded window, recursing on a
// private octree copy so windows never observe each other's refinements.
type frameEngine struct {
	search *Search
	images WaveformImages
	start  float64 // unpadded window start
	end    float64 // unpadded window end
	octree *model.Octree
	cache  *semblanceCache
}

func newFrameEngine(search *Search, images WaveformImages, start, end float64) *frameEngine {
	return &frameEngine{
		search: search,
		images: images,
		start:  start,
		end:    end,
		octree: search.Octree.Clone(),
		cache:  newSemblanceCache(),
	}
}

// run executes the frame engine to completion, returning the detections
// emitted and the window's S_max trace for the detection store's
// semblance history (§4.8 loop body).
func (f *frameEngine) run(ctx context.Context) ([]model.Detection, []float64, error) {
	return f.recurse(ctx, f.octree)
}

func (f *frameEngine) recurse(ctx context.Context, octree *model.Octree) ([]model.Detection, []float64, error) {
	cfg := f.search.Config
	leaves := octree.IterLeaves()
	windowStart := f.start - cfg.WindowPadding
	sem := NewSemblance(len(leaves), windowStart, cfg.SamplingRate, f.end-f.start, cfg.WindowPadding)

	skip := make(map[uint64]bool)
	for _, leaf := range leaves {
		if _, ok := f.cache.get(leaf.Hash()); ok {
			skip[leaf.Hash()] = true
		}
	}

	var cumulative, exponent float64
	for _, img := range f.images.Images {
		table, ok := f.search.Tables[img.Phase]
		if !ok {
			return nil, nil, errors.Join(ErrConfig, errors.New("search: no travel-time table for phase "+img.Phase))
		}
		if img.Exponent != 0 {
			exponent = img.Exponent
		}

		select {
		case <-ctx.Done():
			return nil, nil, ErrCancelled
		default:
		}

		w, err := StackMigrate(ctx, sem, octree, f.search.Stations, table, img, windowStart, f.search.Weights, cfg.NThreadsParstack, skip)
		if err != nil {
			return nil, nil, err
		}
		cumulative += w
	}

	sem.InverseExponent(exponent)
	sem.Normalize(cumulative)

	for i, leaf := range leaves {
		if row, ok := f.cache.get(leaf.Hash()); ok {
			sem.SetRow(i, row)
		}
	}

	maxTrace := sem.MaxTrace()
	minDistance := int(math.Round(cfg.DetectionBlinding * cfg.SamplingRate))
	peaks := FindPeaks(maxTrace, cfg.DetectionThreshold, minDistance)
	if len(peaks) == 0 {
		return nil, maxTrace, nil
	}

	// Map each peak's time-slice onto the octree's node.Semblance field and
	// collect the refinement union across peaks (§4.1): RefinementNodes
	// reads node.Semblance directly, so it must be populated per-peak
	// before each call rather than once for the whole frame.
	refineSeen := make(map[*model.Node]bool)
	for _, peak := range peaks {
		slice := make([]float64, len(leaves))
		for i := range leaves {
			slice[i] = sem.Row(i)[peak.Index+sem.PaddingSamples]
		}
		if err := octree.MapSemblance(slice); err != nil {
			return nil, nil, err
		}
		for _, n := range octree.RefinementNodes([]float64{peak.Value}, cfg.NodeSplitThreshold) {
			refineSeen[n] = true
		}
	}
	refine := make([]*model.Node, 0, len(refineSeen))
	for n := range refineSeen {
		refine = append(refine, n)
	}
	split := false
	if len(refine) > 0 {
		for i, leaf := range leaves {
			f.cache.put(leaf.Hash(), sem.CloneRow(i))
		}
		for _, n := range refine {
			if err := octree.Split(n); err != nil {
				if errors.Is(err, model.ErrNodeSplit) {
					continue // already at size_limit; silently skipped per refinement policy
				}
				return nil, nil, err
			}
			split = true
		}
	}
	// Recurse only if at least one node actually split; once every
	// refinement candidate sits at size_limit, further recursion would
	// re-derive the same peaks forever (§8 S2: the engine stops once no
	// further splittable nodes remain).
	if split {
		return f.recurse(ctx, octree)
	}

	detections := make([]model.Detection, 0, len(peaks))
	for _, peak := range peaks {
		slice := make([]float64, len(leaves))
		for i := range leaves {
			slice[i] = sem.Row(i)[peak.Index+sem.PaddingSamples]
		}
		if err := octree.MapSemblance(slice); err != nil {
			return nil, nil, err
		}

		nodeIdx := sem.ArgmaxNode(peak.Index)
		peakNode := leaves[nodeIdx]
		detTime := f.start + float64(peak.Index)/cfg.SamplingRate

		det := model.NewDetection(octree, peakNode, detTime, f.search.Stations.Len())
		det.PhaseDetections = f.phaseDetections(detTime, peakNode.Location())
		det.NStations = len(det.PhaseDetections)
		detections = append(detections, det)
	}

	return detections, maxTrace, nil
}

// phaseDetections attaches modelled and observed phase arrivals for every
// image at the peak location, per §4.5 step 8.
func (f *frameEngine) phaseDetections(t0 float64, source model.Location) []model.PhaseDetection {
	byStation := make(map[model.NSL]*model.PhaseDetection)

	for _, img := range f.images.Images {
		table, ok := f.search.Tables[img.Phase]
		if !ok {
			continue
		}
		receivers := make([]model.Station, 0, len(img.Stations))
		observed := make(map[model.NSL]*float64, len(img.Stations))
		for _, si := range img.Stations {
			if st, ok := f.search.Stations.Find(si.NSL); ok {
				receivers = append(receivers, st)
			}
			observed[si.NSL] = si.ObservedArrival
		}

		arrivals, err := table.GetArrivals(img.BasePhase(), t0, source, receivers)
		if err != nil {
			continue
		}
		for _, a := range arrivals {
			if a == nil {
				continue
			}
			pd, ok := byStation[a.NSL]
			if !ok {
				pd = &model.PhaseDetection{NSL: a.NSL}
				byStation[a.NSL] = pd
			}
			pd.Arrivals = append(pd.Arrivals, model.PhaseArrival{
				Phase:        a.Phase,
				NSL:          a.NSL,
				ModelledTime: a.Time,
				ObservedTime: observed[a.NSL],
				Weight:       img.Weight,
			})
		}
	}

	out := make([]model.PhaseDetection, 0, len(byStation))
	for _, pd := range byStation {
		out = append(out, *pd)
	}
	return out
}
