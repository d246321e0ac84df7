package model

import "math"

// uncertaintyEFold is 1/sqrt(e), the semblance fraction of the peak below
// which a leaf is excluded from the uncertainty bounding box (one standard
// deviation under a Gaussian assumption around the peak).
const uncertaintyEFold = 0.6065306597126334 // 1/math.Sqrt(math.E)

// AxisUncertainty is a signed offset range (lo <= 0 <= hi) from the peak
// node's center along one axis.
type AxisUncertainty struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Uncertainty is the axis-aligned bounding box, expressed as signed
// offsets from the peak node, of every leaf whose semblance exceeds
// peak*1/sqrt(e).
type Uncertainty struct {
	East  AxisUncertainty `json:"east"`
	North AxisUncertainty `json:"north"`
	Depth AxisUncertainty `json:"depth"`
}

// ComputeUncertainty collects every leaf in octree whose semblance exceeds
// peak.Semblance * 1/sqrt(e) and returns the axis-aligned bounding box of
// their offsets relative to peak, per §4.7.
func ComputeUncertainty(octree *Octree, peak *Node) Uncertainty {
	threshold := peak.Semblance * uncertaintyEFold
	u := Uncertainty{}
	first := true

	for _, leaf := range octree.IterLeaves() {
		if leaf.Semblance <= threshold {
			continue
		}
		de := leaf.East - peak.East
		dn := leaf.North - peak.North
		dd := leaf.Depth - peak.Depth
		if first {
			u.East = AxisUncertainty{Lo: de, Hi: de}
			u.North = AxisUncertainty{Lo: dn, Hi: dn}
			u.Depth = AxisUncertainty{Lo: dd, Hi: dd}
			first = false
			continue
		}
		u.East.Lo = math.Min(u.East.Lo, de)
		u.East.Hi = math.Max(u.East.Hi, de)
		u.North.Lo = math.Min(u.North.Lo, dn)
		u.North.Hi = math.Max(u.North.Hi, dn)
		u.Depth.Lo = math.Min(u.Depth.Lo, dd)
		u.Depth.Hi = math.Max(u.Depth.Hi, dd)
	}
	return u
}

// PhaseArrival is an observed or modelled arrival time for one phase at one
// receiver, attached to a Detection per receiver per image.
type PhaseArrival struct {
	Phase        string   `json:"phase"`
	NSL          NSL      `json:"nsl"`
	ModelledTime float64  `json:"modelled_time"`
	ObservedTime *float64 `json:"observed_time,omitempty"`
	Weight       float64  `json:"weight"`
}

// PhaseDetection bundles every phase arrival observed or modelled for a
// single receiver within one Detection.
type PhaseDetection struct {
	NSL      NSL            `json:"nsl"`
	Arrivals []PhaseArrival `json:"arrivals"`
}

// Detection is a single emitted event: a peak-node location, its
// semblance value, border proximity, receiver-level phase arrivals, and
// spatial uncertainty. Detections are immutable once constructed; the
// core never mutates one after append.
type Detection struct {
	Time              float64          `json:"time"`
	Location          Location         `json:"location"`
	Semblance         float64          `json:"semblance"`
	DistanceToBorder  float64          `json:"distance_to_border"`
	InBounds          bool             `json:"in_bounds"`
	NStations         int              `json:"n_stations"`
	PhaseDetections   []PhaseDetection `json:"receivers"`
	Uncertainty       Uncertainty      `json:"uncertainty"`
}

// NewDetection constructs a Detection from a peak node realized against
// octree (§4.5 step 7). PhaseDetections is left empty; the caller attaches
// the per-receiver arrivals.
func NewDetection(octree *Octree, peak *Node, time float64, nStations int) Detection {
	return Detection{
		Time:             time,
		Location:         peak.Location(),
		Semblance:        peak.Semblance,
		DistanceToBorder: peak.DistanceToBorder(),
		InBounds:         peak.IsInBounds(),
		NStations:        nStations,
		Uncertainty:      ComputeUncertainty(octree, peak),
	}
}
