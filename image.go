package qseek

import (
	"strings"

	"github.com/qseek/qseek/model"
)

// basePhase strips a ray-tracer-kind prefix from a phase id (e.g.
// "cake:S" -> "S", "fm:P" -> "P"), returning phase unchanged if it carries
// no prefix. Ray-tracer ids disambiguate tables of the same physical phase
// built by different tracers (§9); the tables themselves, and the earth
// model they query, identify phases only by the bare letter.
func basePhase(phase string) string {
	if _, letter, ok := strings.Cut(phase, ":"); ok {
		return letter
	}
	return phase
}

// StationImage is one station's characteristic-function trace for a
// single phase within a WaveformImages bundle.
type StationImage struct {
	NSL          model.NSL
	Start        float64
	SamplingRate float64
	Data         []float64

	// ObservedArrival is the image function's own pick, if any, attached
	// verbatim to the resulting PhaseDetection per §4.5 step 8.
	ObservedArrival *float64
}

// Image is a single phase's set of per-station characteristic-function
// traces plus the weighting and blinding the stack-migrate kernel (§4.4)
// and peak finder (§4.3) need.
type Image struct {
	Phase    string
	Weight   float64
	Blinding float64
	Stations []StationImage

	// Exponent is set when the image function pre-exponentiates its
	// traces; the frame engine applies the inverse before normalizing
	// (§4.5 step 3). Zero means no exponentiation was applied.
	Exponent float64
}

// BasePhase returns the bare phase letter ("P"/"S") this image's travel
// times should be looked up under, stripping any ray-tracer-kind prefix
// from Phase.
func (img Image) BasePhase() string {
	return basePhase(img.Phase)
}

// DeltaT returns the image's common sampling interval, derived from its
// first station trace (all station traces in one image share a sampling
// rate by construction).
func (img Image) DeltaT() float64 {
	if len(img.Stations) == 0 {
		return 0
	}
	return 1.0 / img.Stations[0].SamplingRate
}

// WaveformImages bundles every phase Image computed for one batch, ready
// for the frame engine to stack.
type WaveformImages struct {
	Images []Image
}

// ImageFunction is the out-of-scope phase-onset image collaborator
// (§1 Out of scope): it supplies per-phase, per-station characteristic
// function traces from a raw waveform Batch.
type ImageFunction interface {
	Phase() string
	Process(batch Batch) (Image, error)
}
