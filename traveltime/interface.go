// Package traveltime implements the pluggable travel-time table providers
// that map a source node and a receiver to a modelled travel time for a
// phase: a 1-D layered (sampled-parameter tree) variant and a 3-D eikonal
// (fast-marching) variant, both exposing the same Table interface.
package traveltime

import (
	"errors"
	"math"

	"github.com/qseek/qseek/model"
)

// ErrUnknownPhase is returned when a requested phase is not among a
// table's available phases.
var ErrUnknownPhase = errors.New("traveltime: unknown phase")

// ErrTableUnsuited reports that a cached table on disk does not satisfy
// the requested bounds/tolerances/model. No function in this package
// returns it; LoadLayeredTable does not check suitability.
var ErrTableUnsuited = errors.New("traveltime: cached table not suited to request")

// ErrNoData is returned by prepare when inputs required to build a table
// are missing (e.g. an empty station list, a velocity model covering none
// of the requested box).
var ErrNoData = errors.New("traveltime: insufficient data to prepare table")

// NaN is the sentinel travel time for a (node, receiver) pair with no
// defined arrival for a phase.
var NaN = math.NaN()

// Arrival is a single modelled arrival: the phase name and the absolute
// arrival time, i.e. the origin time t0 passed to GetArrivals plus the
// modelled travel time.
type Arrival struct {
	Phase string
	NSL   model.NSL
	Time  float64
}

// Table is the common interface both the 1-D layered and the 3-D eikonal
// travel-time providers implement, per §4.2's common interface table.
type Table interface {
	// Prepare readies the table for the given octree and stations by
	// computing its travel-time data (the eikonal table reuses volumes
	// preloaded by LoadCache when their grid geometry matches). Prepare
	// itself does not read cached tables from disk or persist the result.
	Prepare(octree *model.Octree, stations *model.Stations) error

	// AvailablePhases lists the phase names this table can serve.
	AvailablePhases() []string

	// GetTravelTimes returns a flattened [n_nodes x n_stations] matrix of
	// seconds, row-major by node then station, NaN where undefined.
	GetTravelTimes(phase string, octree *model.Octree, stations *model.Stations) ([]float64, error)

	// GetTravelTime returns the scalar travel time between one source
	// location and one receiver station. The receiver is a full Station
	// (not a bare Location) because the 3-D eikonal provider keys its
	// per-station volumes by NSL.
	GetTravelTime(phase string, source model.Location, receiver model.Station) (float64, error)

	// GetArrivals returns, for each receiver, the absolute arrival time
	// or nil if the modelled travel time is NaN.
	GetArrivals(phase string, t0 float64, source model.Location, receivers []model.Station) ([]*Arrival, error)
}

// Bounds1D is an inclusive [min, max] scalar interval, used for the
// distance/depth bounds a 1-D table is valid over.
type Bounds1D struct {
	Min float64
	Max float64
}

func (b Bounds1D) encloses(other Bounds1D) bool {
	return b.Min <= other.Min && b.Max >= other.Max
}

func (b Bounds1D) union(other Bounds1D) Bounds1D {
	return Bounds1D{Min: math.Min(b.Min, other.Min), Max: math.Max(b.Max, other.Max)}
}

func boundsOf(values []float64) Bounds1D {
	b := Bounds1D{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, v := range values {
		b.Min = math.Min(b.Min, v)
		b.Max = math.Max(b.Max, v)
	}
	return b
}
