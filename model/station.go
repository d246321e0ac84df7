package model

import (
	"fmt"

	"github.com/samber/lo"
)

// maxNSLFieldLen bounds each of the network/station/location-code fields,
// mirroring the teacher's convention of bounding identifier-like fields
// (e.g. the GSF NSL-like sensor/serial identifiers) rather than leaving
// them unbounded strings.
const maxNSLFieldLen = 16

// NSL is the network/station/location-code triple identifying a receiver
// channel group.
type NSL struct {
	Network  string `json:"network" yaml:"network"`
	Station  string `json:"station" yaml:"station"`
	Location string `json:"location" yaml:"location"`
}

// String renders the NSL as "{network}.{station}.{location}".
func (n NSL) String() string {
	return fmt.Sprintf("%s.%s.%s", n.Network, n.Station, n.Location)
}

// valid reports whether every field of n is within maxNSLFieldLen.
func (n NSL) valid() bool {
	return len(n.Network) <= maxNSLFieldLen &&
		len(n.Station) <= maxNSLFieldLen &&
		len(n.Location) <= maxNSLFieldLen
}

// Station is a Location plus its NSL identity. Two stations compare equal
// only when both their coordinates and their NSL match.
type Station struct {
	NSL
	Location `yaml:",inline"`
}

// Equal reports whether two stations share both coordinate identity and
// NSL.
func (s Station) Equal(other Station) bool {
	return s.NSL == other.NSL &&
		s.Lat == other.Lat && s.Lon == other.Lon && s.Elevation == other.Elevation &&
		s.EastShift == other.EastShift && s.NorthShift == other.NorthShift && s.Depth == other.Depth
}

func (s Station) isZero() bool {
	return s.Lat == 0 && s.Lon == 0 && s.Elevation == 0 &&
		s.EastShift == 0 && s.NorthShift == 0 && s.Depth == 0
}

// Stations is a de-duplicated collection of Station with a blacklist of
// NSL strings. Iteration and Len exclude blacklisted entries; blacklisting
// does not remove the underlying Station, and Find still returns it. No
// method removes an entry from the blacklist.
type Stations struct {
	all       []Station
	blacklist map[string]bool
}

// NewStations constructs a Stations collection from raw input, dropping
// duplicates (matched by NSL) and stations with all-zero coordinates.
func NewStations(stations []Station) *Stations {
	seen := make(map[NSL]bool, len(stations))
	kept := make([]Station, 0, len(stations))

	for _, st := range stations {
		if st.isZero() {
			continue
		}
		if !st.NSL.valid() {
			continue
		}
		if seen[st.NSL] {
			continue
		}
		seen[st.NSL] = true
		kept = append(kept, st)
	}

	return &Stations{all: kept, blacklist: make(map[string]bool)}
}

// Blacklist marks the given NSL strings (rendered as "net.sta.loc") as
// excluded from iteration and Len.
func (s *Stations) Blacklist(nsl ...string) {
	for _, n := range nsl {
		s.blacklist[n] = true
	}
}

// IsBlacklisted reports whether the given station is currently excluded.
func (s *Stations) IsBlacklisted(st Station) bool {
	return s.blacklist[st.NSL.String()]
}

// All returns every non-blacklisted station, in insertion order.
func (s *Stations) All() []Station {
	return lo.Filter(s.all, func(st Station, _ int) bool {
		return !s.blacklist[st.NSL.String()]
	})
}

// Len returns the count of non-blacklisted stations.
func (s *Stations) Len() int {
	n := 0
	for _, st := range s.all {
		if !s.blacklist[st.NSL.String()] {
			n++
		}
	}
	return n
}

// Find returns the station matching the given NSL and whether it was
// found among all (including blacklisted) stations.
func (s *Stations) Find(nsl NSL) (Station, bool) {
	for _, st := range s.all {
		if st.NSL == nsl {
			return st, true
		}
	}
	return Station{}, false
}
