package qseek

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/tiledbutil"
)

// validSamplingRates is the closed set a Configuration's SamplingRate must
// belong to (§6).
var validSamplingRates = []float64{10, 20, 25, 50, 100}

// TaggedKind is the common shape of every pluggable, `kind`-discriminated
// configuration entry (§9 "Tagged variants over inheritance"):
// waveform/data providers, ray tracers, image functions, station
// corrections, magnitude/feature extractors.
type TaggedKind struct {
	Kind   string         `json:"kind" yaml:"kind"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ImageFunctionConfig is one entry of the image_functions tagged list.
type ImageFunctionConfig struct {
	TaggedKind `yaml:",inline"`
	Phase      string  `json:"phase" yaml:"phase"`
	Blinding   float64 `json:"blinding" yaml:"blinding"`
	Weight     float64 `json:"weight" yaml:"weight"`
}

// OctreeConfig mirrors model.Octree's construction parameters.
type OctreeConfig struct {
	EastBounds  model.Bounds `json:"east_bounds" yaml:"east_bounds"`
	NorthBounds model.Bounds `json:"north_bounds" yaml:"north_bounds"`
	DepthBounds model.Bounds `json:"depth_bounds" yaml:"depth_bounds"`
	RootSize    float64      `json:"root_size" yaml:"root_size"`
	SizeLimit   float64      `json:"size_limit" yaml:"size_limit"`
}

// Configuration is the one structured document persisted as search.json
// (§6), immutable after a run directory is initialized.
type Configuration struct {
	ProjectDir  string          `json:"project_dir" yaml:"project_dir"`
	Stations    []model.Station `json:"stations" yaml:"stations"`
	StationsRef string          `json:"stations_ref,omitempty" yaml:"stations_ref,omitempty"`

	DataProvider      TaggedKind            `json:"data_provider" yaml:"data_provider"`
	Octree            OctreeConfig          `json:"octree" yaml:"octree"`
	ImageFunctions    []ImageFunctionConfig `json:"image_functions" yaml:"image_functions"`
	RayTracers        []TaggedKind          `json:"ray_tracers" yaml:"ray_tracers"`
	StationCorrections *TaggedKind          `json:"station_corrections,omitempty" yaml:"station_corrections,omitempty"`
	Magnitudes         []TaggedKind         `json:"magnitudes" yaml:"magnitudes"`
	Features           []TaggedKind         `json:"features" yaml:"features"`

	SamplingRate       float64 `json:"sampling_rate" yaml:"sampling_rate"`
	DetectionThreshold float64 `json:"detection_threshold" yaml:"detection_threshold"`
	NodeSplitThreshold float64 `json:"node_split_threshold" yaml:"node_split_threshold"`
	DetectionBlinding  float64 `json:"detection_blinding" yaml:"detection_blinding"`
	WindowLength       float64 `json:"window_length" yaml:"window_length"`
	NThreadsParstack   int     `json:"n_threads_parstack" yaml:"n_threads_parstack"`
	NThreadsArgmax     int     `json:"n_threads_argmax" yaml:"n_threads_argmax"`

	// WindowPadding is derived, not user-set; computed by Validate from
	// the ray tracers' shift range plus detection/image blinding (§4.8).
	WindowPadding float64 `json:"window_padding" yaml:"window_padding"`
}

// DefaultConfiguration returns a Configuration with the spec's stated
// defaults: node_split_threshold 0.9, sampling_rate 100, a modest octree.
func DefaultConfiguration() Configuration {
	return Configuration{
		ProjectDir: ".",
		Octree: OctreeConfig{
			EastBounds:  model.Bounds{Min: -10000, Max: 10000},
			NorthBounds: model.Bounds{Min: -10000, Max: 10000},
			DepthBounds: model.Bounds{Min: 0, Max: 20000},
			RootSize:    2000,
			SizeLimit:   250,
		},
		SamplingRate:       100,
		DetectionThreshold: 0.3,
		NodeSplitThreshold: 0.9,
		DetectionBlinding:  2.0,
		WindowLength:       60,
		NThreadsParstack:   0,
		NThreadsArgmax:     1,
	}
}

// Validate checks the static constraints in §6/§8 invariant 6 and derives
// WindowPadding from shiftRange (the caller supplies the max-minus-min
// travel time across all phases over the coarse octree, since that
// requires prepared travel-time tables) plus detection/image blinding.
func (c *Configuration) Validate(shiftRange, imageBlinding float64) error {
	if !lo.Contains(validSamplingRates, c.SamplingRate) {
		return errors.Join(ErrConfig, fmt.Errorf("sampling_rate %v not one of %v", c.SamplingRate, validSamplingRates))
	}
	if c.DetectionThreshold <= 0 {
		return errors.Join(ErrConfig, errors.New("detection_threshold must be > 0"))
	}
	if c.NodeSplitThreshold <= 0 || c.NodeSplitThreshold >= 1 {
		return errors.Join(ErrConfig, errors.New("node_split_threshold must be in (0,1)"))
	}
	if c.NThreadsArgmax <= 0 {
		return errors.Join(ErrConfig, errors.New("n_threads_argmax must be > 0"))
	}
	if c.NThreadsParstack < 0 {
		return errors.Join(ErrConfig, errors.New("n_threads_parstack must be >= 0"))
	}

	seen := make(map[string]bool)
	for _, rt := range c.RayTracers {
		if seen[rt.Kind] {
			return errors.Join(ErrConfig, fmt.Errorf("duplicate phase id %q", rt.Kind))
		}
		seen[rt.Kind] = true
	}

	c.WindowPadding = shiftRange + c.DetectionBlinding + imageBlinding
	if c.WindowLength < 2*c.WindowPadding+shiftRange {
		return errors.Join(ErrConfig, fmt.Errorf("window_length %v below required minimum %v", c.WindowLength, 2*c.WindowPadding+shiftRange))
	}
	return nil
}

// NewOctree realizes the configuration's octree block as a model.Octree
// template, anchored at the given geographic point.
func (c Configuration) NewOctree(anchor model.Location) (*model.Octree, error) {
	octree, err := model.NewOctree(c.Octree.EastBounds, c.Octree.NorthBounds, c.Octree.DepthBounds, c.Octree.RootSize, c.Octree.SizeLimit, anchor)
	if err != nil {
		return nil, errors.Join(ErrConfig, err)
	}
	return octree, nil
}

// SaveConfig persists cfg as search.json via the TileDB VFS, per §6.
func SaveConfig(path string, cfg Configuration) error {
	_, err := tiledbutil.WriteJson(path, "", cfg)
	return err
}

// LoadConfig reads search.json back via the TileDB VFS.
func LoadConfig(path string) (Configuration, error) {
	var cfg Configuration
	err := tiledbutil.ReadJson(path, "", &cfg)
	return cfg, err
}
