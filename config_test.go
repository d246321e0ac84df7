package qseek

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/model"
)

func validConfig() Configuration {
	cfg := DefaultConfiguration()
	cfg.RayTracers = []TaggedKind{{Kind: "cake:P"}, {Kind: "cake:S"}}
	return cfg
}

func TestConfigurationValidateDerivesWindowPadding(t *testing.T) {
	cfg := validConfig()
	cfg.WindowLength = 60
	err := cfg.Validate(3.0, 1.0)
	require.NoError(t, err)
	require.InDelta(t, 3.0+cfg.DetectionBlinding+1.0, cfg.WindowPadding, 1e-9)
}

func TestConfigurationValidateRejectsBadSamplingRate(t *testing.T) {
	cfg := validConfig()
	cfg.SamplingRate = 37
	require.ErrorIs(t, cfg.Validate(1, 1), ErrConfig)
}

func TestConfigurationValidateRejectsNonPositiveThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.DetectionThreshold = 0
	require.ErrorIs(t, cfg.Validate(1, 1), ErrConfig)
}

func TestConfigurationValidateRejectsSplitThresholdOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.NodeSplitThreshold = 1.0
	require.ErrorIs(t, cfg.Validate(1, 1), ErrConfig)
}

func TestConfigurationValidateRejectsDuplicateRayTracerPhase(t *testing.T) {
	cfg := validConfig()
	cfg.RayTracers = []TaggedKind{{Kind: "cake:P"}, {Kind: "cake:P"}}
	require.ErrorIs(t, cfg.Validate(1, 1), ErrConfig)
}

func TestConfigurationValidateRejectsShortWindowLength(t *testing.T) {
	cfg := validConfig()
	cfg.WindowLength = 1
	require.ErrorIs(t, cfg.Validate(10, 10), ErrConfig)
}

func TestConfigurationNewOctreeUsesBlock(t *testing.T) {
	cfg := validConfig()
	octree, err := cfg.NewOctree(model.NewLocation(45, 10, 0))
	require.NoError(t, err)
	require.Equal(t, cfg.Octree.RootSize, octree.RootSize)
	require.Equal(t, cfg.Octree.SizeLimit, octree.SizeLimit)
}

func TestSaveLoadConfigRoundTrips(t *testing.T) {
	cfg := validConfig()
	cfg.ProjectDir = "my-run"

	path := filepath.Join(t.TempDir(), "search.json")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ProjectDir, loaded.ProjectDir)
	require.Equal(t, cfg.SamplingRate, loaded.SamplingRate)
	require.Len(t, loaded.RayTracers, len(cfg.RayTracers))
}
