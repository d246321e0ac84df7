package qseek

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitRunDirCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	rd, err := InitRunDir(root, false)
	require.NoError(t, err)

	require.DirExists(t, rd.Root)
	require.DirExists(t, filepath.Dir(rd.StationsCSV()))
	require.DirExists(t, rd.Detections())
}

func TestInitRunDirRejectsExistingWithoutForce(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	_, err := InitRunDir(root, false)
	require.NoError(t, err)

	_, err = InitRunDir(root, false)
	require.ErrorIs(t, err, ErrConfig)
}

func TestInitRunDirForceRenamesExisting(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	_, err := InitRunDir(root, false)
	require.NoError(t, err)

	rd, err := InitRunDir(root, true)
	require.NoError(t, err)
	require.DirExists(t, rd.Root)

	backups, err := filepath.Glob(root + ".bak-*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
}

func TestOpenRunDirRequiresSearchJSON(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	_, err := InitRunDir(root, false)
	require.NoError(t, err)

	_, err = OpenRunDir(root)
	require.ErrorIs(t, err, ErrData)

	require.NoError(t, SaveConfig(filepath.Join(root, "search.json"), DefaultConfiguration()))
	rd, err := OpenRunDir(root)
	require.NoError(t, err)
	require.Equal(t, root, rd.Root)
}

func TestSaveLoadProgressRoundTrips(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	rd, err := InitRunDir(root, false)
	require.NoError(t, err)

	empty, err := rd.LoadProgress()
	require.NoError(t, err)
	require.True(t, empty.TimeProgress.IsZero())

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, rd.SaveProgress(now))

	loaded, err := rd.LoadProgress()
	require.NoError(t, err)
	require.WithinDuration(t, now, loaded.TimeProgress, time.Second)
}
