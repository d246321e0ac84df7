package qseek

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/qseek/qseek/tiledbutil"
)

// RunDir is the on-disk layout described in §6:
//
//	rundir/
//	  search.json
//	  progress.json
//	  stations.yaml
//	  csv/stations.csv
//	  qseek.log
//	  detections/...
type RunDir struct {
	Root string
}

func (r RunDir) SearchJSON() string     { return filepath.Join(r.Root, "search.json") }
func (r RunDir) ProgressJSON() string   { return filepath.Join(r.Root, "progress.json") }
func (r RunDir) StationsYAML() string   { return filepath.Join(r.Root, "stations.yaml") }
func (r RunDir) StationsCSV() string    { return filepath.Join(r.Root, "csv", "stations.csv") }
func (r RunDir) Log() string            { return filepath.Join(r.Root, "qseek.log") }
func (r RunDir) Detections() string     { return filepath.Join(r.Root, "detections") }

// Progress is the persisted {time_progress: <iso8601>} document (§6).
type Progress struct {
	TimeProgress time.Time `json:"time_progress"`
}

// InitRunDir creates a fresh run directory at root. When force is true
// and root already exists, the existing directory is renamed to
// "NAME.bak-<mtime>" first, where <mtime> is the directory's modification
// time formatted as 20060102T150405 (its creation time is not used);
// without force, an existing rundir is a fatal ConfigError. Directory
// creation and renaming use the standard library directly: no example in
// the retrieved pack wraps whole-directory filesystem management (as
// opposed to individual file I/O) behind a third-party library, and
// TileDB's VFS has no rename-directory primitive to substitute.
func InitRunDir(root string, force bool) (*RunDir, error) {
	info, err := os.Stat(root)
	if err == nil && info.IsDir() {
		if !force {
			return nil, errors.Join(ErrConfig, fmt.Errorf("run directory %q already exists", root))
		}
		backup := fmt.Sprintf("%s.bak-%s", root, info.ModTime().Format("20060102T150405"))
		if err := os.Rename(root, backup); err != nil {
			return nil, errors.Join(ErrIO, err)
		}
	} else if err != nil && !os.IsNotExist(err) {
		return nil, errors.Join(ErrIO, err)
	}

	rd := &RunDir{Root: root}
	for _, dir := range []string{rd.Root, filepath.Dir(rd.StationsCSV()), rd.Detections()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Join(ErrIO, err)
		}
	}
	return rd, nil
}

// OpenRunDir resolves an existing run directory for `continue` /
// `feature-extraction` / `corrections`, failing if search.json is absent.
func OpenRunDir(root string) (*RunDir, error) {
	rd := &RunDir{Root: root}
	if _, err := os.Stat(rd.SearchJSON()); err != nil {
		return nil, errors.Join(ErrData, fmt.Errorf("not a run directory (missing search.json): %s", root))
	}
	return rd, nil
}

// SaveProgress persists the current progress timestamp, per §5's
// cancellation contract: progress only advances after a batch's
// detections are enqueued.
func (r RunDir) SaveProgress(t time.Time) error {
	_, err := tiledbutil.WriteJson(r.ProgressJSON(), "", Progress{TimeProgress: t})
	return err
}

// LoadProgress reads back the resumable progress timestamp, used by the
// `continue` verb and by Search.Run's `from` argument (§4.8).
func (r RunDir) LoadProgress() (Progress, error) {
	var p Progress
	if _, err := os.Stat(r.ProgressJSON()); os.IsNotExist(err) {
		return Progress{}, nil
	}
	err := tiledbutil.ReadJson(r.ProgressJSON(), "", &p)
	return p, err
}
