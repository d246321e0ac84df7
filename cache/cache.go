// Package cache manages the process-wide on-disk cache directory that the
// travel-time subsystem persists sptree/3dtt archives under, partitioned
// by subsystem, and supports the `clear-cache` CLI verb.
package cache

import (
	"path/filepath"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// Subsystem names the cache partition, one directory per travel-time
// provider kind.
type Subsystem string

const (
	Layered Subsystem = "layered"
	Eikonal Subsystem = "eikonal"
)

// Dir returns the partitioned cache directory for a subsystem under root.
func Dir(root string, sub Subsystem) string {
	return filepath.Join(root, string(sub))
}

// trawl recursively lists every file under uri whose basename matches
// pattern, via the TileDB VFS so a cache directory may live on an object
// store as well as the local filesystem. Adapted from the teacher's GSF
// file-discovery trawl (search/search.go) generalized from a single
// fixed "*.gsf" pattern to an arbitrary glob.
func trawl(vfs *tiledb.VFS, pattern, uri string, items []string) ([]string, error) {
	dirs, files, err := vfs.List(uri)
	if err != nil {
		return items, err
	}

	for _, file := range files {
		match, err := filepath.Match(pattern, filepath.Base(file))
		if err != nil {
			return items, err
		}
		if match {
			items = append(items, file)
		}
	}

	for _, dir := range dirs {
		items, err = trawl(vfs, pattern, dir, items)
		if err != nil {
			return items, err
		}
	}
	return items, nil
}

// Find lists every cached archive under root/sub matching pattern (e.g.
// "*.sptree" or "*.3dtt").
func Find(ctx *tiledb.Context, config *tiledb.Config, root string, sub Subsystem, pattern string) ([]string, error) {
	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return nil, err
	}
	defer vfs.Free()

	dir := Dir(root, sub)
	exists, err := vfs.IsDir(dir)
	if err != nil || !exists {
		return nil, nil
	}
	return trawl(vfs, pattern, dir, nil)
}

// Clear removes every cached archive across both subsystems under root,
// backing the `clear-cache` CLI verb.
func Clear(ctx *tiledb.Context, config *tiledb.Config, root string) (int, error) {
	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return 0, err
	}
	defer vfs.Free()

	removed := 0
	for _, sub := range []Subsystem{Layered, Eikonal} {
		dir := Dir(root, sub)
		exists, err := vfs.IsDir(dir)
		if err != nil || !exists {
			continue
		}
		files, err := trawl(vfs, "*", dir, nil)
		if err != nil {
			return removed, err
		}
		for _, f := range files {
			if err := vfs.RemoveFile(f); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
