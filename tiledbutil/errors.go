package tiledbutil

import (
	"errors"
)

// TileDB persistence helper errors, grounded on the teacher's generic
// (sensor-agnostic) reflection-driven attribute builder (schema.go,
// tiledb.go in the teacher repo).
var (
	ErrCreateAttributeTdb = errors.New("tiledbutil: error creating TileDB attribute")
	ErrCreateSchemaTdb    = errors.New("tiledbutil: error creating TileDB array schema")
	ErrCreateDimTdb       = errors.New("tiledbutil: error creating TileDB dimension")
)
