package traveltime

import (
	"errors"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/qseek/qseek/tiledbutil"
)

// ErrEarthModelTdb covers failures persisting or loading an EarthModel's
// layer table as a TileDB array.
var ErrEarthModelTdb = errors.New("traveltime: error persisting earth model to TileDB")

// earthModelRow is the TileDB-attribute view of EarthModel.Layers: one row
// per layer, indexed by layer position. Adapted from the teacher's
// row-indexed sound-velocity-profile array (svp.go), generalized from a
// single acquisition's depth/velocity pair to an arbitrary-length layered
// model and from float32 to float64.
type earthModelRow struct {
	DepthM []float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
	Vp     []float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
	Vs     []float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
}

// SaveTileDB persists m's layers as a dense, row-indexed TileDB array at
// uri, one row per layer.
func (m EarthModel) SaveTileDB(ctx *tiledb.Context, uri string) error {
	nrows := uint64(len(m.Layers))

	domain, err := tiledb.NewDomain(ctx)
	if err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	defer domain.Free()

	dim, err := tiledb.NewDimension(ctx, "layer", tiledb.TILEDB_UINT64, []uint64{0, nrows - 1}, nrows)
	if err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	defer dim.Free()
	if err := domain.AddDimensions(dim); err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}

	schema, err := tiledb.NewArraySchema(ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	defer schema.Free()
	if err := schema.SetDomain(domain); err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	if err := schema.SetCellOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	if err := schema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}

	row := m.asRow()
	if err := tiledbutil.SchemaAttrs(&row, schema, ctx); err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}

	newArray, err := tiledb.NewArray(ctx, uri)
	if err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	if err := newArray.Create(schema); err != nil {
		newArray.Free()
		return errors.Join(ErrEarthModelTdb, err)
	}
	newArray.Free()

	array, err := tiledbutil.ArrayOpen(ctx, uri, tiledb.TILEDB_WRITE)
	if err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	defer array.Free()
	defer array.Close()

	query, err := tiledb.NewQuery(ctx, array)
	if err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	defer query.Free()
	if err := query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	if err := tiledbutil.SetStructFieldBuffers(query, &row); err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	if err := query.Submit(); err != nil {
		return errors.Join(ErrEarthModelTdb, err)
	}
	return query.Finalize()
}

func (m EarthModel) asRow() earthModelRow {
	var row earthModelRow
	tiledbutil.ChunkedStructSlices(&row, len(m.Layers))
	for _, l := range m.Layers {
		row.DepthM = append(row.DepthM, l.DepthM)
		row.Vp = append(row.Vp, l.Vp)
		row.Vs = append(row.Vs, l.Vs)
	}
	return row
}
