package traveltime

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/streamio"
	"github.com/qseek/qseek/tiledbutil"
)

// ErrVolumeSchema covers failures building or reading back a station
// travel-time volume's TileDB array schema.
var ErrVolumeSchema = errors.New("traveltime: eikonal volume schema error")

// volumeRow is the TileDB-attribute view of an eikonalVolume's flattened
// travel-time grid: a single attribute whose buffer is the full
// [nEast*nNorth*nDepth] array, walked the same reflection-driven way
// earthModelRow's per-layer attributes are (tiledbutil.SchemaAttrs /
// tiledbutil.SetStructFieldBuffers), rather than a one-off SetDataBuffer
// call naming the attribute by a separate string literal.
type volumeRow struct {
	TravelTime []float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
}

// SaveTileDB persists v as a dense TileDB array of shape
// [nEast, nNorth, nDepth] with a single TravelTime float64 attribute, at
// uri. The array's metadata carries the grid geometry needed to
// reconstruct coordinate lookups on load.
func (v *eikonalVolume) SaveTileDB(ctx *tiledb.Context, uri string) error {
	dEast, err := tiledb.NewDimension(ctx, "east", tiledb.TILEDB_INT32, []int32{0, int32(v.nEast - 1)}, int32(v.nEast))
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	dNorth, err := tiledb.NewDimension(ctx, "north", tiledb.TILEDB_INT32, []int32{0, int32(v.nNorth - 1)}, int32(v.nNorth))
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	dDepth, err := tiledb.NewDimension(ctx, "depth", tiledb.TILEDB_INT32, []int32{0, int32(v.nDepth - 1)}, int32(v.nDepth))
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}

	domain, err := tiledb.NewDomain(ctx)
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	defer domain.Free()
	if err := domain.AddDimensions(dEast, dNorth, dDepth); err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}

	schema, err := tiledb.NewArraySchema(ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	defer schema.Free()
	if err := schema.SetDomain(domain); err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	if err := schema.SetCellOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	if err := schema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}

	row := volumeRow{TravelTime: v.times}
	if err := tiledbutil.SchemaAttrs(&row, schema, ctx); err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}

	newArray, err := tiledb.NewArray(ctx, uri)
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	if err := newArray.Create(schema); err != nil {
		newArray.Free()
		return errors.Join(ErrVolumeSchema, err)
	}
	newArray.Free()

	array, err := tiledbutil.ArrayOpen(ctx, uri, tiledb.TILEDB_WRITE)
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	defer array.Free()
	defer array.Close()

	query, err := tiledb.NewQuery(ctx, array)
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	defer query.Free()
	if err := query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	if err := tiledbutil.SetStructFieldBuffers(query, &row); err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	if err := query.Submit(); err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}

	meta := map[string]any{
		"nsl": v.NSL.String(), "east_min": v.EastBounds.Min, "east_max": v.EastBounds.Max,
		"north_min": v.NorthBounds.Min, "north_max": v.NorthBounds.Max,
		"depth_min": v.DepthBounds.Min, "depth_max": v.DepthBounds.Max, "spacing": v.Spacing,
	}
	return tiledbutil.WriteArrayMetadata(ctx, uri, "geometry", meta)
}

// archiveURI returns the array path for a station's volume:
// {dir}/{station_nsl}-{velocity_model_hash}.3dtt, per §4.2.
func archiveURI(dir string, t *EikonalTable, nsl fmt.Stringer) string {
	return fmt.Sprintf("%s/%s-%s.3dtt", dir, nsl.String(), t.Model.Hash())
}

// rawArchiveURI is the path for a combined raw-binary sidecar holding
// every prepared station's volume for one table, an alternative to one
// TileDB dense array per station that's cheaper to produce and reload in
// bulk for small-to-medium station counts.
func rawArchiveURI(dir string, t *EikonalTable) string {
	return fmt.Sprintf("%s/volumes-%s.rawtt", dir, t.Model.Hash())
}

// SaveRawArchive writes every volume currently held by t (post-Prepare)
// to a single combined raw-binary file at uri: a sequence of
// variable-length records, one per station, each padded to a 4-byte
// boundary. Adapted from the teacher's GSF file framing (file.go), which
// reads a sequence of variable-length ping records the same way; here the
// per-record length varies with the station NSL's field lengths rather
// than a sonar ping's beam count.
func (t *EikonalTable) SaveRawArchive(ctx *tiledb.Context, config *tiledb.Config, uri string) error {
	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	defer vfs.Free()

	fh, err := vfs.Open(uri, tiledb.TILEDB_VFS_WRITE)
	if err != nil {
		return errors.Join(ErrVolumeSchema, err)
	}
	defer fh.Close()

	for _, vol := range t.volumes {
		if err := writeRawVolume(fh, vol); err != nil {
			return errors.Join(ErrVolumeSchema, err)
		}
	}
	return nil
}

func writeRawVolume(w io.Writer, v *eikonalVolume) error {
	buf := new(bytes.Buffer)
	for _, field := range []string{v.NSL.Network, v.NSL.Station, v.NSL.Location} {
		if err := binary.Write(buf, binary.BigEndian, int32(len(field))); err != nil {
			return err
		}
		buf.WriteString(field)
	}
	bounds := []float64{
		v.EastBounds.Min, v.EastBounds.Max,
		v.NorthBounds.Min, v.NorthBounds.Max,
		v.DepthBounds.Min, v.DepthBounds.Max,
		v.Spacing,
	}
	if err := binary.Write(buf, binary.BigEndian, bounds); err != nil {
		return err
	}
	dims := []int32{int32(v.nEast), int32(v.nNorth), int32(v.nDepth)}
	if err := binary.Write(buf, binary.BigEndian, dims); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, v.times); err != nil {
		return err
	}

	if pad := buf.Len() % 4; pad != 0 {
		buf.Write(make([]byte, 4-pad))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// LoadRawArchive reads back every volume persisted by SaveRawArchive,
// keyed by station NSL string, ready to seed an EikonalTable's volumes
// map without re-solving the eikonal equation. Record boundaries are
// recovered with streamio.Tell/streamio.Padding exactly as the teacher's
// GSF reader resynchronizes between variable-length ping records.
func LoadRawArchive(ctx *tiledb.Context, config *tiledb.Config, uri string) (map[string]*eikonalVolume, error) {
	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		return nil, errors.Join(ErrVolumeSchema, err)
	}
	defer vfs.Free()

	size, err := vfs.FileSize(uri)
	if err != nil {
		return nil, errors.Join(ErrVolumeSchema, err)
	}
	fh, err := vfs.Open(uri, tiledb.TILEDB_VFS_READ)
	if err != nil {
		return nil, errors.Join(ErrVolumeSchema, err)
	}
	defer fh.Close()

	stream, err := streamio.GenericStream(fh, size, true)
	if err != nil {
		return nil, errors.Join(ErrVolumeSchema, err)
	}

	volumes := make(map[string]*eikonalVolume)
	for {
		pos, err := streamio.Tell(stream)
		if err != nil {
			return nil, errors.Join(ErrVolumeSchema, err)
		}
		if pos >= int64(size) {
			break
		}
		vol, err := readRawVolume(stream)
		if err != nil {
			return nil, errors.Join(ErrVolumeSchema, err)
		}
		streamio.Padding(stream)
		volumes[vol.NSL.String()] = vol
	}
	return volumes, nil
}

func readRawVolume(r streamio.Stream) (*eikonalVolume, error) {
	var network, station, location string
	for _, dst := range []*string{&network, &station, &location} {
		var n int32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		*dst = string(buf)
	}

	bounds := make([]float64, 7)
	if err := binary.Read(r, binary.BigEndian, bounds); err != nil {
		return nil, err
	}
	dims := make([]int32, 3)
	if err := binary.Read(r, binary.BigEndian, dims); err != nil {
		return nil, err
	}

	v := &eikonalVolume{
		NSL:         model.NSL{Network: network, Station: station, Location: location},
		EastBounds:  Bounds1D{Min: bounds[0], Max: bounds[1]},
		NorthBounds: Bounds1D{Min: bounds[2], Max: bounds[3]},
		DepthBounds: Bounds1D{Min: bounds[4], Max: bounds[5]},
		Spacing:     bounds[6],
		nEast:       int(dims[0]),
		nNorth:      int(dims[1]),
		nDepth:      int(dims[2]),
	}
	v.times = make([]float64, v.nEast*v.nNorth*v.nDepth)
	if err := binary.Read(r, binary.BigEndian, v.times); err != nil {
		return nil, err
	}
	return v, nil
}
