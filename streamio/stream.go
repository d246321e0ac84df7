package streamio

import (
	"bytes"
	"encoding/binary"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// Stream caters for a generic reader type so travel-time archive readers
// can handle both a stream backed by a file on disk or object store and
// an in-memory byte stream the same way. Callers deal with either a
// *tiledb.VFSfh or a *bytes.Reader, and all that's needed of either is
// Read and Seek, which both implement.
type Stream interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
}

// GenericStream either buffers stream's full contents into an in-memory
// *bytes.Reader (inmem=true, the common case for archives small enough to
// hold whole) or returns the VFS handle itself for direct streaming reads.
func GenericStream(stream *tiledb.VFSfh, size uint64, inmem bool) (Stream, error) {
	if inmem {
		buffer := make([]byte, size)
		err := binary.Read(stream, binary.BigEndian, &buffer)
		if err != nil {
			return nil, err
		}
		reader := bytes.NewReader(buffer)
		return reader, nil
	} else {
		return stream, nil
	}
}

// Tell reports the current position within a stream opened for reading.
func Tell(stream Stream) (int64, error) {
	return stream.Seek(0, 1)
}

// Padding advances the stream to the next 4-byte boundary, used when a
// persisted binary payload (e.g. an eikonal volume's raw fallback format)
// requires 4-byte record alignment.
func Padding(stream Stream) {
	pos, _ := Tell(stream)
	pad := (4 - pos%4) % 4
	_, _ = stream.Seek(pad, 1)
}
