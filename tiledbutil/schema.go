package tiledbutil

import (
	"errors"
	"reflect"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	stgpsr "github.com/yuin/stagparser"
)

// FieldNames lists the exported field names of a struct, in declaration
// order. Used by the dump-schemas command to order a struct's fields the
// same way SchemaAttrs walks them for TileDB attributes.
func FieldNames(t any) (names []string) {
	names = make([]string, 0, 10)

	btype := reflect.TypeOf(t)
	for i := 0; i < btype.NumField(); i++ {
		if btype.Field(i).IsExported() {
			names = append(names, btype.Field(i).Name)
		}
	}
	return names
}

// ChunkedStructSlices pre-allocates every exported slice field of t to the
// given capacity, to avoid reallocation during incremental row-building
// (e.g. an earth-model or eikonal-volume row assembled layer by layer or
// station by station before being handed to a TileDB query buffer).
func ChunkedStructSlices(t any, length int) error {
	values := reflect.ValueOf(t).Elem()
	types := reflect.TypeOf(t).Elem()
	for i := 0; i < values.NumField(); i++ {
		field := values.Field(i)
		ftype := field.Type()
		if types.Field(i).IsExported() {
			field.Set(reflect.MakeSlice(ftype, 0, length))
		}
	}

	return nil
}

// SchemaAttrs walks the exported fields of t via stagparser's `tiledb` and
// `filters` tags and attaches one TileDB attribute per non-dimension field
// to schema. Dimension fields (ftype=dim) are skipped; the caller is
// expected to have already added them via tiledb.NewDimension.
func SchemaAttrs(t any, schema *tiledb.ArraySchema, ctx *tiledb.Context) error {
	var (
		field_tdb_defs map[string]stgpsr.Definition
		def            stgpsr.Definition
		status         bool
	)
	values := reflect.ValueOf(t).Elem()
	types := values.Type()
	filt_defs, _ := stgpsr.ParseStruct(t, "filters")
	tdb_defs, _ := stgpsr.ParseStruct(t, "tiledb")

	for i := 0; i < values.NumField(); i++ {
		name := types.Field(i).Name

		field_filt_defs := filt_defs[name]

		field_tdb_defs = make(map[string]stgpsr.Definition)
		for _, v := range tdb_defs[name] {
			field_tdb_defs[v.Name()] = v
		}

		def, status = field_tdb_defs["ftype"]
		if !status {
			return errors.Join(ErrCreateAttributeTdb, errors.New("ftype tag not found"))
		}
		ftype, _ := def.Attribute("ftype")
		if ftype == "dim" {
			continue
		}

		err := CreateAttr(name, field_filt_defs, field_tdb_defs, schema, ctx)
		if err != nil {
			return errors.Join(ErrCreateAttributeTdb, err)
		}
	}
	return nil
}
