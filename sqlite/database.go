package sqlite

import (
	"fmt"
	"reflect"

	"github.com/tuannm99/novadb"
)

// DB is the SQLite capability bundle returned by Row.Database.
var DB novadb.Database = database{}

type database struct{}

func (database) Name() string { return "sqlite" }

func (database) Accepts(dst any, ti novadb.TypeInfo) bool {
	sti, ok := ti.(TypeInfo)
	if !ok {
		return false
	}
	return accepts(dst, sti.typ)
}

func (database) Decode(dst any, v novadb.ValueRef) error {
	ref, err := asRef(v)
	if err != nil {
		return err
	}
	return decodeInto(dst, ref)
}

func (database) DecodeAny(v novadb.ValueRef) (any, error) {
	ref, err := asRef(v)
	if err != nil {
		return nil, err
	}
	return decodeAny(ref.value()), nil
}

func asRef(v novadb.ValueRef) (ValueRef, error) {
	if r, ok := v.(ValueRef); ok {
		return r, nil
	}
	return ValueRef{}, fmt.Errorf("%w: %T is not a sqlite value", novadb.ErrTypeMismatch, v)
}

// accepts reports whether a value stored as t may be read into dst. Integer
// storage widens to floats and booleans, as SQLite itself converts them.
func accepts(dst any, t DataType) bool {
	switch dst.(type) {
	case *any:
		return true
	case *bool, *int8, *int16, *int32, *int64, *int:
		return t.integer()
	case *float32, *float64:
		return t == DataTypeFloat || t.integer()
	case *string:
		return t == DataTypeText
	case *[]byte:
		return t == DataTypeBlob || t == DataTypeText
	}

	if typ, ok := dst.(Type); ok {
		return compatible(typ.SqliteType().typ, t)
	}
	if _, ok := dst.(Decoder); ok {
		return true
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() == reflect.Pointer && rv.Type().Elem().Kind() == reflect.Pointer {
		return accepts(reflect.New(rv.Type().Elem().Elem()).Interface(), t)
	}
	return false
}

func compatible(declared, actual DataType) bool {
	if declared.integer() {
		return actual.integer()
	}
	return declared == actual
}
