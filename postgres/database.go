package postgres

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/tuannm99/novadb"
)

// DB is the PostgreSQL capability bundle returned by Row.Database.
var DB novadb.Database = database{}

type database struct{}

func (database) Name() string { return "postgres" }

func (database) Accepts(dst any, ti novadb.TypeInfo) bool {
	pti, ok := ti.(TypeInfo)
	if !ok {
		return false
	}
	return accepts(dst, pti)
}

func (database) Decode(dst any, v novadb.ValueRef) error {
	ref, ok := v.(ValueRef)
	if !ok {
		return fmt.Errorf("%w: %T is not a postgres value", novadb.ErrTypeMismatch, v)
	}
	return decodeInto(dst, ref)
}

func (database) DecodeAny(v novadb.ValueRef) (any, error) {
	ref, ok := v.(ValueRef)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a postgres value", novadb.ErrTypeMismatch, v)
	}
	return decodeAny(ref)
}

func accepts(dst any, ti TypeInfo) bool {
	oid := ti.oid
	switch dst.(type) {
	case *any:
		return true
	case *bool:
		return oid == OIDBool
	case *int8:
		return oid == OIDChar
	case *int16:
		return oid == OIDInt2
	case *int32:
		return oid == OIDInt4
	case *int64:
		return oid == OIDInt8
	case *int:
		return oid == OIDInt2 || oid == OIDInt4 || oid == OIDInt8
	case *uint32:
		return oid == OIDOid
	case *float32:
		return oid == OIDFloat4
	case *float64:
		return oid == OIDFloat8
	case *string:
		return isTextual(oid)
	case *[]byte:
		return oid == OIDBytea
	case *[]bool:
		return oid == OIDBoolArray
	case *[]int16:
		return oid == OIDInt2Array
	case *[]int32:
		return oid == OIDInt4Array
	case *[]int64:
		return oid == OIDInt8Array
	case *[]float32:
		return oid == OIDFloat4Array
	case *[]float64:
		return oid == OIDFloat8Array
	case *[]string:
		return oid == OIDTextArray || oid == OIDVarcharArray || oid == OIDBPCharArray || oid == OIDNameArray
	case *[][]byte:
		return oid == OIDByteaArray
	}

	if t, ok := dst.(Type); ok {
		return sameType(t.PostgresType(), ti)
	}
	if _, ok := dst.(Decoder); ok {
		return true
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() == reflect.Pointer && rv.Type().Elem().Kind() == reflect.Pointer {
		return accepts(reflect.New(rv.Type().Elem().Elem()).Interface(), ti)
	}
	return false
}

func isTextual(oid uint32) bool {
	switch oid {
	case OIDText, OIDVarchar, OIDBPChar, OIDName, OIDUnknown:
		return true
	}
	return false
}

// sameType compares by identifier, or by name when the declared type was
// never resolved.
func sameType(declared, actual TypeInfo) bool {
	if declared.oid != 0 {
		return declared.oid == actual.oid
	}
	return strings.EqualFold(declared.name, actual.name)
}
