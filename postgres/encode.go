package postgres

import (
	"fmt"
	"reflect"

	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/bx"
)

// Encoder is implemented by host types that write their own binary
// representation. A type that also implements Type declares the parameter
// type; otherwise the server infers it.
type Encoder interface {
	EncodePostgres(buf *ArgumentBuffer) novadb.IsNull
}

type encodeFunc = func(*ArgumentBuffer) novadb.IsNull

func encodeNull(*ArgumentBuffer) novadb.IsNull { return novadb.Null }

// encoderFor picks the parameter type and binary encoder for a host value. A
// nil pointer is SQL NULL typed after its element.
func encoderFor(v any) (TypeInfo, encodeFunc, error) {
	switch x := v.(type) {
	case nil:
		return TypeInfo{}, encodeNull, nil
	case NamedArray:
		enc, err := x.encoder()
		return x.PostgresType(), enc, err
	case Encoder:
		var ti TypeInfo
		if t, ok := v.(Type); ok {
			ti = t.PostgresType()
		}
		return ti, x.EncodePostgres, nil
	case bool:
		return TypeInfoOf(OIDBool), scalar(x, appendBool), nil
	case int8:
		return TypeInfoOf(OIDChar), scalar(x, appendChar), nil
	case int16:
		return TypeInfoOf(OIDInt2), scalar(x, bx.AppendI16), nil
	case int32:
		return TypeInfoOf(OIDInt4), scalar(x, bx.AppendI32), nil
	case int64:
		return TypeInfoOf(OIDInt8), scalar(x, bx.AppendI64), nil
	case int:
		return TypeInfoOf(OIDInt8), scalar(int64(x), bx.AppendI64), nil
	case uint32:
		return TypeInfoOf(OIDOid), scalar(x, bx.AppendU32), nil
	case float32:
		return TypeInfoOf(OIDFloat4), scalar(x, bx.AppendF32), nil
	case float64:
		return TypeInfoOf(OIDFloat8), scalar(x, bx.AppendF64), nil
	case string:
		return TypeInfoOf(OIDText), scalar(x, appendString), nil
	case []byte:
		if x == nil {
			return TypeInfoOf(OIDBytea), encodeNull, nil
		}
		return TypeInfoOf(OIDBytea), scalar(x, appendBytes), nil
	case []bool:
		return TypeInfoOf(OIDBoolArray), array(OIDBool, x, appendBool), nil
	case []int16:
		return TypeInfoOf(OIDInt2Array), array(OIDInt2, x, bx.AppendI16), nil
	case []int32:
		return TypeInfoOf(OIDInt4Array), array(OIDInt4, x, bx.AppendI32), nil
	case []int64:
		return TypeInfoOf(OIDInt8Array), array(OIDInt8, x, bx.AppendI64), nil
	case []float32:
		return TypeInfoOf(OIDFloat4Array), array(OIDFloat4, x, bx.AppendF32), nil
	case []float64:
		return TypeInfoOf(OIDFloat8Array), array(OIDFloat8, x, bx.AppendF64), nil
	case []string:
		return TypeInfoOf(OIDTextArray), array(OIDText, x, appendString), nil
	case [][]byte:
		return TypeInfoOf(OIDByteaArray), array(OIDBytea, x, appendBytes), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			ti, _, err := encoderFor(reflect.Zero(rv.Type().Elem()).Interface())
			if err != nil {
				return TypeInfo{}, nil, err
			}
			return ti, encodeNull, nil
		}
		return encoderFor(rv.Elem().Interface())
	}
	return TypeInfo{}, nil, fmt.Errorf("%w: %T cannot be encoded for postgres", novadb.ErrUnsupportedType, v)
}

func scalar[T any](v T, appendFn func([]byte, T) []byte) encodeFunc {
	return func(b *ArgumentBuffer) novadb.IsNull {
		b.data = appendFn(b.data, v)
		return novadb.NotNull
	}
}

// array writes the one-dimensional binary array format: dimension count,
// has-null flag, element type, then size and lower bound of the dimension
// followed by the length-prefixed elements.
func array[T any](elem uint32, xs []T, appendFn func([]byte, T) []byte) encodeFunc {
	return func(b *ArgumentBuffer) novadb.IsNull {
		writeArrayHeader(b, len(xs), false, func(b *ArgumentBuffer) { b.data = bx.AppendU32(b.data, elem) })
		elemType := TypeInfoOf(elem)
		for _, x := range xs {
			b.encodeValue(elemType, scalar(x, appendFn))
		}
		return novadb.NotNull
	}
}

func writeArrayHeader(b *ArgumentBuffer, n int, hasNull bool, writeElemType func(*ArgumentBuffer)) {
	ndim := int32(1)
	if n == 0 {
		ndim = 0
	}
	b.data = bx.AppendI32(b.data, ndim)
	if hasNull {
		b.data = bx.AppendI32(b.data, 1)
	} else {
		b.data = bx.AppendI32(b.data, 0)
	}
	writeElemType(b)
	if ndim == 0 {
		return
	}
	b.data = bx.AppendI32(b.data, int32(n))
	b.data = bx.AppendI32(b.data, 1)
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendChar(b []byte, v int8) []byte     { return append(b, byte(v)) }
func appendString(b []byte, v string) []byte { return append(b, v...) }
func appendBytes(b []byte, v []byte) []byte  { return append(b, v...) }

// NamedArray is a one-dimensional array of a user-defined type known only by
// name, such as an enum. The element and array type identifiers are looked up
// on the connection the first time they are needed.
type NamedArray struct {
	// ElemType is the element type name as in pg_type.typname.
	ElemType string
	Elems    []any
}

// PostgresType names the array type, which PostgreSQL calls "_" + ElemType.
func (a NamedArray) PostgresType() TypeInfo {
	return TypeInfoNamed("_" + a.ElemType)
}

func (a NamedArray) encoder() (encodeFunc, error) {
	types := make([]TypeInfo, len(a.Elems))
	encs := make([]encodeFunc, len(a.Elems))
	hasNull := false
	for i, v := range a.Elems {
		ti, enc, err := encoderFor(v)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s[] element %d: %w", a.ElemType, i, err)
		}
		if isNil(v) {
			hasNull = true
		}
		types[i], encs[i] = ti, enc
	}

	return func(b *ArgumentBuffer) novadb.IsNull {
		writeArrayHeader(b, len(encs), hasNull, func(b *ArgumentBuffer) { b.AppendTypeHole(a.ElemType) })
		for i, enc := range encs {
			b.encodeValue(types[i], enc)
		}
		return novadb.NotNull
	}, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
