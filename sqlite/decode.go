package sqlite

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"github.com/tuannm99/novadb"
)

// Decoder is implemented by host types that read their own value.
// DecodeSqlite is never called with NULL.
type Decoder interface {
	DecodeSqlite(v ValueRef) error
}

func decodeInto(dst any, ref ValueRef) error {
	if d, ok := dst.(*any); ok {
		*d = decodeAny(ref.value())
		return nil
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("sqlite: decode destination must be a non-nil pointer, got %T", dst)
	}
	// **T is the optional form of *T: NULL leaves it nil.
	if rv.Elem().Kind() == reflect.Pointer {
		if _, ok := dst.(Decoder); !ok {
			if ref.IsNull() {
				rv.Elem().SetZero()
				return nil
			}
			p := reflect.New(rv.Elem().Type().Elem())
			if err := decodeInto(p.Interface(), ref); err != nil {
				return err
			}
			rv.Elem().Set(p)
			return nil
		}
	}

	if ref.IsNull() {
		return novadb.ErrUnexpectedNull
	}
	if d, ok := dst.(Decoder); ok {
		return d.DecodeSqlite(ref)
	}

	v := ref.value()
	switch d := dst.(type) {
	case *bool:
		if !v.typ.integer() {
			return mismatch(dst, v)
		}
		*d = v.i != 0
	case *int8:
		return decodeInt(d, v, math.MinInt8, math.MaxInt8)
	case *int16:
		return decodeInt(d, v, math.MinInt16, math.MaxInt16)
	case *int32:
		return decodeInt(d, v, math.MinInt32, math.MaxInt32)
	case *int64:
		return decodeInt(d, v, math.MinInt64, math.MaxInt64)
	case *int:
		return decodeInt(d, v, math.MinInt, math.MaxInt)
	case *float32:
		if v.typ != DataTypeFloat && !v.typ.integer() {
			return mismatch(dst, v)
		}
		*d = float32(v.Float())
	case *float64:
		if v.typ != DataTypeFloat && !v.typ.integer() {
			return mismatch(dst, v)
		}
		*d = v.Float()
	case *string:
		if v.typ != DataTypeText && v.typ != DataTypeBlob {
			return mismatch(dst, v)
		}
		*d = string(v.b)
	case *[]byte:
		if v.typ != DataTypeText && v.typ != DataTypeBlob {
			return mismatch(dst, v)
		}
		*d = bytes.Clone(v.b)
		if *d == nil {
			*d = []byte{}
		}
	default:
		return fmt.Errorf("%w: %T cannot be decoded from sqlite", novadb.ErrUnsupportedType, dst)
	}
	return nil
}

func decodeInt[T int8 | int16 | int32 | int64 | int](dst *T, v Value, lo, hi int64) error {
	if !v.typ.integer() {
		return mismatch(dst, v)
	}
	if v.i < lo || v.i > hi {
		return fmt.Errorf("sqlite: value %d out of range for %T", v.i, *dst)
	}
	*dst = T(v.i)
	return nil
}

func mismatch(dst any, v Value) error {
	return novadb.MismatchError(dst, TypeInfo{typ: v.typ})
}

// decodeAny returns the natural Go value of v's storage class.
func decodeAny(v Value) any {
	switch v.typ {
	case DataTypeInt, DataTypeInt64:
		return v.i
	case DataTypeBool:
		return v.i != 0
	case DataTypeFloat:
		return v.f
	case DataTypeText:
		return string(v.b)
	case DataTypeBlob:
		return bytes.Clone(v.b)
	}
	return nil
}
