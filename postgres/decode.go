package postgres

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"

	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/bx"
)

// Decoder is implemented by host types that parse their own representation.
// DecodePostgres is never called with NULL.
type Decoder interface {
	DecodePostgres(v ValueRef) error
}

func decodeInto(dst any, v ValueRef) error {
	if d, ok := dst.(*any); ok {
		out, err := decodeAny(v)
		if err != nil {
			return err
		}
		*d = out
		return nil
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("postgres: decode destination must be a non-nil pointer, got %T", dst)
	}
	// **T is the optional form of *T: NULL leaves it nil.
	if rv.Elem().Kind() == reflect.Pointer {
		if _, ok := dst.(Decoder); !ok {
			if v.IsNull() {
				rv.Elem().SetZero()
				return nil
			}
			p := reflect.New(rv.Elem().Type().Elem())
			if err := decodeInto(p.Interface(), v); err != nil {
				return err
			}
			rv.Elem().Set(p)
			return nil
		}
	}

	if v.IsNull() {
		return novadb.ErrUnexpectedNull
	}

	switch d := dst.(type) {
	case Decoder:
		return d.DecodePostgres(v)
	case *bool:
		return decodeScalar(d, v, 1, func(b []byte) bool { return b[0] != 0 }, parseBool)
	case *int8:
		return decodeChar(d, v)
	case *int16:
		return decodeScalar(d, v, 2, bx.I16, parseInt[int16](16))
	case *int32:
		return decodeScalar(d, v, 4, bx.I32, parseInt[int32](32))
	case *int64:
		return decodeScalar(d, v, 8, bx.I64, parseInt[int64](64))
	case *int:
		return decodeInt(d, v)
	case *uint32:
		return decodeScalar(d, v, 4, bx.U32, func(s string) (uint32, error) {
			n, err := strconv.ParseUint(s, 10, 32)
			return uint32(n), err
		})
	case *float32:
		return decodeScalar(d, v, 4, bx.F32, func(s string) (float32, error) {
			f, err := strconv.ParseFloat(s, 32)
			return float32(f), err
		})
	case *float64:
		return decodeScalar(d, v, 8, bx.F64, func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		})
	case *string:
		*d = string(v.value)
		return nil
	case *[]byte:
		return decodeBytea(d, v)
	case *[]bool:
		return decodeArray(d, v)
	case *[]int16:
		return decodeArray(d, v)
	case *[]int32:
		return decodeArray(d, v)
	case *[]int64:
		return decodeArray(d, v)
	case *[]float32:
		return decodeArray(d, v)
	case *[]float64:
		return decodeArray(d, v)
	case *[]string:
		return decodeArray(d, v)
	case *[][]byte:
		return decodeArray(d, v)
	}
	return fmt.Errorf("%w: %T cannot be decoded from postgres", novadb.ErrUnsupportedType, dst)
}

func decodeScalar[T any](dst *T, v ValueRef, size int, fromBinary func([]byte) T, fromText func(string) (T, error)) error {
	if v.format == novadb.FormatBinary {
		if len(v.value) != size {
			return fmt.Errorf("postgres: expected %d bytes for %s, got %d", size, v.typeInfo, len(v.value))
		}
		*dst = fromBinary(v.value)
		return nil
	}
	out, err := fromText(string(v.value))
	if err != nil {
		return fmt.Errorf("postgres: parse %s: %w", v.typeInfo, err)
	}
	*dst = out
	return nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func parseInt[T int16 | int32 | int64](bits int) func(string) (T, error) {
	return func(s string) (T, error) {
		n, err := strconv.ParseInt(s, 10, bits)
		return T(n), err
	}
}

// decodeChar reads the single-byte "char" type, identical in both formats.
func decodeChar(dst *int8, v ValueRef) error {
	switch len(v.value) {
	case 0:
		*dst = 0
	case 1:
		*dst = int8(v.value[0])
	default:
		return fmt.Errorf("postgres: expected 1 byte for %s, got %d", v.typeInfo, len(v.value))
	}
	return nil
}

func decodeInt(dst *int, v ValueRef) error {
	var n int64
	var err error
	switch v.typeInfo.oid {
	case OIDInt2:
		var x int16
		err = decodeScalar(&x, v, 2, bx.I16, parseInt[int16](16))
		n = int64(x)
	case OIDInt4:
		var x int32
		err = decodeScalar(&x, v, 4, bx.I32, parseInt[int32](32))
		n = int64(x)
	default:
		err = decodeScalar(&n, v, 8, bx.I64, parseInt[int64](64))
	}
	*dst = int(n)
	return err
}

// decodeBytea copies binary bytes or parses the hex text format (\x0102).
func decodeBytea(dst *[]byte, v ValueRef) error {
	if v.format == novadb.FormatBinary {
		*dst = bytes.Clone(v.value)
		if *dst == nil {
			*dst = []byte{}
		}
		return nil
	}
	s := v.value
	if !bytes.HasPrefix(s, []byte(`\x`)) {
		return fmt.Errorf("postgres: unsupported bytea text encoding")
	}
	out := make([]byte, hex.DecodedLen(len(s)-2))
	if _, err := hex.Decode(out, s[2:]); err != nil {
		return fmt.Errorf("postgres: parse bytea: %w", err)
	}
	*dst = out
	return nil
}

// decodeArray reads a one-dimensional array in either format. NULL elements
// cannot be stored in a plain slice and fail with ErrUnexpectedNull.
func decodeArray[T any](dst *[]T, v ValueRef) error {
	var elems []ValueRef
	var err error
	if v.format == novadb.FormatBinary {
		elems, err = splitBinaryArray(v.value)
	} else {
		elems, err = splitTextArray(v.value, v.typeInfo)
	}
	if err != nil {
		return err
	}

	out := make([]T, len(elems))
	for i, e := range elems {
		if err := decodeInto(&out[i], e); err != nil {
			return fmt.Errorf("postgres: array element %d: %w", i, err)
		}
	}
	*dst = out
	return nil
}

func splitBinaryArray(b []byte) ([]ValueRef, error) {
	if len(b) < 12 {
		return nil, fmt.Errorf("%w: array header too short", novadb.ErrProtocol)
	}
	ndim := bx.I32(b)
	elem := TypeInfoOf(bx.U32(b[8:]))
	if ndim == 0 {
		return []ValueRef{}, nil
	}
	if ndim != 1 {
		return nil, fmt.Errorf("%w: %d-dimensional arrays", novadb.ErrUnsupportedType, ndim)
	}
	if len(b) < 20 {
		return nil, fmt.Errorf("%w: array dimension too short", novadb.ErrProtocol)
	}
	n := int(bx.I32(b[12:]))
	if n < 0 || n > (len(b)-20)/4 {
		return nil, fmt.Errorf("%w: invalid array dimension %d", novadb.ErrProtocol, n)
	}
	pos := 20

	out := make([]ValueRef, 0, n)
	for range n {
		if pos+4 > len(b) {
			return nil, fmt.Errorf("%w: truncated array", novadb.ErrProtocol)
		}
		size := int(bx.I32(b[pos:]))
		pos += 4
		if size < 0 {
			out = append(out, ValueRef{format: novadb.FormatBinary, typeInfo: elem})
			continue
		}
		if pos+size > len(b) {
			return nil, fmt.Errorf("%w: truncated array element", novadb.ErrProtocol)
		}
		out = append(out, ValueRef{value: b[pos : pos+size : pos+size], format: novadb.FormatBinary, typeInfo: elem})
		pos += size
	}
	return out, nil
}

// splitTextArray parses the {a,"b c",NULL} text form of a one-dimensional
// array.
func splitTextArray(b []byte, ti TypeInfo) ([]ValueRef, error) {
	elem, _ := ti.Elem()
	if len(b) < 2 || b[0] != '{' || b[len(b)-1] != '}' {
		return nil, fmt.Errorf("%w: malformed array literal %q", novadb.ErrProtocol, b)
	}
	body := b[1 : len(b)-1]
	out := []ValueRef{}
	if len(body) == 0 {
		return out, nil
	}

	var cur []byte
	quoted, inQuotes, escaped := false, false, false
	flush := func() {
		ref := ValueRef{value: cur, format: novadb.FormatText, typeInfo: elem}
		if !quoted && string(cur) == "NULL" {
			ref.value = nil
		} else if ref.value == nil {
			ref.value = []byte{}
		}
		out = append(out, ref)
		cur, quoted = nil, false
	}
	for _, c := range body {
		switch {
		case escaped:
			cur = append(cur, c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inQuotes = !inQuotes
			quoted = true
		case c == ',' && !inQuotes:
			flush()
		case c == '{' && !inQuotes:
			return nil, fmt.Errorf("%w: multi-dimensional arrays", novadb.ErrUnsupportedType)
		default:
			cur = append(cur, c)
		}
	}
	flush()
	return out, nil
}

// decodeAny maps a value to its natural Go type. Types without a mapping come
// back as string in text format and []byte in binary format.
func decodeAny(v ValueRef) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	var dst any
	switch v.typeInfo.oid {
	case OIDBool:
		dst = new(bool)
	case OIDChar:
		dst = new(int8)
	case OIDInt2:
		dst = new(int16)
	case OIDInt4:
		dst = new(int32)
	case OIDInt8:
		dst = new(int64)
	case OIDOid:
		dst = new(uint32)
	case OIDFloat4:
		dst = new(float32)
	case OIDFloat8:
		dst = new(float64)
	case OIDText, OIDVarchar, OIDBPChar, OIDName, OIDUnknown, OIDJSON, OIDXML:
		dst = new(string)
	case OIDBytea:
		dst = new([]byte)
	case OIDBoolArray:
		dst = new([]bool)
	case OIDInt2Array:
		dst = new([]int16)
	case OIDInt4Array:
		dst = new([]int32)
	case OIDInt8Array:
		dst = new([]int64)
	case OIDFloat4Array:
		dst = new([]float32)
	case OIDFloat8Array:
		dst = new([]float64)
	case OIDTextArray, OIDVarcharArray, OIDBPCharArray, OIDNameArray:
		dst = new([]string)
	case OIDByteaArray:
		dst = new([][]byte)
	default:
		if v.format == novadb.FormatText {
			return string(v.value), nil
		}
		return bytes.Clone(v.value), nil
	}
	if err := decodeInto(dst, v); err != nil {
		return nil, err
	}
	return reflect.ValueOf(dst).Elem().Interface(), nil
}
