package sqlite

import (
	"fmt"
	"reflect"

	"github.com/tuannm99/novadb"
)

// Encoder is implemented by host types that bind themselves. EncodeSqlite
// appends one value to buf, or nothing when it returns novadb.Null.
type Encoder interface {
	EncodeSqlite(buf *ArgumentBuffer) novadb.IsNull
}

type encodeFunc = func(*ArgumentBuffer) novadb.IsNull

func encodeNull(*ArgumentBuffer) novadb.IsNull { return novadb.Null }

func encoderFor(v any) (encodeFunc, error) {
	switch x := v.(type) {
	case nil:
		return encodeNull, nil
	case Encoder:
		return x.EncodeSqlite, nil
	case bool:
		return func(b *ArgumentBuffer) novadb.IsNull { b.AppendBool(x); return novadb.NotNull }, nil
	case int8:
		return intEncoder(int64(x)), nil
	case int16:
		return intEncoder(int64(x)), nil
	case int32:
		return intEncoder(int64(x)), nil
	case uint8:
		return intEncoder(int64(x)), nil
	case uint16:
		return intEncoder(int64(x)), nil
	case uint32:
		return int64Encoder(int64(x)), nil
	case int64:
		return int64Encoder(x), nil
	case int:
		return int64Encoder(int64(x)), nil
	case float32:
		return floatEncoder(float64(x)), nil
	case float64:
		return floatEncoder(x), nil
	case string:
		return func(b *ArgumentBuffer) novadb.IsNull { b.AppendText(x); return novadb.NotNull }, nil
	case []byte:
		if x == nil {
			return encodeNull, nil
		}
		return func(b *ArgumentBuffer) novadb.IsNull { b.AppendBlob(x); return novadb.NotNull }, nil
	case Value:
		return func(b *ArgumentBuffer) novadb.IsNull {
			if x.IsNull() {
				return novadb.Null
			}
			b.AppendValue(x)
			return novadb.NotNull
		}, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return encodeNull, nil
		}
		return encoderFor(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("%w: %T", novadb.ErrUnsupportedType, v)
}

func intEncoder(v int64) encodeFunc {
	return func(b *ArgumentBuffer) novadb.IsNull { b.appendInt(v); return novadb.NotNull }
}

func int64Encoder(v int64) encodeFunc {
	return func(b *ArgumentBuffer) novadb.IsNull { b.AppendInt64(v); return novadb.NotNull }
}

func floatEncoder(v float64) encodeFunc {
	return func(b *ArgumentBuffer) novadb.IsNull { b.AppendFloat(v); return novadb.NotNull }
}
