package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tuannm99/novadb"
)

type badNull struct{}

func (badNull) EncodeSqlite(buf *ArgumentBuffer) novadb.IsNull {
	buf.AppendInt64(1)
	return novadb.Null
}

type twoValues struct{}

func (twoValues) EncodeSqlite(buf *ArgumentBuffer) novadb.IsNull {
	buf.AppendInt64(1)
	buf.AppendInt64(2)
	return novadb.NotNull
}

type celsius float64

func (c celsius) EncodeSqlite(buf *ArgumentBuffer) novadb.IsNull {
	buf.AppendFloat(float64(c))
	return novadb.NotNull
}

func TestArguments_Add(t *testing.T) {
	args := NewArguments()
	var nilPtr *string
	s := "s"
	for _, v := range []any{nil, true, int8(-1), int32(7), uint32(9), 11, 2.5, "text", []byte{1}, []byte(nil), nilPtr, &s, celsius(21.5)} {
		require.NoError(t, args.Add(v), "%T", v)
	}

	got := args.Values()
	require.Len(t, got, 13)
	require.True(t, got[0].IsNull())
	require.Equal(t, DataTypeBool, got[1].DataType())
	require.True(t, got[1].Bool())
	require.Equal(t, DataTypeInt, got[2].DataType())
	require.Equal(t, int64(-1), got[2].Int64())
	require.Equal(t, DataTypeInt64, got[4].DataType())
	require.Equal(t, int64(11), got[5].Int64())
	require.Equal(t, 2.5, got[6].Float())
	require.Equal(t, "text", got[7].Text())
	require.Equal(t, []byte{1}, got[8].Blob())
	require.True(t, got[9].IsNull())
	require.True(t, got[10].IsNull())
	require.Equal(t, "s", got[11].Text())
	require.Equal(t, 21.5, got[12].Float())
}

func TestArguments_EncoderContract(t *testing.T) {
	args := NewArguments()
	require.Panics(t, func() { _ = args.Add(badNull{}) })

	args = NewArguments()
	require.Error(t, args.Add(twoValues{}))
	require.Equal(t, 0, args.Len())

	err := args.Add(struct{}{})
	require.ErrorIs(t, err, novadb.ErrUnsupportedType)
}

func TestBindHandle_Counts(t *testing.T) {
	args := NewArguments()
	require.NoError(t, args.Add(1))

	var countErr *novadb.ArgumentCountError

	_, err := bindHandle(args, &handle{params: 2}, 0, false)
	require.ErrorAs(t, err, &countErr)
	require.Equal(t, 2, countErr.Expected)

	_, err = bindHandle(args, &handle{}, 0, true)
	require.ErrorAs(t, err, &countErr)
	require.Equal(t, 0, countErr.Expected)
	require.Equal(t, 1, countErr.Got)

	next, err := bindHandle(nil, &handle{}, 0, true)
	require.NoError(t, err)
	require.Equal(t, 0, next)
}
