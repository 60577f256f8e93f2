package sqlite

import (
	"bytes"

	"github.com/tuannm99/novadb"
	"zombiezen.com/go/sqlite"
)

// Value is an owned SQLite value. Integers, booleans and floats are held
// inline; text and blobs own their bytes.
type Value struct {
	typ DataType
	i   int64
	f   float64
	b   []byte
}

// NullValue is SQL NULL.
var NullValue = Value{}

func IntValue(v int64) Value     { return Value{typ: DataTypeInt64, i: v} }
func FloatValue(v float64) Value { return Value{typ: DataTypeFloat, f: v} }
func TextValue(v string) Value   { return Value{typ: DataTypeText, b: []byte(v)} }
func BlobValue(v []byte) Value   { return Value{typ: DataTypeBlob, b: bytes.Clone(v)} }

func (v Value) IsNull() bool { return v.typ == DataTypeNull }

func (v Value) Format() novadb.ValueFormat {
	if v.typ == DataTypeText {
		return novadb.FormatText
	}
	return novadb.FormatBinary
}

func (v Value) TypeInfo() novadb.TypeInfo { return TypeInfo{typ: v.typ} }
func (v Value) AsRef() novadb.ValueRef    { return ValueRef{owned: &v} }
func (v Value) DataType() DataType        { return v.typ }

// Int64 returns the value as an integer; floats are truncated.
func (v Value) Int64() int64 {
	if v.typ == DataTypeFloat {
		return int64(v.f)
	}
	return v.i
}

// Float returns the value as a float; integers are converted.
func (v Value) Float() float64 {
	if v.typ == DataTypeFloat {
		return v.f
	}
	return float64(v.i)
}

func (v Value) Text() string { return string(v.b) }
func (v Value) Blob() []byte { return v.b }
func (v Value) Bool() bool   { return v.Int64() != 0 }

// columnValue copies column col of the current row of stmt.
func columnValue(stmt *sqlite.Stmt, col int) Value {
	switch stmt.ColumnType(col) {
	case sqlite.TypeInteger:
		return Value{typ: DataTypeInt64, i: stmt.ColumnInt64(col)}
	case sqlite.TypeFloat:
		return Value{typ: DataTypeFloat, f: stmt.ColumnFloat(col)}
	case sqlite.TypeText:
		return Value{typ: DataTypeText, b: []byte(stmt.ColumnText(col))}
	case sqlite.TypeBlob:
		b := make([]byte, stmt.ColumnLen(col))
		stmt.ColumnBytes(col, b)
		return Value{typ: DataTypeBlob, b: b}
	}
	return NullValue
}

// ValueRef is a column value read either live from the statement or from the
// row's inflated copies. A live ref is only valid until the statement is
// stepped again.
type ValueRef struct {
	stmt  *sqlite.Stmt
	col   int
	owned *Value
}

func (v ValueRef) value() Value {
	if v.owned != nil {
		return *v.owned
	}
	return columnValue(v.stmt, v.col)
}

func (v ValueRef) IsNull() bool {
	if v.owned != nil {
		return v.owned.IsNull()
	}
	return v.stmt.ColumnType(v.col) == sqlite.TypeNull
}

func (v ValueRef) DataType() DataType {
	if v.owned != nil {
		return v.owned.typ
	}
	return dataTypeOf(v.stmt.ColumnType(v.col))
}

func (v ValueRef) TypeInfo() novadb.TypeInfo  { return TypeInfo{typ: v.DataType()} }
func (v ValueRef) Format() novadb.ValueFormat { return v.value().Format() }
func (v ValueRef) ToOwned() novadb.Value      { return v.Owned() }
func (v ValueRef) Int64() int64               { return v.value().Int64() }
func (v ValueRef) Float() float64             { return v.value().Float() }
func (v ValueRef) Text() string               { return v.value().Text() }
func (v ValueRef) Blob() []byte               { return v.value().Blob() }

// Owned copies the value out of the statement.
func (v ValueRef) Owned() Value {
	out := v.value()
	if v.owned != nil {
		out.b = bytes.Clone(out.b)
	}
	return out
}
