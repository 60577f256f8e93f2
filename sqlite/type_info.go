package sqlite

import "zombiezen.com/go/sqlite"

// DataType is the storage class of a value. Int, Bool and Int64 are all
// INTEGER on disk; the distinction only matters for the descriptor a host
// type declares.
type DataType uint8

const (
	DataTypeNull DataType = iota
	DataTypeInt
	DataTypeInt64
	DataTypeFloat
	DataTypeText
	DataTypeBlob
	DataTypeBool
)

var dataTypeNames = [...]string{
	DataTypeNull:  "NULL",
	DataTypeInt:   "INTEGER",
	DataTypeInt64: "BIGINT",
	DataTypeFloat: "REAL",
	DataTypeText:  "TEXT",
	DataTypeBlob:  "BLOB",
	DataTypeBool:  "BOOLEAN",
}

func (t DataType) String() string {
	if int(t) < len(dataTypeNames) {
		return dataTypeNames[t]
	}
	return "UNKNOWN"
}

func (t DataType) integer() bool {
	return t == DataTypeInt || t == DataTypeInt64 || t == DataTypeBool
}

// dataTypeOf maps the storage class reported for a column.
func dataTypeOf(ct sqlite.ColumnType) DataType {
	switch ct {
	case sqlite.TypeInteger:
		return DataTypeInt64
	case sqlite.TypeFloat:
		return DataTypeFloat
	case sqlite.TypeText:
		return DataTypeText
	case sqlite.TypeBlob:
		return DataTypeBlob
	}
	return DataTypeNull
}

// TypeInfo describes a SQLite value. Result columns carry the storage class
// of the current value, since SQLite is dynamically typed.
type TypeInfo struct {
	typ DataType
}

// TypeInfoOf returns the descriptor of t.
func TypeInfoOf(t DataType) TypeInfo { return TypeInfo{typ: t} }

func (ti TypeInfo) DataType() DataType { return ti.typ }
func (ti TypeInfo) Name() string       { return ti.typ.String() }
func (ti TypeInfo) String() string     { return ti.typ.String() }

// Type is implemented by host types that declare their own SQLite
// descriptor.
type Type interface {
	SqliteType() TypeInfo
}
