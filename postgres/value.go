package postgres

import (
	"bytes"

	"github.com/tuannm99/novadb"
)

// ValueRef is a column value borrowed from a row. Bytes aliases the row's
// storage.
type ValueRef struct {
	value    []byte
	format   novadb.ValueFormat
	typeInfo TypeInfo
}

// NewValueRef wraps raw bytes; a nil value is SQL NULL.
func NewValueRef(value []byte, format novadb.ValueFormat, ti TypeInfo) ValueRef {
	return ValueRef{value: value, format: format, typeInfo: ti}
}

func (v ValueRef) IsNull() bool               { return v.value == nil }
func (v ValueRef) Format() novadb.ValueFormat { return v.format }
func (v ValueRef) TypeInfo() novadb.TypeInfo  { return v.typeInfo }
func (v ValueRef) PostgresTypeInfo() TypeInfo { return v.typeInfo }
func (v ValueRef) Bytes() []byte              { return v.value }
func (v ValueRef) ToOwned() novadb.Value      { return v.Owned() }
func (v ValueRef) Owned() Value               { return Value{ref: v.detach()} }
func (v ValueRef) String() string             { return string(v.value) }

func (v ValueRef) detach() ValueRef {
	if v.value != nil {
		v.value = bytes.Clone(v.value)
	}
	return v
}

// Value is an owned column value.
type Value struct {
	ref ValueRef
}

func (v Value) IsNull() bool               { return v.ref.IsNull() }
func (v Value) Format() novadb.ValueFormat { return v.ref.format }
func (v Value) TypeInfo() novadb.TypeInfo  { return v.ref.typeInfo }
func (v Value) AsRef() novadb.ValueRef     { return v.ref }
func (v Value) Bytes() []byte              { return v.ref.value }
