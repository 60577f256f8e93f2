// Package novadb is a database connectivity layer: one streaming execution
// contract over several backends (a PostgreSQL wire-protocol client and an
// embedded SQLite engine). Backends live in the postgres and sqlite packages;
// this package holds the contracts they implement and the generic code written
// against them.
package novadb

import "fmt"

// TypeInfo identifies a backend column or value type. Implementations are
// comparable value types, so two descriptors are equal when == says so.
type TypeInfo interface {
	fmt.Stringer
	// Name is the backend's name for the type. It may be empty when the
	// backend could not resolve it.
	Name() string
}

// ValueFormat tags how the bytes of a value are encoded.
type ValueFormat uint8

const (
	FormatText ValueFormat = iota
	FormatBinary
)

func (f ValueFormat) String() string {
	if f == FormatBinary {
		return "binary"
	}
	return "text"
}

// IsNull is returned by encoders. An encoder returning Null must not have
// written any bytes.
type IsNull bool

const (
	NotNull IsNull = false
	Null    IsNull = true
)

// ValueRef is a borrowed view of one column value. It is only valid while the
// row or buffer it came from is alive; ToOwned detaches it.
type ValueRef interface {
	IsNull() bool
	TypeInfo() TypeInfo
	Format() ValueFormat
	ToOwned() Value
}

// Value is an owned column value that outlives its row and connection.
type Value interface {
	IsNull() bool
	TypeInfo() TypeInfo
	Format() ValueFormat
	AsRef() ValueRef
}

// Database is the capability bundle a backend implements once. Generic code in
// this package (typed accessors, derived executor operations) only talks to a
// backend through it.
type Database interface {
	// Name is a short identifier such as "postgres".
	Name() string

	// Accepts reports whether a value of type ti may be decoded into dst,
	// which is a pointer to the host value.
	Accepts(dst any, ti TypeInfo) bool

	// Decode decodes v into dst. dst is a pointer; a pointer to a pointer
	// receives nil for SQL NULL. Decoding NULL into anything else fails with
	// ErrUnexpectedNull.
	Decode(dst any, v ValueRef) error

	// DecodeAny decodes v into the natural Go value for its type, or nil for
	// SQL NULL.
	DecodeAny(v ValueRef) (any, error)
}
