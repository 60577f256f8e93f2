package novadb

import (
	"errors"
	"fmt"
)

var (
	// ErrRowNotFound is returned by FetchOne when the query produced no rows.
	ErrRowNotFound = errors.New("novadb: no rows returned by a query that expected to return at least one row")

	// ErrUnexpectedNull is returned when SQL NULL is decoded into a type that
	// cannot hold it.
	ErrUnexpectedNull = errors.New("novadb: unexpected null; try decoding into a pointer")

	// ErrTypeMismatch is returned when a column's type is not accepted by the
	// requested host type.
	ErrTypeMismatch = errors.New("novadb: mismatched types")

	// ErrUnsupportedType is returned when a host type has no encoder or
	// decoder for the backend.
	ErrUnsupportedType = errors.New("novadb: unsupported host type")

	// ErrProtocol marks malformed wire messages and statements the engine
	// refuses to compile for size reasons.
	ErrProtocol = errors.New("novadb: protocol error")

	// ErrResource marks native allocation failures while establishing a
	// connection.
	ErrResource = errors.New("novadb: resource error")

	// ErrConnectionBusy is returned when an operation is started on a
	// connection that is still running another one.
	ErrConnectionBusy = errors.New("novadb: connection is busy with another operation")

	// ErrConnectionClosed is returned by operations on a closed connection.
	ErrConnectionClosed = errors.New("novadb: connection is closed")

	// ErrRowClosed is returned when reading a row after Close.
	ErrRowClosed = errors.New("novadb: row is closed")
)

// DatabaseError is implemented by errors the backend itself reported.
type DatabaseError interface {
	error
	Message() string
	Code() string
}

// ColumnNotFoundError is returned when a column name is not in the
// statement's name table.
type ColumnNotFoundError struct {
	Name string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("novadb: no column found for name: %s", e.Name)
}

// ColumnIndexOutOfBoundsError is returned for a position past the row length.
type ColumnIndexOutOfBoundsError struct {
	Index int
	Len   int
}

func (e *ColumnIndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("novadb: column index out of bounds: the len is %d, but the index is %d", e.Len, e.Index)
}

// ArgumentCountError is returned when the number of bound values differs from
// the statement's parameter count.
type ArgumentCountError struct {
	Expected int
	Got      int
}

func (e *ArgumentCountError) Error() string {
	return fmt.Sprintf("novadb: expected %d arguments, got %d", e.Expected, e.Got)
}

// DecodeError describes why a column could not be decoded.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("novadb: error occurred while decoding column %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MismatchError builds the error returned when a host type does not accept a
// column type.
func MismatchError(dst any, ti TypeInfo) error {
	return fmt.Errorf("%w: Go type %T is not compatible with SQL type %s", ErrTypeMismatch, dst, ti)
}

// IsDatabaseError reports whether err carries an error reported by the
// backend.
func IsDatabaseError(err error) bool {
	var dbErr DatabaseError
	return errors.As(err, &dbErr)
}
