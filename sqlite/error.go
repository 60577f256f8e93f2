package sqlite

import (
	"strings"

	"github.com/tuannm99/novadb"
	"zombiezen.com/go/sqlite"
)

// DatabaseError is an error reported by the SQLite engine.
type DatabaseError struct {
	code    sqlite.ResultCode
	message string
	err     error
}

var _ novadb.DatabaseError = (*DatabaseError)(nil)

func newDatabaseError(err error) *DatabaseError {
	return &DatabaseError{
		code:    sqlite.ErrCode(err),
		message: strings.TrimPrefix(err.Error(), "sqlite: "),
		err:     err,
	}
}

func (e *DatabaseError) Error() string {
	return "error returned from database: " + e.message
}

// Message is the engine's message.
func (e *DatabaseError) Message() string { return e.message }

// Code is the extended result code name, such as "SQLITE_CONSTRAINT_UNIQUE".
func (e *DatabaseError) Code() string { return e.code.String() }

// ResultCode is the extended result code.
func (e *DatabaseError) ResultCode() sqlite.ResultCode { return e.code }

func (e *DatabaseError) Unwrap() error { return e.err }
