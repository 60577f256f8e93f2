package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/tuannm99/novadb"
)

// DatabaseError is an ErrorResponse sent by the server.
type DatabaseError struct {
	severity   string
	code       string
	message    string
	detail     string
	hint       string
	position   int32
	table      string
	column     string
	constraint string
}

var _ novadb.DatabaseError = (*DatabaseError)(nil)

func newDatabaseError(m *pgproto3.ErrorResponse) *DatabaseError {
	return &DatabaseError{
		severity:   m.Severity,
		code:       m.Code,
		message:    m.Message,
		detail:     m.Detail,
		hint:       m.Hint,
		position:   m.Position,
		table:      m.TableName,
		column:     m.ColumnName,
		constraint: m.ConstraintName,
	}
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("error returned from database: %s", e.message)
}

func (e *DatabaseError) Severity() string   { return e.severity }
func (e *DatabaseError) Code() string       { return e.code }
func (e *DatabaseError) Message() string    { return e.message }
func (e *DatabaseError) Detail() string     { return e.detail }
func (e *DatabaseError) Hint() string       { return e.hint }
func (e *DatabaseError) Position() int32    { return e.position }
func (e *DatabaseError) Table() string      { return e.table }
func (e *DatabaseError) Column() string     { return e.column }
func (e *DatabaseError) Constraint() string { return e.constraint }
