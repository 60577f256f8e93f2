package novadb

import (
	"context"
	"iter"
)

// Arguments accumulates the encoded bind parameters of one execution.
type Arguments interface {
	// Add encodes value and appends it.
	Add(value any) error
	// Len is the number of encoded values.
	Len() int
}

// Executable is a runnable query: SQL text plus optionally pre-encoded
// arguments.
type Executable[A Arguments] interface {
	SQL() string

	// TakeArguments hands the arguments over to the executor. It is
	// destructive: a second call returns ok == false.
	TakeArguments() (args A, ok bool, err error)

	// Persistent reports whether the prepared statement should be cached and
	// reused for identical SQL text.
	Persistent() bool
}

// Query is the default Executable: SQL text with values bound in order.
type Query[A Arguments] struct {
	sql        string
	args       A
	hasArgs    bool
	taken      bool
	persistent bool
	err        error
}

// NewQuery starts a persistent query whose arguments are held in args.
func NewQuery[A Arguments](sql string, args A) *Query[A] {
	return &Query[A]{sql: sql, args: args, hasArgs: true, persistent: true}
}

// Bind encodes v as the next argument. The first encoding error is kept and
// returned when the query is executed.
func (q *Query[A]) Bind(v any) *Query[A] {
	if q.err != nil {
		return q
	}
	q.err = q.args.Add(v)
	return q
}

// WithPersistent overrides whether the statement is cached.
func (q *Query[A]) WithPersistent(persistent bool) *Query[A] {
	q.persistent = persistent
	return q
}

func (q *Query[A]) SQL() string      { return q.sql }
func (q *Query[A]) Persistent() bool { return q.persistent }

func (q *Query[A]) TakeArguments() (A, bool, error) {
	var zero A
	if q.err != nil {
		return zero, false, q.err
	}
	if q.taken || !q.hasArgs {
		return zero, false, nil
	}
	q.taken = true
	return q.args, true, nil
}

// Raw is SQL text without arguments. It is executed without caching the
// prepared statement.
type Raw[A Arguments] string

func (r Raw[A]) SQL() string      { return string(r) }
func (r Raw[A]) Persistent() bool { return false }

func (r Raw[A]) TakeArguments() (A, bool, error) {
	var zero A
	return zero, false, nil
}

// Item is one element of a FetchMany sequence: either the number of rows a
// statement affected or a row.
type Item[R Row] struct {
	rowsAffected uint64
	row          R
	isRow        bool
}

// CountItem builds the item emitted when a statement completes.
func CountItem[R Row](rowsAffected uint64) Item[R] {
	return Item[R]{rowsAffected: rowsAffected}
}

// RowItem builds the item emitted for a result row.
func RowItem[R Row](row R) Item[R] {
	return Item[R]{row: row, isRow: true}
}

// IsRow reports whether the item carries a row.
func (it Item[R]) IsRow() bool { return it.isRow }

// Row returns the row, if the item carries one.
func (it Item[R]) Row() (R, bool) { return it.row, it.isRow }

// RowsAffected returns the count, if the item carries one.
func (it Item[R]) RowsAffected() (uint64, bool) { return it.rowsAffected, !it.isRow }

// Executor runs queries against one backend connection. FetchMany is the
// only primitive; every other operation is derived from it. Items are
// produced in the exact order the backend emits them. Breaking out of the
// range loop cancels the rest of the execution.
type Executor[R Row, A Arguments] interface {
	FetchMany(ctx context.Context, q Executable[A]) iter.Seq2[Item[R], error]
}

// Fetch yields only the rows of FetchMany.
func Fetch[R Row, A Arguments](ctx context.Context, e Executor[R, A], q Executable[A]) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		for it, err := range e.FetchMany(ctx, q) {
			if err != nil {
				var zero R
				yield(zero, err)
				return
			}
			if row, ok := it.Row(); ok {
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}

// ExecuteMany yields the affected-row count of each statement and drops rows.
func ExecuteMany[R Row, A Arguments](ctx context.Context, e Executor[R, A], q Executable[A]) iter.Seq2[uint64, error] {
	return func(yield func(uint64, error) bool) {
		for it, err := range e.FetchMany(ctx, q) {
			if err != nil {
				yield(0, err)
				return
			}
			if n, ok := it.RowsAffected(); ok {
				if !yield(n, nil) {
					return
				}
				continue
			}
			if row, ok := it.Row(); ok {
				closeRow(row)
			}
		}
	}
}

// Execute sums the affected-row counts of every statement in q.
func Execute[R Row, A Arguments](ctx context.Context, e Executor[R, A], q Executable[A]) (uint64, error) {
	var total uint64
	for n, err := range ExecuteMany(ctx, e, q) {
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// FetchAll collects every row.
func FetchAll[R Row, A Arguments](ctx context.Context, e Executor[R, A], q Executable[A]) ([]R, error) {
	var rows []R
	for row, err := range Fetch(ctx, e, q) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchOptional returns the first row, or ok == false when there is none.
func FetchOptional[R Row, A Arguments](ctx context.Context, e Executor[R, A], q Executable[A]) (row R, ok bool, err error) {
	for r, err := range Fetch(ctx, e, q) {
		if err != nil {
			var zero R
			return zero, false, err
		}
		return r, true, nil
	}
	return row, false, nil
}

// FetchOne returns the first row or ErrRowNotFound.
func FetchOne[R Row, A Arguments](ctx context.Context, e Executor[R, A], q Executable[A]) (R, error) {
	row, ok, err := FetchOptional(ctx, e, q)
	if err != nil {
		return row, err
	}
	if !ok {
		return row, ErrRowNotFound
	}
	return row, nil
}

// closeRow releases rows that support it; ExecuteMany never hands them out.
func closeRow(row any) {
	if c, ok := row.(interface{ Close() }); ok {
		c.Close()
	}
}
