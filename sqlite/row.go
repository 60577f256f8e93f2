package sqlite

import (
	"sync/atomic"

	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/sealed"
	"zombiezen.com/go/sqlite"
)

// columns maps result column names of one prepared statement to positions.
type columns struct {
	names []string
	index map[string]int
}

func newColumns(stmt *sqlite.Stmt) *columns {
	n := stmt.ColumnCount()
	c := &columns{names: make([]string, n), index: make(map[string]int, n)}
	for i := range n {
		name := stmt.ColumnName(i)
		c.names[i] = name
		if _, dup := c.index[name]; !dup {
			c.index[name] = i
		}
	}
	return c
}

// slot holds the owned copies of a row once the statement had to move past
// it. The executor only keeps a weak pointer to it; the row keeps it alive.
type slot struct {
	values atomic.Pointer[[]Value]
	closed atomic.Bool
}

// live reports whether the row still needs its values.
func (s *slot) live() bool {
	return s != nil && !s.closed.Load() && s.values.Load() == nil
}

func (s *slot) inflate(stmt *sqlite.Stmt, n int) {
	values := make([]Value, n)
	for i := range values {
		values[i] = columnValue(stmt, i)
	}
	s.values.Store(&values)
}

// Row is the current record of a statement. It reads straight from the
// statement until the statement steps again; at that point its values are
// copied into the row, so a held Row never changes. Close releases the row
// and lets the executor skip the copy.
type Row struct {
	stmt *sqlite.Stmt
	cols *columns
	slot *slot
}

var _ novadb.Row = (*Row)(nil)

func newRow(stmt *sqlite.Stmt, cols *columns) *Row {
	return &Row{stmt: stmt, cols: cols, slot: new(slot)}
}

func (r *Row) SealedRow(sealed.Token) {}

func (r *Row) Len() int { return len(r.cols.names) }

func (r *Row) Database() novadb.Database { return DB }

func (r *Row) ColumnNames() []string { return r.cols.names }

func (r *Row) ColumnIndex(name string) (int, error) {
	i, ok := r.cols.index[name]
	if !ok {
		return 0, &novadb.ColumnNotFoundError{Name: name}
	}
	return i, nil
}

func (r *Row) TryGetRaw(index int) (novadb.ValueRef, error) {
	if r.slot.closed.Load() {
		return nil, novadb.ErrRowClosed
	}
	if index < 0 || index >= r.Len() {
		return nil, &novadb.ColumnIndexOutOfBoundsError{Index: index, Len: r.Len()}
	}
	if values := r.slot.values.Load(); values != nil {
		return ValueRef{owned: &(*values)[index]}, nil
	}
	return ValueRef{stmt: r.stmt, col: index}, nil
}

// Close releases the row. Reading it afterwards fails with
// novadb.ErrRowClosed.
func (r *Row) Close() {
	r.slot.closed.Store(true)
	r.slot.values.Store(nil)
}

// Inflated reports whether the row holds its own copies of the values.
func (r *Row) Inflated() bool { return r.slot.values.Load() != nil }
