package postgres

import (
	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/sealed"
)

// columns is the result description shared by every row of one execution.
type columns struct {
	names   []string
	types   []TypeInfo
	formats []novadb.ValueFormat
	index   map[string]int
}

func newColumns(n int) *columns {
	return &columns{
		names:   make([]string, 0, n),
		types:   make([]TypeInfo, 0, n),
		formats: make([]novadb.ValueFormat, 0, n),
		index:   make(map[string]int, n),
	}
}

func (c *columns) add(name string, ti TypeInfo, format novadb.ValueFormat) {
	if _, dup := c.index[name]; !dup {
		c.index[name] = len(c.names)
	}
	c.names = append(c.names, name)
	c.types = append(c.types, ti)
	c.formats = append(c.formats, format)
}

// Row is one DataRow. Its values are copied out of the receive buffer, so it
// stays valid after the connection moves on.
type Row struct {
	values [][]byte
	cols   *columns
}

var _ novadb.Row = (*Row)(nil)

func newRow(cols *columns, values [][]byte) *Row {
	size := 0
	for _, v := range values {
		size += len(v)
	}
	storage := make([]byte, 0, size)
	owned := make([][]byte, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		start := len(storage)
		storage = append(storage, v...)
		owned[i] = storage[start:len(storage):len(storage)]
	}
	return &Row{values: owned, cols: cols}
}

func (r *Row) SealedRow(sealed.Token) {}

func (r *Row) Len() int { return len(r.values) }

func (r *Row) Database() novadb.Database { return DB }

func (r *Row) ColumnNames() []string { return r.cols.names }

// ColumnTypes returns the resolved descriptors of the result columns.
func (r *Row) ColumnTypes() []TypeInfo { return r.cols.types }

func (r *Row) ColumnIndex(name string) (int, error) {
	i, ok := r.cols.index[name]
	if !ok {
		return 0, &novadb.ColumnNotFoundError{Name: name}
	}
	return i, nil
}

func (r *Row) TryGetRaw(index int) (novadb.ValueRef, error) {
	if index < 0 || index >= len(r.values) {
		return nil, &novadb.ColumnIndexOutOfBoundsError{Index: index, Len: len(r.values)}
	}
	return ValueRef{
		value:    r.values[index],
		format:   r.cols.formats[index],
		typeInfo: r.cols.types[index],
	}, nil
}
