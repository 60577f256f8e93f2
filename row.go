package novadb

import (
	"fmt"
	"reflect"

	"github.com/tuannm99/novadb/internal/sealed"
)

// Row is one result record: a fixed number of columns whose count and type
// descriptors never change after creation. Only the backends of this module
// can implement it.
type Row interface {
	sealed.Row

	// Len is the number of columns.
	Len() int

	// Database is the backend that produced the row.
	Database() Database

	// ColumnNames lists the column names in position order.
	ColumnNames() []string

	// ColumnIndex looks a name up in the statement's column table.
	ColumnIndex(name string) (int, error)

	// TryGetRaw returns a borrowed view of the column at position index.
	TryGetRaw(index int) (ValueRef, error)
}

// Index addresses a column by zero-based position or by name.
type Index interface {
	~int | ~string
}

func columnIndex[I Index](row Row, index I) (int, error) {
	rv := reflect.ValueOf(index)
	if rv.Kind() == reflect.String {
		return row.ColumnIndex(rv.String())
	}
	i := int(rv.Int())
	if i < 0 || i >= row.Len() {
		return 0, &ColumnIndexOutOfBoundsError{Index: i, Len: row.Len()}
	}
	return i, nil
}

// TryGetRaw resolves index and returns the column's borrowed value.
func TryGetRaw[I Index](row Row, index I) (ValueRef, error) {
	i, err := columnIndex(row, index)
	if err != nil {
		return nil, err
	}
	return row.TryGetRaw(i)
}

// TryGet decodes the column at index into a T. The column type must be
// accepted by T; a mismatch is a decode error, never a silent conversion.
func TryGet[T any, I Index](row Row, index I) (T, error) {
	var out T

	i, err := columnIndex(row, index)
	if err != nil {
		return out, err
	}
	raw, err := row.TryGetRaw(i)
	if err != nil {
		return out, err
	}

	db := row.Database()
	if !raw.IsNull() && !db.Accepts(&out, raw.TypeInfo()) {
		return out, &DecodeError{Index: i, Err: MismatchError(out, raw.TypeInfo())}
	}
	if err := db.Decode(&out, raw); err != nil {
		return out, &DecodeError{Index: i, Err: err}
	}
	return out, nil
}

// Get is TryGet for callers that already validated the row shape. It panics
// on error.
func Get[T any, I Index](row Row, index I) T {
	v, err := TryGet[T](row, index)
	if err != nil {
		panic(fmt.Sprintf("novadb: Get(%v): %v", index, err))
	}
	return v
}

// Values decodes every column of row into its natural Go value.
func Values(row Row) ([]any, error) {
	out := make([]any, row.Len())
	db := row.Database()
	for i := range out {
		raw, err := row.TryGetRaw(i)
		if err != nil {
			return nil, err
		}
		v, err := db.DecodeAny(raw)
		if err != nil {
			return nil, &DecodeError{Index: i, Err: err}
		}
		out[i] = v
	}
	return out, nil
}
