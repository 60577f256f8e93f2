package resultset

import (
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/tuannm99/novadb"
)

// Result is the outcome of one statement of a query string.
type Result struct {
	Columns []string
	Rows    [][]any

	// For DML:
	AffectedRows uint64
}

// Collect drains items into one Result per statement. Rows are decoded and
// closed as they arrive, so none outlives the step that produced it.
func Collect[R novadb.Row](items iter.Seq2[novadb.Item[R], error]) ([]*Result, error) {
	var (
		out []*Result
		cur *Result
	)
	for it, err := range items {
		if err != nil {
			return out, err
		}
		if cur == nil {
			cur = &Result{}
		}
		row, ok := it.Row()
		if !ok {
			cur.AffectedRows, _ = it.RowsAffected()
			out = append(out, cur)
			cur = nil
			continue
		}
		if cur.Columns == nil {
			cur.Columns = row.ColumnNames()
		}
		vals, err := novadb.Values(row)
		if c, ok := any(row).(interface{ Close() }); ok {
			c.Close()
		}
		if err != nil {
			return out, err
		}
		cur.Rows = append(cur.Rows, vals)
	}
	return out, nil
}

// Print writes res as an aligned table, or a status line for statements
// without columns.
func Print(w io.Writer, res *Result) {
	if len(res.Columns) == 0 {
		fmt.Fprintf(w, "OK (%d affected)\n", res.AffectedRows)
		return
	}

	cols := res.Columns
	cells := make([][]string, len(res.Rows))
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for r, row := range res.Rows {
		cells[r] = make([]string, len(cols))
		for i := range cols {
			var s string
			if i < len(row) {
				s = Format(row[i])
			} else {
				s = "NULL"
			}
			cells[r][i] = s
			widths[i] = max(widths[i], len(s))
		}
	}

	printRow := func(values []string) {
		for i := range cols {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprint(w, padRight(values[i], widths[i]))
		}
		fmt.Fprintln(w)
	}

	printRow(cols)
	for i := range cols {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(w)
	for _, row := range cells {
		printRow(row)
	}

	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
}

// Format renders one decoded value.
func Format(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return `\x` + hex.EncodeToString(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case string:
		return v
	}
	return fmt.Sprint(v)
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}
