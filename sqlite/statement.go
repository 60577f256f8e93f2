package sqlite

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"unicode"
	"weak"

	"github.com/tuannm99/novadb"
	"zombiezen.com/go/sqlite"
)

// handle is one compiled statement of a query string.
type handle struct {
	stmt   *sqlite.Stmt
	cols   *columns
	params int
	dml    bool

	// last is the row most recently produced from stmt. It is inflated before
	// stmt is stepped, reset or finalized while the row is still alive.
	last weak.Pointer[slot]
}

// statement is a query string split into its compiled statements. Handles
// are compiled one at a time as execution reaches them, so a script may use
// a table created by an earlier statement of the same script.
type statement struct {
	sql     string
	rest    string
	handles []*handle

	log        *slog.Logger
	inflations *atomic.Uint64
}

func newStatement(sql string, log *slog.Logger, inflations *atomic.Uint64) (*statement, error) {
	sql = strings.TrimSpace(sql)
	if len(sql) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: query string must be smaller than %d bytes", novadb.ErrProtocol, math.MaxInt32)
	}
	return &statement{sql: sql, rest: skipBlank(sql), log: log, inflations: inflations}, nil
}

// next returns the i-th handle, compiling it if execution just reached it.
// ok is false once the query string is exhausted.
func (s *statement) next(conn *sqlite.Conn, i int) (h *handle, ok bool, err error) {
	if i < len(s.handles) {
		return s.handles[i], true, nil
	}
	for s.rest != "" {
		stmt, trailing, err := conn.PrepareTransient(s.rest)
		if err != nil {
			return nil, false, newDatabaseError(err)
		}
		if stmt == nil {
			if trailing >= len(s.rest) {
				s.rest = ""
				break
			}
			s.rest = skipBlank(s.rest[len(s.rest)-trailing:])
			continue
		}
		text := s.rest[:len(s.rest)-trailing]
		s.rest = skipBlank(s.rest[len(s.rest)-trailing:])
		h := &handle{
			stmt:   stmt,
			cols:   newColumns(stmt),
			params: stmt.BindParamCount(),
			dml:    isDML(text),
		}
		s.handles = append(s.handles, h)
		return h, true, nil
	}
	return nil, false, nil
}

// last reports whether handle i is the final statement of the query.
func (s *statement) last(i int) bool {
	return i == len(s.handles)-1 && s.rest == ""
}

// inflate copies the previous row of h into that row if it is still held.
func (s *statement) inflate(h *handle) {
	sl := h.last.Value()
	h.last = weak.Pointer[slot]{}
	if !sl.live() {
		return
	}
	sl.inflate(h.stmt, len(h.cols.names))
	s.inflations.Add(1)
	s.log.Debug("sqlite: row inflated", "columns", len(h.cols.names))
}

// track records row as the current row of h.
func (h *handle) track(row *Row) {
	h.last = weak.Make(row.slot)
}

// reset rewinds every handle for reuse. failed suppresses the error reset
// repeats after a failed step.
func (s *statement) reset(failed bool) {
	for _, h := range s.handles {
		s.inflate(h)
		if err := h.stmt.Reset(); err != nil && !failed {
			s.log.Warn("sqlite: reset failed", "err", err)
		}
		if err := h.stmt.ClearBindings(); err != nil {
			s.log.Warn("sqlite: clear bindings failed", "err", err)
		}
	}
}

func (s *statement) finalize() {
	for _, h := range s.handles {
		s.inflate(h)
		if err := h.stmt.Finalize(); err != nil {
			s.log.Warn("sqlite: finalize failed", "err", err)
		}
	}
	s.handles = nil
}

// skipBlank drops leading whitespace, empty statements and comments.
func skipBlank(sql string) string {
	for {
		sql = strings.TrimLeft(sql, " \t\r\n\f\v;")
		switch {
		case strings.HasPrefix(sql, "--"):
			i := strings.IndexByte(sql, '\n')
			if i < 0 {
				return ""
			}
			sql = sql[i+1:]
		case strings.HasPrefix(sql, "/*"):
			i := strings.Index(sql[2:], "*/")
			if i < 0 {
				return ""
			}
			sql = sql[i+4:]
		default:
			return sql
		}
	}
}

// isDML reports whether a statement changes rows, which is when the
// connection's change counter belongs to it.
func isDML(sql string) bool {
	sql = skipBlank(sql)
	if i := strings.IndexFunc(sql, unicode.IsSpace); i >= 0 {
		sql = sql[:i]
	}
	switch strings.ToUpper(sql) {
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return true
	}
	return false
}
