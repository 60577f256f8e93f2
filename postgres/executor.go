package postgres

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"strconv"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/tuannm99/novadb"
)

// statement is a server-side prepared statement. The unnamed statement is
// used for queries that are not persistent and is never cached.
type statement struct {
	name       string
	paramTypes []TypeInfo
	cols       *columns
}

// Query builds a persistent query with args bound in order.
func Query(sql string, args ...any) *novadb.Query[*Arguments] {
	q := novadb.NewQuery(sql, NewArguments())
	for _, a := range args {
		q.Bind(a)
	}
	return q
}

// FetchMany runs q and yields one count per completed statement and every
// row in between, in server order. Without arguments q is sent with the
// simple query protocol and may hold several statements; with arguments it
// is prepared, and cached when persistent.
func (c *Conn) FetchMany(ctx context.Context, q novadb.Executable[*Arguments]) iter.Seq2[novadb.Item[*Row], error] {
	return func(yield func(novadb.Item[*Row], error) bool) {
		var zero novadb.Item[*Row]
		if err := c.acquire(); err != nil {
			yield(zero, err)
			return
		}
		defer c.release()

		args, ok, err := q.TakeArguments()
		if err != nil {
			yield(zero, err)
			return
		}
		if !ok {
			args = nil
		}

		stop := c.watch(ctx)
		defer stop()

		stopped := false
		err = c.run(q.SQL(), args, q.Persistent(), func(it novadb.Item[*Row]) bool {
			stopped = !yield(it, nil)
			return !stopped
		})
		if err != nil && !stopped {
			yield(zero, err)
		}
	}
}

func (c *Conn) Fetch(ctx context.Context, q novadb.Executable[*Arguments]) iter.Seq2[*Row, error] {
	return novadb.Fetch(ctx, c, q)
}

func (c *Conn) FetchAll(ctx context.Context, q novadb.Executable[*Arguments]) ([]*Row, error) {
	return novadb.FetchAll(ctx, c, q)
}

func (c *Conn) FetchOne(ctx context.Context, q novadb.Executable[*Arguments]) (*Row, error) {
	return novadb.FetchOne(ctx, c, q)
}

func (c *Conn) FetchOptional(ctx context.Context, q novadb.Executable[*Arguments]) (*Row, bool, error) {
	return novadb.FetchOptional(ctx, c, q)
}

func (c *Conn) Execute(ctx context.Context, q novadb.Executable[*Arguments]) (uint64, error) {
	return novadb.Execute(ctx, c, q)
}

func (c *Conn) ExecuteMany(ctx context.Context, q novadb.Executable[*Arguments]) iter.Seq2[uint64, error] {
	return novadb.ExecuteMany(ctx, c, q)
}

// sink forwards items until the consumer declines one. The connection keeps
// reading to ReadyForQuery after that so the session stays in sync.
type sink struct {
	emit    func(novadb.Item[*Row]) bool
	stopped bool
}

func (s *sink) send(it novadb.Item[*Row]) {
	if !s.stopped && !s.emit(it) {
		s.stopped = true
	}
}

func (c *Conn) run(sql string, args *Arguments, persistent bool, emit func(novadb.Item[*Row]) bool) error {
	if c.closed {
		return novadb.ErrConnectionClosed
	}
	if err := c.closePending(); err != nil {
		return err
	}
	s := &sink{emit: emit}
	if args == nil {
		return c.runSimple(sql, s)
	}
	return c.runExtended(sql, args, persistent, s)
}

func (c *Conn) runSimple(sql string, s *sink) error {
	c.fe.Send(&pgproto3.Query{String: sql})
	if err := c.flush(); err != nil {
		return err
	}

	var cols *columns
	var dbErr error
	for {
		msg, err := c.receive()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *pgproto3.RowDescription:
			// Nested catalog queries cannot run while this result is being
			// read; unknown types stay unnamed.
			cols = c.cachedColumns(m.Fields)
		case *pgproto3.DataRow:
			s.send(novadb.RowItem(newRow(cols, m.Values)))
		case *pgproto3.CommandComplete:
			s.send(novadb.CountItem[*Row](rowsAffected(m.CommandTag)))
			cols = nil
		case *pgproto3.EmptyQueryResponse:
		case *pgproto3.ErrorResponse:
			if dbErr == nil {
				dbErr = newDatabaseError(m)
			}
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return dbErr
		}
	}
}

func (c *Conn) runExtended(sql string, args *Arguments, persistent bool, s *sink) error {
	if args.unresolved() {
		if err := args.patch(c.typeOIDByName); err != nil {
			return err
		}
	}

	st, err := c.prepare(sql, args, persistent)
	if err != nil {
		return err
	}
	if len(st.paramTypes) != args.Len() {
		return &novadb.ArgumentCountError{Expected: len(st.paramTypes), Got: args.Len()}
	}

	c.fe.Send(&pgproto3.Bind{
		PreparedStatement:    st.name,
		ParameterFormatCodes: []int16{pgproto3.BinaryFormat},
		Parameters:           args.params(),
		ResultFormatCodes:    []int16{pgproto3.BinaryFormat},
	})
	c.fe.Send(&pgproto3.Execute{})
	c.fe.Send(&pgproto3.Sync{})
	if err := c.flush(); err != nil {
		return err
	}

	var dbErr error
	for {
		msg, err := c.receive()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *pgproto3.BindComplete:
		case *pgproto3.DataRow:
			s.send(novadb.RowItem(newRow(st.cols, m.Values)))
		case *pgproto3.CommandComplete:
			s.send(novadb.CountItem[*Row](rowsAffected(m.CommandTag)))
		case *pgproto3.EmptyQueryResponse:
		case *pgproto3.ErrorResponse:
			if dbErr == nil {
				dbErr = newDatabaseError(m)
			}
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return dbErr
		}
	}
}

// prepare returns the cached statement for sql or parses and describes it.
// Parameter and column types are resolved after ReadyForQuery, when catalog
// queries may run.
func (c *Conn) prepare(sql string, args *Arguments, persistent bool) (*statement, error) {
	if persistent {
		if st, ok := c.stmts.Get(sql); ok {
			return st, nil
		}
	}

	st := &statement{}
	if persistent {
		c.nextStmtID++
		st.name = "novadb_s_" + strconv.FormatUint(c.nextStmtID, 10)
	}

	c.fe.Send(&pgproto3.Parse{Name: st.name, Query: sql, ParameterOIDs: args.oids()})
	c.fe.Send(&pgproto3.Describe{ObjectType: 'S', Name: st.name})
	c.fe.Send(&pgproto3.Sync{})
	if err := c.flush(); err != nil {
		return nil, err
	}

	var paramOIDs []uint32
	var fields []pgproto3.FieldDescription
	var dbErr error
	for ready := false; !ready; {
		msg, err := c.receive()
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *pgproto3.ParseComplete, *pgproto3.NoData:
		case *pgproto3.ParameterDescription:
			paramOIDs = slices.Clone(m.ParameterOIDs)
		case *pgproto3.RowDescription:
			fields = cloneFields(m.Fields)
		case *pgproto3.ErrorResponse:
			if dbErr == nil {
				dbErr = newDatabaseError(m)
			}
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			ready = true
		}
	}
	if dbErr != nil {
		return nil, dbErr
	}

	if err := c.resolveStatement(st, paramOIDs, fields); err != nil {
		if st.name != "" {
			c.pendingClose = append(c.pendingClose, st.name)
		}
		return nil, err
	}

	if persistent {
		c.stmts.Put(sql, st)
	}
	c.log.Debug("postgres: statement prepared", "name", st.name, "params", len(st.paramTypes), "columns", len(fields))
	return st, nil
}

func (c *Conn) resolveStatement(st *statement, paramOIDs []uint32, fields []pgproto3.FieldDescription) error {
	st.paramTypes = make([]TypeInfo, len(paramOIDs))
	for i, oid := range paramOIDs {
		ti, err := c.typeInfoByOID(oid)
		if err != nil {
			return err
		}
		st.paramTypes[i] = ti
	}
	cols, err := c.describeColumns(fields)
	if err != nil {
		return err
	}
	st.cols = cols
	return nil
}

// describeColumns builds the column table of a prepared statement, asking the
// catalog for unknown types. Results are always requested in binary.
func (c *Conn) describeColumns(fields []pgproto3.FieldDescription) (*columns, error) {
	cols := newColumns(len(fields))
	for _, f := range fields {
		ti, err := c.typeInfoByOID(f.DataTypeOID)
		if err != nil {
			return nil, err
		}
		cols.add(string(f.Name), ti, novadb.FormatBinary)
	}
	return cols, nil
}

// cachedColumns builds the column table of a simple query result. Types
// missing from the cache stay unnamed.
func (c *Conn) cachedColumns(fields []pgproto3.FieldDescription) *columns {
	cols := newColumns(len(fields))
	for _, f := range fields {
		ti, _ := c.cachedTypeInfo(f.DataTypeOID)
		fm := novadb.FormatText
		if f.Format == pgproto3.BinaryFormat {
			fm = novadb.FormatBinary
		}
		cols.add(string(f.Name), ti, fm)
	}
	return cols
}

// closePending closes statements evicted from the cache since the last round
// trip. Server-side failures are only logged.
func (c *Conn) closePending() error {
	if len(c.pendingClose) == 0 {
		return nil
	}
	for _, name := range c.pendingClose {
		c.fe.Send(&pgproto3.Close{ObjectType: 'S', Name: name})
	}
	c.fe.Send(&pgproto3.Sync{})
	c.pendingClose = c.pendingClose[:0]
	if err := c.flush(); err != nil {
		return err
	}
	if err := c.readUntilReady(); err != nil {
		if c.closed {
			return err
		}
		c.log.Warn("postgres: close statement failed", "err", err)
	}
	return nil
}

func cloneFields(fields []pgproto3.FieldDescription) []pgproto3.FieldDescription {
	out := slices.Clone(fields)
	for i := range out {
		out[i].Name = bytes.Clone(out[i].Name)
	}
	return out
}

// rowsAffected parses the trailing count of a command tag such as
// "INSERT 0 3" or "UPDATE 2". Tags without one count 0.
func rowsAffected(tag []byte) uint64 {
	i := bytes.LastIndexByte(tag, ' ')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(string(tag[i+1:]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
