package sqlite

import (
	"context"
	"fmt"
	"iter"

	"github.com/tuannm99/novadb"
)

// Query builds a persistent query with args bound in order.
func Query(sql string, args ...any) *novadb.Query[*Arguments] {
	q := novadb.NewQuery(sql, NewArguments())
	for _, a := range args {
		q.Bind(a)
	}
	return q
}

// FetchMany runs every statement of q in order. Each statement yields its
// rows followed by one count: the rows it changed when it is an INSERT,
// UPDATE, DELETE or REPLACE, zero otherwise.
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

		prev := c.conn.SetInterrupt(ctx.Done())
		defer c.conn.SetInterrupt(prev)

		st, cached, err := c.statement(q.SQL(), q.Persistent())
		if err != nil {
			yield(zero, err)
			return
		}

		failed := false
		defer func() {
			if cached {
				st.reset(failed)
			} else {
				st.finalize()
			}
		}()

		stopped := false
		err = c.run(ctx, st, args, func(it novadb.Item[*Row]) bool {
			stopped = !yield(it, nil)
			return !stopped
		})
		if err != nil {
			failed = true
			if !stopped {
				yield(zero, err)
			}
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

// statement returns the cached statement for sql or a new one. Persistent
// statements are cached unless caching is disabled.
func (c *Conn) statement(sql string, persistent bool) (st *statement, cached bool, err error) {
	persistent = persistent && c.stmts.Capacity() > 0
	if persistent {
		if st, ok := c.stmts.Get(sql); ok {
			return st, true, nil
		}
	}
	st, err = newStatement(sql, c.log, &c.inflations)
	if err != nil {
		return nil, false, err
	}
	if persistent {
		c.stmts.Put(sql, st)
	}
	return st, persistent, nil
}

func (c *Conn) run(ctx context.Context, st *statement, args *Arguments, emit func(novadb.Item[*Row]) bool) error {
	offset := 0
	for i := 0; ; i++ {
		h, ok, err := st.next(c.conn, i)
		if err != nil {
			return interrupted(ctx, err)
		}
		if !ok {
			if args != nil && offset != args.Len() {
				return &novadb.ArgumentCountError{Expected: offset, Got: args.Len()}
			}
			return nil
		}
		offset, err = bindHandle(args, h, offset, st.last(i))
		if err != nil {
			return err
		}

		for {
			// The previous row must not observe the next step.
			st.inflate(h)

			row, err := c.worker.step(h.stmt)
			if err != nil {
				return interrupted(ctx, newDatabaseError(err))
			}
			if !row {
				var n uint64
				if h.dml {
					n = uint64(c.conn.Changes())
				}
				if !emit(novadb.CountItem[*Row](n)) {
					return nil
				}
				break
			}

			r := newRow(h.stmt, h.cols)
			h.track(r)
			if !emit(novadb.RowItem(r)) {
				return nil
			}
		}
	}
}

// interrupted attaches the context error when cancellation stopped the
// engine.
func interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("sqlite: %w: %w", ctxErr, err)
	}
	return err
}
