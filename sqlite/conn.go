package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/lru"
	"zombiezen.com/go/sqlite"
)

// Conn is one SQLite database connection. It runs a single operation at a
// time; a second overlapping call fails with novadb.ErrConnectionBusy.
type Conn struct {
	opts Options
	log  *slog.Logger

	conn   *sqlite.Conn
	worker stepper

	busy   atomic.Bool
	closed bool

	stmts      *lru.Cache[string, *statement]
	inflations atomic.Uint64
}

var _ novadb.Executor[*Row, *Arguments] = (*Conn)(nil)

// Open opens the database named by opts.
func Open(ctx context.Context, opts Options) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	flags := sqlite.OpenNoMutex
	switch {
	case opts.ReadOnly:
		flags |= sqlite.OpenReadOnly
	case opts.CreateIfMissing || opts.InMemory || opts.Filename == "":
		flags |= sqlite.OpenReadWrite | sqlite.OpenCreate
	default:
		flags |= sqlite.OpenReadWrite
	}
	if opts.InMemory {
		flags |= sqlite.OpenMemory
	}

	native, err := sqlite.OpenConn(opts.Filename, flags)
	if err != nil {
		if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultNoMem {
			return nil, fmt.Errorf("%w: open %q: %v", novadb.ErrResource, opts.Filename, err)
		}
		return nil, newDatabaseError(err)
	}

	c := &Conn{
		opts:   opts,
		log:    opts.logger(),
		conn:   native,
		worker: newStepper(opts.Worker),
	}
	c.stmts = lru.New(max(opts.StatementCacheCapacity, 0), func(sql string, st *statement) {
		c.log.Debug("sqlite: statement evicted", "sql", sql)
		st.finalize()
	})
	c.log.Debug("sqlite: opened", "filename", opts.Filename, "worker", opts.Worker)
	return c, nil
}

// Ping checks that the connection is open and idle.
func (c *Conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.acquire(); err != nil {
		return err
	}
	c.release()
	return nil
}

// Close finalizes every cached statement and closes the database. Rows still
// held keep their values.
func (c *Conn) Close() error {
	if !c.busy.CompareAndSwap(false, true) {
		return novadb.ErrConnectionBusy
	}
	defer c.release()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stmts.Clear()
	c.worker.close()
	if err := c.conn.Close(); err != nil {
		return newDatabaseError(err)
	}
	return nil
}

// Inflations counts rows whose values had to be copied because they were
// still held when their statement moved on.
func (c *Conn) Inflations() uint64 { return c.inflations.Load() }

func (c *Conn) acquire() error {
	if !c.busy.CompareAndSwap(false, true) {
		return novadb.ErrConnectionBusy
	}
	if c.closed {
		c.busy.Store(false)
		return novadb.ErrConnectionClosed
	}
	return nil
}

func (c *Conn) release() { c.busy.Store(false) }
