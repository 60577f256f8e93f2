package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tuannm99/novadb"
	"zombiezen.com/go/sqlite"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

func open(t *testing.T, opts Options) *Conn {
	t.Helper()
	c, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// eachWorker runs fn against an in-memory database once per stepping
// strategy; both must behave the same.
func eachWorker(t *testing.T, fn func(t *testing.T, c *Conn)) {
	for _, w := range []WorkerStrategy{WorkerInline, WorkerThread} {
		t.Run(w.String(), func(t *testing.T) {
			opts := testOptions()
			opts.Worker = w
			fn(t, open(t, opts))
		})
	}
}

const unionQuery = "SELECT 15 UNION SELECT 51 UNION SELECT 39"

func TestConn_SelectBoundValue(t *testing.T) {
	eachWorker(t, func(t *testing.T, c *Conn) {
		row, err := c.FetchOne(context.Background(), Query("SELECT ?", int32(42)))
		require.NoError(t, err)
		require.Equal(t, int32(42), novadb.Get[int32](row, 0))
		require.Equal(t, int64(42), novadb.Get[int64](row, "?"))
	})
}

func TestConn_FetchesAndInflatesRow(t *testing.T) {
	eachWorker(t, func(t *testing.T, c *Conn) {
		ctx := context.Background()

		// one at a time; each row is released before the next step
		expected := []int32{15, 39, 51}
		i := 0
		for row, err := range c.Fetch(ctx, novadb.Raw[*Arguments](unionQuery)) {
			require.NoError(t, err)
			require.Equal(t, expected[i], novadb.Get[int32](row, 0))
			row.Close()
			i++
		}
		require.Equal(t, 3, i)
		require.Equal(t, uint64(0), c.Inflations())

		// all at once; every held row is copied before the statement moves on
		rows, err := c.FetchAll(ctx, novadb.Raw[*Arguments](unionQuery))
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Equal(t, int32(15), novadb.Get[int32](rows[0], 0))
		require.Equal(t, int32(39), novadb.Get[int32](rows[1], 0))
		require.Equal(t, int32(51), novadb.Get[int32](rows[2], 0))
		require.Equal(t, uint64(3), c.Inflations())
		for _, r := range rows {
			require.True(t, r.Inflated())
		}

		// non-persistent: the statement is finalized after the first row
		row1, err := c.FetchOne(ctx, novadb.Raw[*Arguments](unionQuery))
		require.NoError(t, err)
		row2, err := c.FetchOne(ctx, novadb.Raw[*Arguments](unionQuery))
		require.NoError(t, err)
		require.Equal(t, int32(15), novadb.Get[int32](row1, 0))
		require.Equal(t, int32(15), novadb.Get[int32](row2, 0))

		// persistent: the cached statement is reset and reused
		row1, err = c.FetchOne(ctx, Query(unionQuery))
		require.NoError(t, err)
		require.Equal(t, int32(15), novadb.Get[int32](row1, 0))
		row2, err = c.FetchOne(ctx, Query(unionQuery))
		require.NoError(t, err)
		require.Equal(t, int32(15), novadb.Get[int32](row1, 0))
		require.Equal(t, int32(15), novadb.Get[int32](row2, 0))
		require.Equal(t, 1, c.stmts.Len())
	})
}

func TestConn_HeldRowSurvivesNextStep(t *testing.T) {
	c := open(t, testOptions())
	var first *Row
	n := 0
	for row, err := range c.Fetch(context.Background(), Query(unionQuery)) {
		require.NoError(t, err)
		if first == nil {
			first = row
		}
		require.Equal(t, int32(15), novadb.Get[int32](first, 0))
		n++
	}
	require.Equal(t, 3, n)
	require.True(t, first.Inflated())
}

func TestConn_ClosedRow(t *testing.T) {
	c := open(t, testOptions())
	row, err := c.FetchOne(context.Background(), novadb.Raw[*Arguments]("SELECT 1 AS one"))
	require.NoError(t, err)
	row.Close()

	_, err = novadb.TryGet[int64](row, "one")
	require.ErrorIs(t, err, novadb.ErrRowClosed)
}

func TestConn_ScriptKeepsExecutionOrder(t *testing.T) {
	eachWorker(t, func(t *testing.T, c *Conn) {
		script := `
			CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);
			SELECT 'a' AS s;
			INSERT INTO t (v) VALUES ('x');
			SELECT id FROM t;`

		var got []string
		for it, err := range c.FetchMany(context.Background(), novadb.Raw[*Arguments](script)) {
			require.NoError(t, err)
			if row, ok := it.Row(); ok {
				v, err := novadb.Values(row)
				require.NoError(t, err)
				got = append(got, "row", toString(v[0]))
				continue
			}
			n, _ := it.RowsAffected()
			got = append(got, "count", toString(int64(n)))
		}
		require.Equal(t, []string{
			"count", "0",
			"row", "a",
			"count", "0",
			"count", "1",
			"row", "1",
			"count", "0",
		}, got)
	})
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

func TestConn_EmptyQuery(t *testing.T) {
	c := open(t, testOptions())
	ctx := context.Background()

	for _, sql := range []string{"", "   ", " ; ;", "-- nothing\n", "/* nothing */ ;"} {
		n, err := c.Execute(ctx, novadb.Raw[*Arguments](sql))
		require.NoError(t, err, sql)
		require.Equal(t, uint64(0), n, sql)
	}

	n, err := c.Execute(ctx, Query(""))
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}

func TestConn_FetchOptional(t *testing.T) {
	c := open(t, testOptions())
	ctx := context.Background()

	_, ok, err := c.FetchOptional(ctx, novadb.Raw[*Arguments]("SELECT 1 WHERE 1 = 0"))
	require.NoError(t, err)
	require.False(t, ok)

	row, ok, err := c.FetchOptional(ctx, novadb.Raw[*Arguments]("SELECT 'x'"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", novadb.Get[string](row, 0))

	_, err = c.FetchOne(ctx, novadb.Raw[*Arguments]("SELECT 1 WHERE 1 = 0"))
	require.ErrorIs(t, err, novadb.ErrRowNotFound)
}

func TestConn_SyntaxError(t *testing.T) {
	c := open(t, testOptions())
	ctx := context.Background()

	_, err := c.Execute(ctx, novadb.Raw[*Arguments]("SEELCT 1"))
	require.Error(t, err)
	require.True(t, novadb.IsDatabaseError(err))
	require.Contains(t, err.Error(), `near "SEELCT": syntax error`)
	require.Regexp(t, `^error returned from database: `, err.Error())

	var dbErr *DatabaseError
	require.True(t, errors.As(err, &dbErr))
	require.Equal(t, sqlite.ResultError, dbErr.ResultCode().ToPrimary())

	n, err := c.Execute(ctx, novadb.Raw[*Arguments]("SELECT 1"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}

func TestConn_ConstraintError(t *testing.T) {
	c := open(t, testOptions())
	ctx := context.Background()

	_, err := c.Execute(ctx, novadb.Raw[*Arguments]("CREATE TABLE u (id INTEGER PRIMARY KEY)"))
	require.NoError(t, err)
	_, err = c.Execute(ctx, Query("INSERT INTO u (id) VALUES (?)", 1))
	require.NoError(t, err)
	_, err = c.Execute(ctx, Query("INSERT INTO u (id) VALUES (?)", 1))
	require.Error(t, err)

	var dbErr *DatabaseError
	require.True(t, errors.As(err, &dbErr))
	require.Equal(t, sqlite.ResultConstraint, dbErr.ResultCode().ToPrimary())

	// the cached statement is reusable after the failure
	n, err := c.Execute(ctx, Query("INSERT INTO u (id) VALUES (?)", 2))
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestConn_ExecutesQueries(t *testing.T) {
	eachWorker(t, func(t *testing.T, c *Conn) {
		ctx := context.Background()
		_, err := c.Execute(ctx, novadb.Raw[*Arguments]("CREATE TEMPORARY TABLE users (id INTEGER PRIMARY KEY)"))
		require.NoError(t, err)

		for i := int32(1); i <= 10; i++ {
			n, err := c.Execute(ctx, Query("INSERT INTO users (id) VALUES (?)", i*2))
			require.NoError(t, err)
			require.Equal(t, uint64(1), n)
		}

		var sum int32
		for row, err := range c.Fetch(ctx, Query("SELECT id FROM users")) {
			require.NoError(t, err)
			sum += novadb.Get[int32](row, "id")
		}
		require.Equal(t, int32(110), sum)

		n, err := c.Execute(ctx, Query("DELETE FROM users WHERE id > ?", 10))
		require.NoError(t, err)
		require.Equal(t, uint64(5), n)
	})
}

func TestConn_ArgumentsAreDistributedAcrossStatements(t *testing.T) {
	c := open(t, testOptions())
	ctx := context.Background()
	_, err := c.Execute(ctx, novadb.Raw[*Arguments]("CREATE TABLE kv (k TEXT, v INTEGER)"))
	require.NoError(t, err)

	for i := range 3 {
		row, err := c.FetchOne(ctx, Query(
			"INSERT INTO kv (k, v) VALUES (?, ?); SELECT count(*) AS n, sum(v) AS total FROM kv WHERE k = ?",
			"a", i, "a"))
		require.NoError(t, err)
		require.Equal(t, int64(i+1), novadb.Get[int64](row, "n"))
	}
}

func TestConn_ArgumentCountMismatch(t *testing.T) {
	c := open(t, testOptions())
	ctx := context.Background()

	var countErr *novadb.ArgumentCountError
	_, err := c.FetchOne(ctx, Query("SELECT ?, ?", 1))
	require.True(t, errors.As(err, &countErr))
	require.Equal(t, 2, countErr.Expected)
	require.Equal(t, 1, countErr.Got)

	_, err = c.FetchOne(ctx, Query("SELECT ?", 1, 2))
	require.True(t, errors.As(err, &countErr))
	require.Equal(t, 1, countErr.Expected)
	require.Equal(t, 2, countErr.Got)

	_, err = c.FetchOne(ctx, novadb.Raw[*Arguments]("SELECT ?"))
	require.True(t, errors.As(err, &countErr))

	row, err := c.FetchOne(ctx, Query("SELECT ?", 1))
	require.NoError(t, err)
	require.Equal(t, int64(1), novadb.Get[int64](row, 0))
}

func TestConn_NullHandling(t *testing.T) {
	c := open(t, testOptions())
	ctx := context.Background()

	row, err := c.FetchOne(ctx, Query("SELECT ?, NULL", (*int64)(nil)))
	require.NoError(t, err)

	_, err = novadb.TryGet[int64](row, 0)
	require.ErrorIs(t, err, novadb.ErrUnexpectedNull)
	require.Nil(t, novadb.Get[*int64](row, 0))
	require.Nil(t, novadb.Get[*string](row, 1))

	v := int64(7)
	row, err = c.FetchOne(ctx, Query("SELECT ?", &v))
	require.NoError(t, err)
	require.Equal(t, int64(7), *novadb.Get[*int64](row, 0))
}

func TestConn_TypeMismatchIsDecodeError(t *testing.T) {
	c := open(t, testOptions())
	row, err := c.FetchOne(context.Background(), novadb.Raw[*Arguments]("SELECT 'x'"))
	require.NoError(t, err)

	_, err = novadb.TryGet[int64](row, 0)
	var decErr *novadb.DecodeError
	require.True(t, errors.As(err, &decErr))
	require.ErrorIs(t, err, novadb.ErrTypeMismatch)

	_, err = novadb.TryGet[string](row, "missing")
	var nf *novadb.ColumnNotFoundError
	require.True(t, errors.As(err, &nf))

	_, err = novadb.TryGet[string](row, 3)
	var oob *novadb.ColumnIndexOutOfBoundsError
	require.True(t, errors.As(err, &oob))
}

func TestConn_ScalarRoundTrips(t *testing.T) {
	c := open(t, testOptions())
	row, err := c.FetchOne(context.Background(), Query("SELECT ?, ?, ?, ?, ?, ?, ?",
		true, int16(-2144), int64(9358295312), float32(9419.5), 939399419.1225182, "hello", []byte{0, 1, 2}))
	require.NoError(t, err)

	require.True(t, novadb.Get[bool](row, 0))
	require.Equal(t, int16(-2144), novadb.Get[int16](row, 1))
	require.Equal(t, int64(9358295312), novadb.Get[int64](row, 2))
	require.Equal(t, float32(9419.5), novadb.Get[float32](row, 3))
	require.Equal(t, 939399419.1225182, novadb.Get[float64](row, 4))
	require.Equal(t, "hello", novadb.Get[string](row, 5))
	require.Equal(t, []byte{0, 1, 2}, novadb.Get[[]byte](row, 6))

	_, err = novadb.TryGet[int32](row, 2)
	require.Error(t, err)

	values, err := novadb.Values(row)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(-2144), int64(9358295312), 9419.5, 939399419.1225182, "hello", []byte{0, 1, 2}}, values)
}

func TestConn_BusyWhileIterating(t *testing.T) {
	c := open(t, testOptions())
	ctx := context.Background()

	for _, err := range c.Fetch(ctx, novadb.Raw[*Arguments](unionQuery)) {
		require.NoError(t, err)
		_, err := c.Execute(ctx, novadb.Raw[*Arguments]("SELECT 1"))
		require.ErrorIs(t, err, novadb.ErrConnectionBusy)
		break
	}

	_, err := c.Execute(ctx, novadb.Raw[*Arguments]("SELECT 1"))
	require.NoError(t, err)
}

func TestConn_StatementCacheEviction(t *testing.T) {
	opts := testOptions()
	opts.StatementCacheCapacity = 1
	c := open(t, opts)
	ctx := context.Background()

	held, err := c.FetchOne(ctx, Query("SELECT ? AS v", "first"))
	require.NoError(t, err)
	_, err = c.FetchOne(ctx, Query("SELECT ? AS w", "second"))
	require.NoError(t, err)
	require.Equal(t, 1, c.stmts.Len())

	// the first statement was finalized; its row kept its values
	require.Equal(t, "first", novadb.Get[string](held, "v"))

	row, err := c.FetchOne(ctx, Query("SELECT ? AS v", "again"))
	require.NoError(t, err)
	require.Equal(t, "again", novadb.Get[string](row, "v"))
}

func TestConn_StatementCacheDisabled(t *testing.T) {
	opts := testOptions()
	opts.StatementCacheCapacity = -1
	c := open(t, opts)

	row, err := c.FetchOne(context.Background(), Query("SELECT ?", 3))
	require.NoError(t, err)
	require.Equal(t, int64(3), novadb.Get[int64](row, 0))
	require.Equal(t, 0, c.stmts.Len())
}

func TestConn_ExecuteManyClosesRows(t *testing.T) {
	c := open(t, testOptions())
	var counts []uint64
	for n, err := range c.ExecuteMany(context.Background(), novadb.Raw[*Arguments](unionQuery+"; SELECT 1")) {
		require.NoError(t, err)
		counts = append(counts, n)
	}
	require.Equal(t, []uint64{0, 0}, counts)
	require.Equal(t, uint64(0), c.Inflations())
}

func TestConn_CancelledContext(t *testing.T) {
	eachWorker(t, func(t *testing.T, c *Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := c.FetchOne(ctx, novadb.Raw[*Arguments](
			"WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM n) SELECT count(*) FROM n"))
		require.ErrorIs(t, err, context.DeadlineExceeded)

		row, err := c.FetchOne(context.Background(), novadb.Raw[*Arguments]("SELECT 1"))
		require.NoError(t, err)
		require.Equal(t, int64(1), novadb.Get[int64](row, 0))
	})
}

func TestConn_ClosedConnection(t *testing.T) {
	c, err := Open(context.Background(), testOptions())
	require.NoError(t, err)

	held, err := c.FetchOne(context.Background(), Query("SELECT 'kept'"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.Equal(t, "kept", novadb.Get[string](held, 0))
	_, err = c.Execute(context.Background(), novadb.Raw[*Arguments]("SELECT 1"))
	require.ErrorIs(t, err, novadb.ErrConnectionClosed)
	require.ErrorIs(t, c.Ping(context.Background()), novadb.ErrConnectionClosed)
}
