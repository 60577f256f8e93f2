package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/bx"
	"github.com/tuannm99/novadb/internal/pgtest"
)

func testOptions(srv *pgtest.Server) Options {
	opts := DefaultOptions()
	opts.Host = srv.Host()
	opts.Port = srv.Port()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

func connect(t *testing.T, srv *pgtest.Server) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Connect(ctx, testOptions(srv))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// echo returns its only parameter as a column of type oid.
func echo(oid uint32) *pgtest.Statement {
	return &pgtest.Statement{
		Columns: []pgtest.Column{{Name: "v", OID: oid}},
		Exec: func(params [][]byte) ([][]any, string, error) {
			return [][]any{{pgtest.Raw(params[0])}}, "SELECT 1", nil
		},
	}
}

func TestConn_SelectBoundValue(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle("SELECT $1", &pgtest.Statement{
		ParamOIDs: []uint32{OIDInt4},
		Columns:   []pgtest.Column{{Name: "?column?", OID: OIDInt4}},
		Exec: func(params [][]byte) ([][]any, string, error) {
			return [][]any{{bx.I32(params[0])}}, "SELECT 1", nil
		},
	})
	c := connect(t, srv)
	ctx := context.Background()

	row, err := c.FetchOne(ctx, Query("SELECT $1", int32(42)))
	require.NoError(t, err)
	require.Equal(t, int32(42), novadb.Get[int32](row, 0))
	require.Equal(t, int32(42), novadb.Get[int32](row, "?column?"))
	require.Equal(t, []uint32{OIDInt4}, srv.ParsedTypes("SELECT $1"))
}

func TestConn_EmptyQuery(t *testing.T) {
	srv := pgtest.NewServer(t)
	c := connect(t, srv)
	ctx := context.Background()

	n, err := c.Execute(ctx, novadb.Raw[*Arguments](""))
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)

	n, err = c.Execute(ctx, Query("  "))
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}

func TestConn_FetchOptional(t *testing.T) {
	srv := pgtest.NewServer(t)
	cols := []pgtest.Column{{Name: "one", OID: OIDInt4}}
	srv.Handle("SELECT 1 WHERE false", pgtest.Rows(cols, "SELECT 0"))
	srv.Handle("SELECT 1", pgtest.Rows(cols, "SELECT 1", []any{int32(1)}))
	c := connect(t, srv)
	ctx := context.Background()

	_, ok, err := c.FetchOptional(ctx, Query("SELECT 1 WHERE false"))
	require.NoError(t, err)
	require.False(t, ok)

	row, ok, err := c.FetchOptional(ctx, Query("SELECT 1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(1), novadb.Get[int32](row, "one"))

	_, err = c.FetchOne(ctx, Query("SELECT 1 WHERE false"))
	require.ErrorIs(t, err, novadb.ErrRowNotFound)
}

func TestConn_SimpleQueryKeepsServerOrder(t *testing.T) {
	srv := pgtest.NewServer(t)
	script := "CREATE TABLE t (id serial); SELECT 'a'; INSERT INTO t DEFAULT VALUES; SELECT id FROM t"
	srv.Handle(script,
		pgtest.Command("CREATE TABLE"),
		pgtest.Rows([]pgtest.Column{{Name: "?column?", OID: OIDText}}, "SELECT 1", []any{"a"}),
		pgtest.Command("INSERT 0 1"),
		pgtest.Rows([]pgtest.Column{{Name: "id", OID: OIDInt4}}, "SELECT 1", []any{int32(1)}),
	)
	c := connect(t, srv)

	var got []string
	for it, err := range c.FetchMany(context.Background(), novadb.Raw[*Arguments](script)) {
		require.NoError(t, err)
		if row, ok := it.Row(); ok {
			v, err := novadb.Values(row)
			require.NoError(t, err)
			got = append(got, fmt.Sprintf("row%v", v))
			continue
		}
		n, _ := it.RowsAffected()
		got = append(got, fmt.Sprintf("count(%d)", n))
	}
	require.Equal(t, []string{"count(0)", "row[a]", "count(1)", "count(1)", "row[1]", "count(1)"}, got)
}

func TestConn_TypeCacheConvergence(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle(sqlTypeNameByOID, &pgtest.Statement{
		ParamOIDs: []uint32{OIDOid},
		Columns:   []pgtest.Column{{Name: "typname", OID: OIDName}},
		Exec: func(params [][]byte) ([][]any, string, error) {
			if bx.U32(params[0]) == 16390 {
				return [][]any{{"mood"}}, "SELECT 1", nil
			}
			return nil, "SELECT 0", nil
		},
	})
	c := connect(t, srv)
	ctx := context.Background()

	for range 2 {
		ti, err := c.ResolveType(ctx, 16390)
		require.NoError(t, err)
		require.Equal(t, "mood", ti.Name())
		require.Equal(t, uint32(16390), ti.OID())
	}
	require.Equal(t, 1, srv.Executions(sqlTypeNameByOID))

	ti, err := c.ResolveType(ctx, OIDInt4)
	require.NoError(t, err)
	require.Equal(t, "INT4", ti.Name())
	require.Equal(t, 1, srv.Executions(sqlTypeNameByOID))

	_, err = c.ResolveType(ctx, 99999)
	require.ErrorIs(t, err, novadb.ErrRowNotFound)
}

func TestConn_UnknownTypeInsideResultIsNotCached(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle(sqlTypeNameByOID, &pgtest.Statement{
		ParamOIDs: []uint32{OIDOid},
		Columns:   []pgtest.Column{{Name: "typname", OID: OIDName}},
		Exec: func([][]byte) ([][]any, string, error) {
			return [][]any{{"mood"}}, "SELECT 1", nil
		},
	})
	const sql = "SELECT current_mood()"
	srv.Handle(sql, pgtest.Rows([]pgtest.Column{{Name: "current_mood", OID: 16390}}, "SELECT 1", []any{"happy"}))
	c := connect(t, srv)
	ctx := context.Background()

	// The simple protocol reads the description mid-result and cannot ask
	// the catalog.
	row, err := c.FetchOne(ctx, novadb.Raw[*Arguments](sql))
	require.NoError(t, err)
	require.Equal(t, "", row.ColumnTypes()[0].Name())
	require.Equal(t, 0, srv.Executions(sqlTypeNameByOID))
	v, err := novadb.TryGet[any](row, 0)
	require.NoError(t, err)
	require.Equal(t, "happy", v)

	row, err = c.FetchOne(ctx, Query(sql))
	require.NoError(t, err)
	require.Equal(t, "mood", row.ColumnTypes()[0].Name())
	require.Equal(t, 1, srv.Executions(sqlTypeNameByOID))

	// Once cached, the simple protocol sees the name too.
	row, err = c.FetchOne(ctx, novadb.Raw[*Arguments](sql))
	require.NoError(t, err)
	require.Equal(t, "mood", row.ColumnTypes()[0].Name())
	require.Equal(t, 1, srv.Executions(sqlTypeNameByOID))
}

func TestConn_NamedArrayResolvesTypeHoles(t *testing.T) {
	srv := pgtest.NewServer(t)
	oids := map[string]uint32{"mood": 16390, "_mood": 16389}
	srv.Handle(sqlTypeOIDByName, &pgtest.Statement{
		ParamOIDs: []uint32{OIDText},
		Columns:   []pgtest.Column{{Name: "oid", OID: OIDOid}},
		Exec: func(params [][]byte) ([][]any, string, error) {
			return [][]any{{oids[string(params[0])]}}, "SELECT 1", nil
		},
	})
	const sql = "SELECT $1::mood[]"
	sent := make(chan []byte, 1)
	srv.Handle(sql, &pgtest.Statement{
		Columns: []pgtest.Column{{Name: "moods", OID: 16389}},
		Exec: func(params [][]byte) ([][]any, string, error) {
			sent <- bytes.Clone(params[0])
			return [][]any{{pgtest.Raw(params[0])}}, "SELECT 1", nil
		},
	})
	c := connect(t, srv)

	row, err := c.FetchOne(context.Background(), Query(sql, NamedArray{ElemType: "mood", Elems: []any{"happy", "sad"}}))
	require.NoError(t, err)

	require.Equal(t, []uint32{16389}, srv.ParsedTypes(sql))
	require.Equal(t, 2, srv.Executions(sqlTypeOIDByName))
	require.Equal(t, "_mood", row.ColumnTypes()[0].Name())

	param := <-sent
	require.Equal(t, uint32(16390), bx.U32(param[8:]))
	require.Equal(t, int32(2), bx.I32(param[12:]))
}

func TestConn_DatabaseErrorLeavesConnectionUsable(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle("SELECT 1", pgtest.Rows([]pgtest.Column{{Name: "one", OID: OIDInt4}}, "SELECT 1", []any{int32(1)}))
	c := connect(t, srv)
	ctx := context.Background()

	for _, q := range []novadb.Executable[*Arguments]{novadb.Raw[*Arguments]("SEELCT 1"), Query("SEELCT 1")} {
		_, err := c.Execute(ctx, q)
		require.Error(t, err)
		require.True(t, novadb.IsDatabaseError(err))

		var dbErr *DatabaseError
		require.True(t, errors.As(err, &dbErr))
		require.Equal(t, "42601", dbErr.Code())
		require.Equal(t, `error returned from database: syntax error at or near "SEELCT"`, err.Error())
	}

	require.NoError(t, c.Ping(ctx))
	n, err := c.Execute(ctx, Query("SELECT 1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestConn_ArgumentCountMismatch(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle("SELECT $1", &pgtest.Statement{
		ParamOIDs: []uint32{OIDInt4},
		Columns:   []pgtest.Column{{Name: "v", OID: OIDInt4}},
		Exec: func(params [][]byte) ([][]any, string, error) {
			return [][]any{{pgtest.Raw(params[0])}}, "SELECT 1", nil
		},
	})
	c := connect(t, srv)

	_, err := c.FetchOne(context.Background(), Query("SELECT $1", int32(1), int32(2)))
	var countErr *novadb.ArgumentCountError
	require.True(t, errors.As(err, &countErr))
	require.Equal(t, 1, countErr.Expected)
	require.Equal(t, 2, countErr.Got)
	require.Equal(t, 0, srv.Executions("SELECT $1"))
}

func TestConn_NullHandling(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle("SELECT NULL::int4", pgtest.Rows([]pgtest.Column{{Name: "v", OID: OIDInt4}}, "SELECT 1", []any{nil}))
	c := connect(t, srv)

	row, err := c.FetchOne(context.Background(), Query("SELECT NULL::int4"))
	require.NoError(t, err)

	_, err = novadb.TryGet[int32](row, 0)
	require.ErrorIs(t, err, novadb.ErrUnexpectedNull)

	v, err := novadb.TryGet[*int32](row, 0)
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = novadb.TryGet[int32](row, "missing")
	var notFound *novadb.ColumnNotFoundError
	require.True(t, errors.As(err, &notFound))

	_, err = novadb.TryGet[int32](row, 3)
	var oob *novadb.ColumnIndexOutOfBoundsError
	require.True(t, errors.As(err, &oob))
}

func TestConn_TypeMismatchIsDecodeError(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle("SELECT 'x'", pgtest.Rows([]pgtest.Column{{Name: "v", OID: OIDText}}, "SELECT 1", []any{"x"}))
	c := connect(t, srv)

	row, err := c.FetchOne(context.Background(), Query("SELECT 'x'"))
	require.NoError(t, err)

	_, err = novadb.TryGet[int64](row, 0)
	require.ErrorIs(t, err, novadb.ErrTypeMismatch)
	var decErr *novadb.DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, 0, decErr.Index)
}

func TestConn_StatementCache(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle("SELECT $1", echo(OIDInt8))
	srv.Handle("SELECT $1 + 0", echo(OIDInt8))
	c := connect(t, srv)
	ctx := context.Background()

	for i := range 3 {
		row, err := c.FetchOne(ctx, Query("SELECT $1", i))
		require.NoError(t, err)
		require.Equal(t, int64(i), novadb.Get[int64](row, 0))
	}
	require.Equal(t, 1, srv.Parses("SELECT $1"))
	require.Equal(t, 3, srv.Executions("SELECT $1"))

	for range 2 {
		_, err := c.Execute(ctx, Query("SELECT $1 + 0", 1).WithPersistent(false))
		require.NoError(t, err)
	}
	require.Equal(t, 2, srv.Parses("SELECT $1 + 0"))
}

func TestConn_StatementCacheEviction(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.Handle("SELECT $1", echo(OIDInt8))
	srv.Handle("SELECT $1 + 0", echo(OIDInt8))

	opts := testOptions(srv)
	opts.StatementCacheCapacity = 1
	c, err := Connect(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	for _, sql := range []string{"SELECT $1", "SELECT $1 + 0", "SELECT $1", "SELECT $1"} {
		_, err := c.Execute(ctx, Query(sql, 1))
		require.NoError(t, err)
	}
	require.Equal(t, 2, srv.Parses("SELECT $1"))
	require.Equal(t, 1, srv.Parses("SELECT $1 + 0"))
	require.Equal(t, 1, c.stmts.Len())
}

func TestConn_UnresolvedStatementIsClosed(t *testing.T) {
	srv := pgtest.NewServer(t)
	const sql = "SELECT current_mood()"
	srv.Handle(sql, pgtest.Rows([]pgtest.Column{{Name: "current_mood", OID: 16390}}, "SELECT 1", []any{"happy"}))
	srv.Handle("SELECT 1", pgtest.Rows([]pgtest.Column{{Name: "one", OID: OIDInt4}}, "SELECT 1", []any{int32(1)}))
	c := connect(t, srv)
	ctx := context.Background()

	// No catalog is scripted, so the column type cannot be resolved.
	_, err := c.Execute(ctx, Query(sql))
	require.Error(t, err)
	require.Equal(t, 0, c.stmts.Len())
	require.Empty(t, srv.ClosedStatements())

	_, err = c.Execute(ctx, novadb.Raw[*Arguments]("SELECT 1"))
	require.NoError(t, err)
	require.Equal(t, []string{"novadb_s_1"}, srv.ClosedStatements())
}

func TestConn_BusyWhileIterating(t *testing.T) {
	srv := pgtest.NewServer(t)
	cols := []pgtest.Column{{Name: "n", OID: OIDInt4}}
	srv.Handle("SELECT n FROM three", pgtest.Rows(cols, "SELECT 3", []any{int32(1)}, []any{int32(2)}, []any{int32(3)}))
	c := connect(t, srv)
	ctx := context.Background()

	seen := 0
	for row, err := range c.Fetch(ctx, Query("SELECT n FROM three")) {
		require.NoError(t, err)
		seen++
		require.Equal(t, int32(seen), novadb.Get[int32](row, "n"))

		_, err = c.Execute(ctx, Query("SELECT n FROM three"))
		require.ErrorIs(t, err, novadb.ErrConnectionBusy)
		break
	}
	require.Equal(t, 1, seen)

	// Breaking out drained the rest of the result.
	rows, err := c.FetchAll(ctx, Query("SELECT n FROM three"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestConn_ExecuteManyCounts(t *testing.T) {
	srv := pgtest.NewServer(t)
	script := "INSERT INTO t VALUES (1), (2); UPDATE t SET v = 0; SELECT v FROM t"
	srv.Handle(script,
		pgtest.Command("INSERT 0 2"),
		pgtest.Command("UPDATE 2"),
		pgtest.Rows([]pgtest.Column{{Name: "v", OID: OIDInt4}}, "SELECT 2", []any{int32(0)}, []any{int32(0)}),
	)
	c := connect(t, srv)
	ctx := context.Background()

	var counts []uint64
	for n, err := range c.ExecuteMany(ctx, novadb.Raw[*Arguments](script)) {
		require.NoError(t, err)
		counts = append(counts, n)
	}
	require.Equal(t, []uint64{2, 2, 2}, counts)

	total, err := c.Execute(ctx, novadb.Raw[*Arguments](script))
	require.NoError(t, err)
	require.Equal(t, uint64(6), total)
}

func TestConn_PasswordAuthentication(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.RequirePassword("secret")
	ctx := context.Background()

	opts := testOptions(srv)
	opts.Password = "wrong"
	_, err := Connect(ctx, opts)
	var dbErr *DatabaseError
	require.True(t, errors.As(err, &dbErr))
	require.Equal(t, "28P01", dbErr.Code())

	opts.Password = "secret"
	c, err := Connect(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, "16.0 (pgtest)", c.ServerParameter("server_version"))
	require.Equal(t, byte('I'), c.TxStatus())
	require.NoError(t, c.Close())

	_, err = c.Execute(ctx, Query("SELECT 1"))
	require.ErrorIs(t, err, novadb.ErrConnectionClosed)
}

func TestConn_SCRAMAuthentication(t *testing.T) {
	srv := pgtest.NewServer(t)
	srv.RequireSCRAM("pencil")
	srv.Handle("SELECT 1", pgtest.Rows([]pgtest.Column{{Name: "one", OID: OIDInt4}}, "SELECT 1", []any{int32(1)}))
	ctx := context.Background()

	opts := testOptions(srv)
	opts.Password = "wrong"
	_, err := Connect(ctx, opts)
	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	require.Equal(t, "28P01", dbErr.Code())

	opts.Password = "pencil"
	c, err := Connect(ctx, opts)
	require.NoError(t, err)
	defer c.Close()
	n, err := c.Execute(ctx, Query("SELECT 1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestSCRAMClient(t *testing.T) {
	// RFC 7677 section 3.
	sc := &scramClient{password: []byte("pencil"), clientNonce: "rOprNGfwEbeRWgbNEkqO"}
	sc.firstBare = "n=user,r=" + sc.clientNonce

	final, err := sc.clientFinal([]byte("r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"))
	require.NoError(t, err)
	require.Equal(t, "c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ=", string(final))
	require.NoError(t, sc.verify([]byte("v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4=")))
	require.ErrorIs(t, sc.verify([]byte("v=AAAA")), novadb.ErrProtocol)

	fresh, err := newSCRAMClient("pencil")
	require.NoError(t, err)
	require.Equal(t, "n,,n=,r="+fresh.clientNonce, string(fresh.clientFirst()))
	for _, bad := range []string{
		"r=someone-else,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096",
		"r=" + fresh.clientNonce + "x,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=0",
		"r=" + fresh.clientNonce + "x,i=4096",
		"garbage",
	} {
		_, err := fresh.clientFinal([]byte(bad))
		require.ErrorIs(t, err, novadb.ErrProtocol, bad)
	}
}

func TestConn_CancelledContext(t *testing.T) {
	srv := pgtest.NewServer(t)
	block := make(chan struct{})
	srv.Handle("SELECT pg_sleep(10)", &pgtest.Statement{
		Columns: []pgtest.Column{{Name: "v", OID: OIDVoid}},
		Exec: func([][]byte) ([][]any, string, error) {
			<-block
			return nil, "SELECT 0", nil
		},
	})
	defer close(block)
	c := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, Query("SELECT pg_sleep(10)"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = c.Execute(context.Background(), Query("SELECT 1"))
	require.ErrorIs(t, err, novadb.ErrConnectionClosed)
}

func TestMD5Password(t *testing.T) {
	got := md5Password("postgres", "secret", [4]byte{1, 2, 3, 4})
	require.Len(t, got, 35)
	require.Equal(t, "md5", got[:3])
	require.Equal(t, got, md5Password("postgres", "secret", [4]byte{1, 2, 3, 4}))
	require.NotEqual(t, got, md5Password("postgres", "secret", [4]byte{4, 3, 2, 1}))
}
