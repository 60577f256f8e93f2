package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/config"
	"github.com/tuannm99/novadb/internal/resultset"
	"github.com/tuannm99/novadb/postgres"
	"github.com/tuannm99/novadb/sqlite"
	"xorkevin.dev/kerrors"
)

type execFunc func(ctx context.Context, sql string) ([]*resultset.Result, error)

// Client runs raw query strings against one connection of the configured
// driver. Exec calls are serialized, so a Client may be shared.
type Client struct {
	driver string
	mu     sync.Mutex
	exec   execFunc
	ping   func(ctx context.Context) error
	close  func() error

	// Optional per-request timeout (0 = no timeout).
	timeout time.Duration
}

// Dial opens a connection for cfg.Driver.
func Dial(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Client, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		opts, err := cfg.PostgresOptions(log)
		if err != nil {
			return nil, err
		}
		conn, err := postgres.Connect(ctx, opts)
		if err != nil {
			return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed to connect to %s", opts.Host))
		}
		return newClient[*postgres.Row, *postgres.Arguments](cfg.Driver, conn, conn.Ping, conn.Close), nil
	case config.DriverSqlite:
		opts, err := cfg.SqliteOptions(log)
		if err != nil {
			return nil, err
		}
		conn, err := sqlite.Open(ctx, opts)
		if err != nil {
			return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed to open %q", opts.Filename))
		}
		return newClient[*sqlite.Row, *sqlite.Arguments](cfg.Driver, conn, conn.Ping, conn.Close), nil
	}
	return nil, kerrors.WithKind(nil, config.ErrInvalidConfig, fmt.Sprintf("Unknown driver %q", cfg.Driver))
}

func newClient[R novadb.Row, A novadb.Arguments](driver string, e novadb.Executor[R, A], ping func(context.Context) error, closeFn func() error) *Client {
	return &Client{
		driver: driver,
		exec: func(ctx context.Context, sql string) ([]*resultset.Result, error) {
			return resultset.Collect(e.FetchMany(ctx, novadb.Raw[A](sql)))
		},
		ping:  ping,
		close: closeFn,
	}
}

func (c *Client) Driver() string { return c.driver }

// SetTimeout bounds every later Exec.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// Exec runs every statement of sql and returns one result per statement.
// On error the results of the statements that completed are returned too.
func (c *Client) Exec(ctx context.Context, sql string) ([]*resultset.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.exec(ctx, sql)
}

func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ping(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}
