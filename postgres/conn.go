package postgres

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/lru"
)

// Conn is one PostgreSQL session. It runs a single operation at a time; a
// second overlapping call fails with novadb.ErrConnectionBusy.
type Conn struct {
	opts Options
	log  *slog.Logger

	netConn net.Conn
	fe      *pgproto3.Frontend
	ioCtx   context.Context

	serverParams map[string]string
	processID    uint32
	secretKey    uint32
	txStatus     byte

	busy   atomic.Bool
	closed bool

	types typeCache

	stmts        *lru.Cache[string, *statement]
	nextStmtID   uint64
	pendingClose []string
}

var _ novadb.Executor[*Row, *Arguments] = (*Conn)(nil)

// Connect dials the server and runs the startup handshake. Cleartext, MD5 and
// SCRAM-SHA-256 password authentication are supported; TLS and channel
// binding are not.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	d := net.Dialer{Timeout: opts.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", opts.address())
	if err != nil {
		return nil, fmt.Errorf("postgres: dial %s: %w", opts.address(), err)
	}

	c := &Conn{
		opts:         opts,
		log:          opts.logger(),
		netConn:      nc,
		fe:           pgproto3.NewFrontend(nc, nc),
		serverParams: make(map[string]string),
		types:        newTypeCache(),
	}
	c.stmts = lru.New(opts.StatementCacheCapacity, func(sql string, st *statement) {
		c.log.Debug("postgres: statement evicted", "name", st.name, "sql", sql)
		c.pendingClose = append(c.pendingClose, st.name)
	})

	stop := c.watch(ctx)
	err = c.startup()
	stop()
	if err != nil {
		_ = nc.Close()
		c.closed = true
		return nil, err
	}

	c.log.Debug("postgres: connected", "addr", opts.address(), "user", opts.User,
		"server_version", c.serverParams["server_version"])
	return c, nil
}

func (c *Conn) startup() error {
	c.fe.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      c.opts.startupParameters(),
	})
	if err := c.flush(); err != nil {
		return err
	}

	for {
		msg, err := c.receive()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *pgproto3.AuthenticationOk:
		case *pgproto3.AuthenticationCleartextPassword:
			c.fe.Send(&pgproto3.PasswordMessage{Password: c.opts.Password})
			if err := c.flush(); err != nil {
				return err
			}
		case *pgproto3.AuthenticationMD5Password:
			c.fe.Send(&pgproto3.PasswordMessage{Password: md5Password(c.opts.User, c.opts.Password, m.Salt)})
			if err := c.flush(); err != nil {
				return err
			}
		case *pgproto3.AuthenticationSASL:
			if err := c.authSCRAM(m.AuthMechanisms); err != nil {
				return err
			}
		case *pgproto3.BackendKeyData:
			c.processID, c.secretKey = m.ProcessID, m.SecretKey
		case *pgproto3.ErrorResponse:
			return newDatabaseError(m)
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return nil
		default:
			return fmt.Errorf("%w: unexpected %T during startup", novadb.ErrProtocol, msg)
		}
	}
}

// md5Password is "md5" + md5(md5(password + user) + salt), hex encoded.
func md5Password(user, password string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum(append([]byte(innerHex), salt[:]...))
	return "md5" + hex.EncodeToString(outer[:])
}

// ServerParameter returns a run-time parameter reported by the server, such
// as server_version.
func (c *Conn) ServerParameter(name string) string {
	return c.serverParams[name]
}

// TxStatus is the transaction status byte of the last ReadyForQuery: 'I'
// idle, 'T' in a transaction, 'E' in a failed transaction.
func (c *Conn) TxStatus() byte { return c.txStatus }

// Ping round-trips a Sync message.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	stop := c.watch(ctx)
	defer stop()

	c.fe.Send(&pgproto3.Sync{})
	if err := c.flush(); err != nil {
		return err
	}
	return c.readUntilReady()
}

// Close sends Terminate and closes the socket. Statements are released by the
// server with the session.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.fe.Send(&pgproto3.Terminate{})
	if err := c.fe.Flush(); err != nil {
		c.log.Warn("postgres: terminate failed", "err", err)
	}
	c.pendingClose = nil
	return c.netConn.Close()
}

func (c *Conn) acquire() error {
	if c.closed {
		return novadb.ErrConnectionClosed
	}
	if !c.busy.CompareAndSwap(false, true) {
		return novadb.ErrConnectionBusy
	}
	return nil
}

func (c *Conn) release() { c.busy.Store(false) }

// readUntilReady drains messages through ReadyForQuery and returns the first
// ErrorResponse seen on the way.
func (c *Conn) readUntilReady() error {
	var dbErr error
	for {
		msg, err := c.receive()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
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
