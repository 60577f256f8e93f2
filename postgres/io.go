package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
)

// watch ties socket I/O to ctx: once ctx is done the socket deadline is moved
// into the past so a blocked read or write returns. The returned func clears
// the deadline so an idle connection does not expire.
func (c *Conn) watch(ctx context.Context) func() {
	c.ioCtx = ctx
	stopAfter := context.AfterFunc(ctx, func() {
		_ = c.netConn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stopAfter()
		c.ioCtx = nil
		_ = c.netConn.SetDeadline(time.Time{})
	}
}

func (c *Conn) flush() error {
	if err := c.fe.Flush(); err != nil {
		return c.broken(fmt.Errorf("postgres: send: %w", err))
	}
	return nil
}

// receive returns the next message that belongs to the current exchange.
// Asynchronous messages are consumed here. The returned message is only
// valid until the next call.
func (c *Conn) receive() (pgproto3.BackendMessage, error) {
	for {
		msg, err := c.fe.Receive()
		if err != nil {
			return nil, c.broken(fmt.Errorf("postgres: receive: %w", err))
		}
		switch m := msg.(type) {
		case *pgproto3.ParameterStatus:
			c.serverParams[m.Name] = m.Value
		case *pgproto3.NoticeResponse:
			c.log.Debug("postgres: notice", "severity", m.Severity, "message", m.Message)
		case *pgproto3.NotificationResponse:
			c.log.Debug("postgres: notification ignored", "channel", m.Channel)
		default:
			return msg, nil
		}
	}
}

// broken closes the socket after an I/O failure; the session state is
// unknown from here on.
func (c *Conn) broken(err error) error {
	if !c.closed {
		c.closed = true
		_ = c.netConn.Close()
	}
	if c.ioCtx != nil && c.ioCtx.Err() != nil {
		return fmt.Errorf("%w: %w", c.ioCtx.Err(), err)
	}
	return err
}
