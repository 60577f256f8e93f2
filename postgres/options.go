package postgres

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort                   = 5432
	DefaultStatementCacheCapacity = 100
)

// Options configures Connect.
type Options struct {
	Host     string
	Port     int
	User     string
	Database string

	// Password answers cleartext, md5 and scram-sha-256 challenges. The
	// connection is never encrypted.
	Password string

	ApplicationName string
	ConnectTimeout  time.Duration

	// StatementCacheCapacity bounds the persistent prepared statements kept
	// per connection. Evicted statements are closed on the server.
	StatementCacheCapacity int

	Logger *slog.Logger
}

// DefaultOptions connects to localhost as the postgres user.
func DefaultOptions() Options {
	return Options{
		Host:                   "localhost",
		Port:                   DefaultPort,
		User:                   "postgres",
		StatementCacheCapacity: DefaultStatementCacheCapacity,
	}
}

// ParseURL reads a postgres:// or postgresql:// connection URL. Query
// parameters application_name, connect_timeout (seconds) and
// statement_cache_capacity are recognised.
func ParseURL(dsn string) (Options, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Options{}, fmt.Errorf("postgres: parse url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return Options{}, fmt.Errorf("postgres: unsupported url scheme %q", u.Scheme)
	}

	opts := DefaultOptions()
	if host := u.Hostname(); host != "" {
		opts.Host = host
	}
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Options{}, fmt.Errorf("postgres: invalid port %q: %w", port, err)
		}
		opts.Port = p
	}
	if u.User != nil {
		opts.User = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	opts.Database = strings.TrimPrefix(u.Path, "/")

	q := u.Query()
	if v := q.Get("application_name"); v != "" {
		opts.ApplicationName = v
	}
	if v := q.Get("connect_timeout"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, fmt.Errorf("postgres: invalid connect_timeout %q: %w", v, err)
		}
		opts.ConnectTimeout = time.Duration(secs) * time.Second
	}
	if v := q.Get("statement_cache_capacity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, fmt.Errorf("postgres: invalid statement_cache_capacity %q: %w", v, err)
		}
		opts.StatementCacheCapacity = n
	}
	return opts, nil
}

// withDefaults fills zero fields. A negative StatementCacheCapacity disables
// statement caching.
func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.User == "" {
		o.User = "postgres"
	}
	if o.StatementCacheCapacity == 0 {
		o.StatementCacheCapacity = DefaultStatementCacheCapacity
	}
	return o
}

func (o Options) address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) startupParameters() map[string]string {
	params := map[string]string{
		"user":            o.User,
		"client_encoding": "UTF8",
		"DateStyle":       "ISO",
	}
	if o.Database != "" {
		params["database"] = o.Database
	}
	if o.ApplicationName != "" {
		params["application_name"] = o.ApplicationName
	}
	return params
}
