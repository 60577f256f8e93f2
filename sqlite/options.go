package sqlite

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

const (
	// MemoryFilename opens a private in-memory database.
	MemoryFilename = ":memory:"

	DefaultStatementCacheCapacity = 100
)

// Options configures Open. An empty Filename opens a private temporary
// database on disk.
type Options struct {
	Filename        string
	InMemory        bool
	CreateIfMissing bool
	ReadOnly        bool

	// StatementCacheCapacity bounds the persistent statements kept per
	// connection. Evicted statements are finalized. A negative value
	// disables caching.
	StatementCacheCapacity int

	Worker WorkerStrategy
	Logger *slog.Logger
}

// DefaultOptions opens a private in-memory database.
func DefaultOptions() Options {
	return Options{
		Filename:               MemoryFilename,
		InMemory:               true,
		StatementCacheCapacity: DefaultStatementCacheCapacity,
	}
}

// ParseURL reads a connection string: "sqlite::memory:", "sqlite://path",
// "sqlite:path", a bare path, ":memory:" or "". Query parameters mode
// (ro, rw, rwc, memory), statement_cache_capacity and worker (inline,
// thread) are recognised.
func ParseURL(dsn string) (Options, error) {
	opts := DefaultOptions()
	opts.InMemory = false

	rest := dsn
	switch {
	case strings.HasPrefix(rest, "sqlite://"):
		rest = strings.TrimPrefix(rest, "sqlite://")
	case strings.HasPrefix(rest, "sqlite:"):
		rest = strings.TrimPrefix(rest, "sqlite:")
	}
	path, query, _ := strings.Cut(rest, "?")
	opts.Filename = path
	if path == MemoryFilename {
		opts.InMemory = true
	}

	q, err := url.ParseQuery(query)
	if err != nil {
		return Options{}, fmt.Errorf("sqlite: parse %q: %w", dsn, err)
	}
	switch mode := q.Get("mode"); mode {
	case "":
	case "ro":
		opts.ReadOnly = true
	case "rw":
	case "rwc":
		opts.CreateIfMissing = true
	case "memory":
		opts.InMemory = true
	default:
		return Options{}, fmt.Errorf("sqlite: unknown mode %q", mode)
	}
	if v := q.Get("statement_cache_capacity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, fmt.Errorf("sqlite: invalid statement_cache_capacity %q: %w", v, err)
		}
		opts.StatementCacheCapacity = n
	}
	if opts.Worker, err = ParseWorkerStrategy(q.Get("worker")); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	if o.StatementCacheCapacity == 0 {
		o.StatementCacheCapacity = DefaultStatementCacheCapacity
	}
	if o.Filename == MemoryFilename {
		o.InMemory = true
	}
	return o
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
