// Package pgtest is a scripted PostgreSQL backend for tests. It speaks enough
// of protocol v3 (startup, cleartext password, simple and extended query) to
// drive a client against canned statements over a real TCP socket.
package pgtest

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
)

// Column describes one result column.
type Column struct {
	Name string
	OID  uint32
}

// Raw is sent as-is in either format.
type Raw []byte

// Statement is one scripted SQL statement.
type Statement struct {
	// ParamOIDs are reported by Describe. When nil the types sent with Parse
	// are echoed back.
	ParamOIDs []uint32
	Columns   []Column

	// Exec computes the rows and command tag of one execution from the raw
	// parameter values. Returning an *Error sends an ErrorResponse.
	Exec func(params [][]byte) (rows [][]any, tag string, err error)
}

// Rows is a Statement with fixed output.
func Rows(cols []Column, tag string, rows ...[]any) *Statement {
	return &Statement{
		Columns: cols,
		Exec: func([][]byte) ([][]any, string, error) {
			return rows, tag, nil
		},
	}
}

// Command is a Statement without result columns.
func Command(tag string) *Statement {
	return Rows(nil, tag)
}

// Error is reported to the client as an ErrorResponse.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Server accepts connections until Close.
type Server struct {
	ln  net.Listener
	log *slog.Logger

	mu       sync.Mutex
	password string
	scram    bool
	script   map[string][]*Statement
	execs    map[string]int
	parses   map[string]int
	parsed   map[string][]uint32
	closed   []string
	conns    map[net.Conn]struct{}

	wg sync.WaitGroup
}

// NewServer listens on a loopback port and stops when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("pgtest: listen: %v", err)
	}
	s := &Server{
		ln:     ln,
		log:    slog.Default(),
		script: make(map[string][]*Statement),
		execs:  make(map[string]int),
		parses: make(map[string]int),
		parsed: make(map[string][]uint32),
		conns:  make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// Handle scripts sql. A simple query runs every statement in order; the
// extended protocol accepts only a single one.
func (s *Server) Handle(sql string, stmts ...*Statement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[sql] = stmts
}

// RequirePassword makes new sessions authenticate with a cleartext password.
func (s *Server) RequirePassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = password
	s.scram = false
}

// RequireSCRAM makes new sessions authenticate with SCRAM-SHA-256.
func (s *Server) RequireSCRAM(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = password
	s.scram = true
}

// Executions is how many times statements of sql have been executed.
func (s *Server) Executions(sql string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execs[sql]
}

// Parses is how many Parse messages named sql.
func (s *Server) Parses(sql string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parses[sql]
}

// ParsedTypes returns the parameter types the client sent in its last Parse
// of sql.
func (s *Server) ParsedTypes(sql string) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parsed[sql]
}

// ClosedStatements lists the prepared statements clients closed, in order.
func (s *Server) ClosedStatements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.closed)
}

func (s *Server) Host() string { return s.ln.Addr().(*net.TCPAddr).IP.String() }
func (s *Server) Port() int    { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("pgtest: accept", "err", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	be := pgproto3.NewBackend(conn, conn)
	if err := s.startup(conn, be); err != nil {
		s.log.Debug("pgtest: startup", "err", err)
		return
	}

	sess := &session{server: s, be: be, prepared: make(map[string]*prepared)}
	for {
		msg, err := be.Receive()
		if err != nil {
			return
		}
		if done := sess.handle(msg); done {
			return
		}
		if err := be.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) startup(conn net.Conn, be *pgproto3.Backend) error {
	for {
		msg, err := be.ReceiveStartupMessage()
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
			if _, err := conn.Write([]byte("N")); err != nil {
				return err
			}
			continue
		case *pgproto3.StartupMessage:
		default:
			return fmt.Errorf("unexpected startup message %T", msg)
		}
		break
	}

	s.mu.Lock()
	password, scram := s.password, s.scram
	s.mu.Unlock()

	var err error
	switch {
	case scram:
		err = authSCRAM(be, password)
	case password != "":
		err = authCleartext(be, password)
	}
	if err != nil {
		be.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: "28P01", Message: "password authentication failed"})
		_ = be.Flush()
		return err
	}

	be.Send(&pgproto3.AuthenticationOk{})
	be.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "16.0 (pgtest)"})
	be.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
	be.Send(&pgproto3.BackendKeyData{ProcessID: 1, SecretKey: 2})
	be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	return be.Flush()
}

// lookup returns the script for sql. Unknown SQL is a syntax error, blank SQL
// is an empty query.
func (s *Server) lookup(sql string) ([]*Statement, error) {
	if strings.TrimSpace(strings.ReplaceAll(sql, ";", "")) == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stmts, ok := s.script[sql]
	if !ok {
		word, _, _ := strings.Cut(strings.TrimSpace(sql), " ")
		return nil, &Error{Code: "42601", Message: fmt.Sprintf("syntax error at or near %q", word)}
	}
	return stmts, nil
}

func (s *Server) recordExec(sql string) {
	s.mu.Lock()
	s.execs[sql]++
	s.mu.Unlock()
}

func (s *Server) recordClose(name string) {
	s.mu.Lock()
	s.closed = append(s.closed, name)
	s.mu.Unlock()
}

func (s *Server) recordParse(sql string, oids []uint32) {
	s.mu.Lock()
	s.parses[sql]++
	s.parsed[sql] = slices.Clone(oids)
	s.mu.Unlock()
}
