package pgtest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/tuannm99/novadb/internal/bx"
)

type prepared struct {
	sql       string
	stmt      *Statement // nil for an empty query
	paramOIDs []uint32
}

type portal struct {
	prepared *prepared
	params   [][]byte
	formats  []int16
}

// session is the per-connection protocol state.
type session struct {
	server   *Server
	be       *pgproto3.Backend
	prepared map[string]*prepared
	portal   *portal

	// failed skips extended-protocol messages until the next Sync.
	failed bool
}

func (s *session) handle(msg pgproto3.FrontendMessage) (done bool) {
	switch m := msg.(type) {
	case *pgproto3.Terminate:
		return true
	case *pgproto3.Query:
		s.simpleQuery(m.String)
		s.be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	case *pgproto3.Sync:
		s.failed = false
		s.be.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	case *pgproto3.Flush:
	default:
		if !s.failed {
			s.extended(msg)
		}
	}
	return false
}

func (s *session) simpleQuery(sql string) {
	stmts, err := s.server.lookup(sql)
	if err != nil {
		s.sendError(err)
		return
	}
	if stmts == nil {
		s.be.Send(&pgproto3.EmptyQueryResponse{})
		return
	}
	for _, st := range stmts {
		s.server.recordExec(sql)
		rows, tag, err := st.Exec(nil)
		if err != nil {
			s.sendError(err)
			return
		}
		if len(st.Columns) > 0 {
			s.be.Send(rowDescription(st.Columns, nil))
		}
		formats := make([]int16, len(st.Columns))
		for _, row := range rows {
			s.be.Send(dataRow(st.Columns, formats, row))
		}
		s.be.Send(&pgproto3.CommandComplete{CommandTag: []byte(tag)})
	}
}

func (s *session) extended(msg pgproto3.FrontendMessage) {
	switch m := msg.(type) {
	case *pgproto3.Parse:
		s.server.recordParse(m.Query, m.ParameterOIDs)
		stmts, err := s.server.lookup(m.Query)
		if err != nil {
			s.fail(err)
			return
		}
		if len(stmts) > 1 {
			s.fail(&Error{Code: "42601", Message: "cannot insert multiple commands into a prepared statement"})
			return
		}
		p := &prepared{sql: m.Query, paramOIDs: append([]uint32(nil), m.ParameterOIDs...)}
		if len(stmts) == 1 {
			p.stmt = stmts[0]
			if p.stmt.ParamOIDs != nil {
				p.paramOIDs = p.stmt.ParamOIDs
			}
		}
		s.prepared[m.Name] = p
		s.be.Send(&pgproto3.ParseComplete{})

	case *pgproto3.Describe:
		if m.ObjectType == 'P' {
			if s.portal == nil {
				s.fail(&Error{Code: "34000", Message: "portal does not exist"})
				return
			}
			s.describeColumns(s.portal.prepared, s.portal.formats)
			return
		}
		p, ok := s.prepared[m.Name]
		if !ok {
			s.fail(&Error{Code: "26000", Message: fmt.Sprintf("prepared statement %q does not exist", m.Name)})
			return
		}
		s.be.Send(&pgproto3.ParameterDescription{ParameterOIDs: p.paramOIDs})
		s.describeColumns(p, nil)

	case *pgproto3.Bind:
		p, ok := s.prepared[m.PreparedStatement]
		if !ok {
			s.fail(&Error{Code: "26000", Message: fmt.Sprintf("prepared statement %q does not exist", m.PreparedStatement)})
			return
		}
		if len(m.Parameters) != len(p.paramOIDs) {
			s.fail(&Error{Code: "08P01", Message: fmt.Sprintf(
				"bind message supplies %d parameters, but prepared statement requires %d", len(m.Parameters), len(p.paramOIDs))})
			return
		}
		params := make([][]byte, len(m.Parameters))
		for i, v := range m.Parameters {
			if v != nil {
				params[i] = bytes.Clone(v)
			}
		}
		s.portal = &portal{prepared: p, params: params, formats: append([]int16(nil), m.ResultFormatCodes...)}
		s.be.Send(&pgproto3.BindComplete{})

	case *pgproto3.Execute:
		if s.portal == nil {
			s.fail(&Error{Code: "34000", Message: "portal does not exist"})
			return
		}
		p := s.portal.prepared
		if p.stmt == nil {
			s.be.Send(&pgproto3.EmptyQueryResponse{})
			return
		}
		s.server.recordExec(p.sql)
		rows, tag, err := p.stmt.Exec(s.portal.params)
		if err != nil {
			s.fail(err)
			return
		}
		formats := resultFormats(s.portal.formats, len(p.stmt.Columns))
		for _, row := range rows {
			s.be.Send(dataRow(p.stmt.Columns, formats, row))
		}
		s.be.Send(&pgproto3.CommandComplete{CommandTag: []byte(tag)})

	case *pgproto3.Close:
		if m.ObjectType == 'S' {
			s.server.recordClose(m.Name)
			delete(s.prepared, m.Name)
		}
		s.be.Send(&pgproto3.CloseComplete{})
	}
}

func (s *session) describeColumns(p *prepared, formats []int16) {
	if p.stmt == nil || len(p.stmt.Columns) == 0 {
		s.be.Send(&pgproto3.NoData{})
		return
	}
	s.be.Send(rowDescription(p.stmt.Columns, resultFormats(formats, len(p.stmt.Columns))))
}

func (s *session) fail(err error) {
	s.sendError(err)
	s.failed = true
}

func (s *session) sendError(err error) {
	var pe *Error
	if !errors.As(err, &pe) {
		pe = &Error{Code: "XX000", Message: err.Error()}
	}
	s.be.Send(&pgproto3.ErrorResponse{Severity: "ERROR", SeverityUnlocalized: "ERROR", Code: pe.Code, Message: pe.Message})
}

// resultFormats expands Bind result format codes: none means text, one
// applies to every column.
func resultFormats(codes []int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		switch len(codes) {
		case 0:
		case 1:
			out[i] = codes[0]
		default:
			out[i] = codes[i]
		}
	}
	return out
}

func rowDescription(cols []Column, formats []int16) *pgproto3.RowDescription {
	fields := make([]pgproto3.FieldDescription, len(cols))
	for i, c := range cols {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(c.Name),
			DataTypeOID:  c.OID,
			DataTypeSize: -1,
			TypeModifier: -1,
		}
		if formats != nil {
			fields[i].Format = formats[i]
		}
	}
	return &pgproto3.RowDescription{Fields: fields}
}

func dataRow(cols []Column, formats []int16, row []any) *pgproto3.DataRow {
	values := make([][]byte, len(row))
	for i, v := range row {
		var oid uint32
		if i < len(cols) {
			oid = cols[i].OID
		}
		values[i] = encodeValue(v, oid, formats[i] == pgproto3.BinaryFormat)
	}
	return &pgproto3.DataRow{Values: values}
}

// Type identifiers the server encodes natively in binary.
const (
	oidChar = 18
	oidInt2 = 21
	oidInt4 = 23
	oidOid  = 26
)

func encodeValue(v any, oid uint32, binary bool) []byte {
	switch x := v.(type) {
	case nil:
		return nil
	case Raw:
		return []byte(x)
	case string:
		return []byte(x)
	case []byte:
		if binary {
			return x
		}
		return []byte(`\x` + hex.EncodeToString(x))
	case bool:
		if binary {
			if x {
				return []byte{1}
			}
			return []byte{0}
		}
		if x {
			return []byte("t")
		}
		return []byte("f")
	case float32:
		if binary {
			return bx.AppendF32(nil, x)
		}
		return []byte(strconv.FormatFloat(float64(x), 'g', -1, 32))
	case float64:
		if binary {
			return bx.AppendF64(nil, x)
		}
		return []byte(strconv.FormatFloat(x, 'g', -1, 64))
	}

	n, ok := toInt64(v)
	if !ok {
		return []byte(fmt.Sprint(v))
	}
	if !binary {
		if oid == oidChar {
			return []byte{byte(n)}
		}
		return []byte(strconv.FormatInt(n, 10))
	}
	switch oid {
	case oidChar:
		return []byte{byte(n)}
	case oidInt2:
		return bx.AppendI16(nil, int16(n))
	case oidInt4:
		return bx.AppendI32(nil, int32(n))
	case oidOid:
		return bx.AppendU32(nil, uint32(n))
	default:
		return bx.AppendI64(nil, n)
	}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint32:
		return int64(x), true
	}
	return 0, false
}
