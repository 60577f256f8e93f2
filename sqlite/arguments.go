package sqlite

import (
	"fmt"

	"github.com/tuannm99/novadb"
)

// ArgumentBuffer receives the values produced by encoders.
type ArgumentBuffer struct {
	values []Value
}

func (b *ArgumentBuffer) AppendInt64(v int64)   { b.values = append(b.values, IntValue(v)) }
func (b *ArgumentBuffer) AppendFloat(v float64) { b.values = append(b.values, FloatValue(v)) }
func (b *ArgumentBuffer) AppendText(v string)   { b.values = append(b.values, TextValue(v)) }
func (b *ArgumentBuffer) AppendBlob(v []byte)   { b.values = append(b.values, BlobValue(v)) }
func (b *ArgumentBuffer) AppendValue(v Value)   { b.values = append(b.values, v) }
func (b *ArgumentBuffer) Len() int              { return len(b.values) }

func (b *ArgumentBuffer) AppendBool(v bool) {
	var i int64
	if v {
		i = 1
	}
	b.values = append(b.values, Value{typ: DataTypeBool, i: i})
}

func (b *ArgumentBuffer) appendInt(v int64) {
	b.values = append(b.values, Value{typ: DataTypeInt, i: v})
}

// Arguments are the values bound to the parameters of a query. A query
// string holding several statements takes them in order, each statement
// consuming as many as it has parameters.
type Arguments struct {
	buf ArgumentBuffer
}

var _ novadb.Arguments = (*Arguments)(nil)

func NewArguments() *Arguments { return &Arguments{} }

// Add encodes v. An encoder must append exactly one value, or none when it
// reports NULL.
func (a *Arguments) Add(v any) error {
	enc, err := encoderFor(v)
	if err != nil {
		return err
	}
	n := a.buf.Len()
	if enc(&a.buf) {
		if a.buf.Len() != n {
			panic(fmt.Sprintf("sqlite: encoder for %T appended values for NULL", v))
		}
		a.buf.AppendValue(NullValue)
		return nil
	}
	if got := a.buf.Len() - n; got != 1 {
		a.buf.values = a.buf.values[:n]
		return fmt.Errorf("sqlite: encoder for %T appended %d values", v, got)
	}
	return nil
}

func (a *Arguments) Len() int { return a.buf.Len() }

// Values returns the encoded values in bind order.
func (a *Arguments) Values() []Value { return a.buf.values }

// bind binds the values from offset on to the parameters of h.
func (a *Arguments) bind(h *handle, offset int) {
	for i := range h.params {
		v := a.buf.values[offset+i]
		param := i + 1
		switch v.typ {
		case DataTypeNull:
			h.stmt.BindNull(param)
		case DataTypeInt, DataTypeInt64:
			h.stmt.BindInt64(param, v.i)
		case DataTypeBool:
			h.stmt.BindBool(param, v.i != 0)
		case DataTypeFloat:
			h.stmt.BindFloat(param, v.f)
		case DataTypeText:
			h.stmt.BindText(param, string(v.b))
		case DataTypeBlob:
			h.stmt.BindBytes(param, v.b)
		}
	}
}

// bindHandle binds the share of args that belongs to handle i and returns
// the next offset. Without arguments the statement must have no parameters.
func bindHandle(args *Arguments, h *handle, offset int, last bool) (int, error) {
	got := 0
	if args != nil {
		got = args.Len()
	}
	need := offset + h.params
	if need > got || (last && need != got) {
		return offset, &novadb.ArgumentCountError{Expected: need, Got: got}
	}
	if h.params > 0 {
		args.bind(h, offset)
	}
	return need, nil
}
