package postgres

import (
	"fmt"

	"github.com/tuannm99/novadb"
	"github.com/tuannm99/novadb/internal/bx"
)

// ArgumentBuffer holds the encoded bind parameters in Bind message layout:
// per value a 4-byte big-endian length followed by the payload, or -1 and no
// payload for NULL.
type ArgumentBuffer struct {
	data []byte

	// typeHoles are offsets of 4-byte placeholders that receive the object
	// identifier of the named type before the buffer is sent.
	typeHoles []typeHole
}

type typeHole struct {
	offset int
	name   string
}

// Write appends raw payload bytes for the value being encoded.
func (b *ArgumentBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Append is Write without the io.Writer signature.
func (b *ArgumentBuffer) Append(p ...byte) {
	b.data = append(b.data, p...)
}

// AppendTypeHole reserves 4 bytes that are patched with the identifier of the
// type called name once it is known.
func (b *ArgumentBuffer) AppendTypeHole(name string) {
	b.typeHoles = append(b.typeHoles, typeHole{offset: len(b.data), name: name})
	b.data = bx.AppendU32(b.data, 0)
}

// encodeValue writes one length-prefixed value. The length is a placeholder
// until enc has appended the payload.
func (b *ArgumentBuffer) encodeValue(ti TypeInfo, enc func(*ArgumentBuffer) novadb.IsNull) novadb.IsNull {
	offset := len(b.data)
	b.data = append(b.data, 0, 0, 0, 0)

	isNull := enc(b)

	written := len(b.data) - offset - 4
	if isNull {
		if written != 0 {
			panic(fmt.Sprintf("postgres: encoder for %s wrote %d bytes for a NULL value", ti, written))
		}
		bx.PutI32At(b.data, offset, -1)
	} else {
		bx.PutI32At(b.data, offset, int32(written))
	}
	return isNull
}

// Bytes returns the encoded buffer.
func (b *ArgumentBuffer) Bytes() []byte { return b.data }

// Arguments collects the values bound to one execution: their parameter types
// and their encoded bytes.
type Arguments struct {
	types []TypeInfo
	buf   ArgumentBuffer
}

// NewArguments returns an empty argument list.
func NewArguments() *Arguments {
	return &Arguments{}
}

// Add encodes v and appends it.
func (a *Arguments) Add(v any) error {
	ti, enc, err := encoderFor(v)
	if err != nil {
		return err
	}
	a.add(ti, enc)
	return nil
}

// Len is the number of encoded values.
func (a *Arguments) Len() int { return len(a.types) }

// Types returns the parameter types of the encoded values.
func (a *Arguments) Types() []TypeInfo { return a.types }

// Buffer exposes the encoded bytes.
func (a *Arguments) Buffer() *ArgumentBuffer { return &a.buf }

func (a *Arguments) add(ti TypeInfo, enc func(*ArgumentBuffer) novadb.IsNull) {
	a.buf.encodeValue(ti, enc)
	a.types = append(a.types, ti)
}

// oids lists the parameter type identifiers for the Parse message; 0 lets the
// server infer the type.
func (a *Arguments) oids() []uint32 {
	oids := make([]uint32, len(a.types))
	for i, ti := range a.types {
		oids[i] = ti.oid
	}
	return oids
}

// params splits the buffer into the per-value slices of a Bind message. NULL
// becomes a nil slice.
func (a *Arguments) params() [][]byte {
	out := make([][]byte, 0, len(a.types))
	data := a.buf.data
	for pos := 0; pos < len(data); {
		n := int(bx.I32At(data, pos))
		pos += 4
		if n < 0 {
			out = append(out, nil)
			continue
		}
		out = append(out, data[pos:pos+n:pos+n])
		pos += n
	}
	return out
}

// unresolved reports whether any parameter type or type hole still needs a
// name lookup.
func (a *Arguments) unresolved() bool {
	if len(a.buf.typeHoles) > 0 {
		return true
	}
	for _, ti := range a.types {
		if !ti.Resolved() && ti.name != "" {
			return true
		}
	}
	return false
}

// patch fills every name-only type with the identifier lookup returns.
func (a *Arguments) patch(lookup func(name string) (uint32, error)) error {
	for i, ti := range a.types {
		if ti.Resolved() || ti.name == "" {
			continue
		}
		oid, err := lookup(ti.name)
		if err != nil {
			return err
		}
		a.types[i].oid = oid
	}
	for _, hole := range a.buf.typeHoles {
		oid, err := lookup(hole.name)
		if err != nil {
			return err
		}
		bx.PutU32At(a.buf.data, hole.offset, oid)
	}
	a.buf.typeHoles = nil
	return nil
}
