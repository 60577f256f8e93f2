// stand for bytes helper: big-endian readers/appenders for PostgreSQL binary formats
package bx

import (
	"encoding/binary"
	"math"
)

var BE = binary.BigEndian

// --- BE: read ---
func U16(b []byte) uint16 { return BE.Uint16(b) }
func U32(b []byte) uint32 { return BE.Uint32(b) }
func U64(b []byte) uint64 { return BE.Uint64(b) }
func I16(b []byte) int16  { return int16(U16(b)) }
func I32(b []byte) int32  { return int32(U32(b)) }
func I64(b []byte) int64  { return int64(U64(b)) }
func F32(b []byte) float32 {
	return math.Float32frombits(U32(b))
}
func F64(b []byte) float64 {
	return math.Float64frombits(U64(b))
}

// --- BE: append ---
func AppendU16(b []byte, v uint16) []byte { return BE.AppendUint16(b, v) }
func AppendU32(b []byte, v uint32) []byte { return BE.AppendUint32(b, v) }
func AppendU64(b []byte, v uint64) []byte { return BE.AppendUint64(b, v) }
func AppendI16(b []byte, v int16) []byte  { return AppendU16(b, uint16(v)) }
func AppendI32(b []byte, v int32) []byte  { return AppendU32(b, uint32(v)) }
func AppendI64(b []byte, v int64) []byte  { return AppendU64(b, uint64(v)) }
func AppendF32(b []byte, v float32) []byte {
	return AppendU32(b, math.Float32bits(v))
}
func AppendF64(b []byte, v float64) []byte {
	return AppendU64(b, math.Float64bits(v))
}

// --- BE: At (offset) ---
func I32At(b []byte, off int) int32        { return I32(b[off:]) }
func U32At(b []byte, off int) uint32       { return U32(b[off:]) }
func PutI32At(b []byte, off int, v int32)  { BE.PutUint32(b[off:], uint32(v)) }
func PutU32At(b []byte, off int, v uint32) { BE.PutUint32(b[off:], v) }
