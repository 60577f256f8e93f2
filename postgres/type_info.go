package postgres

import (
	"fmt"
	"strconv"
)

// Object identifiers of the built-in types this package knows by heart.
const (
	OIDBool         uint32 = 16
	OIDBytea        uint32 = 17
	OIDChar         uint32 = 18
	OIDName         uint32 = 19
	OIDInt8         uint32 = 20
	OIDInt2         uint32 = 21
	OIDInt4         uint32 = 23
	OIDText         uint32 = 25
	OIDOid          uint32 = 26
	OIDJSON         uint32 = 114
	OIDXML          uint32 = 142
	OIDPoint        uint32 = 600
	OIDFloat4       uint32 = 700
	OIDFloat8       uint32 = 701
	OIDUnknown      uint32 = 705
	OIDMoney        uint32 = 790
	OIDBoolArray    uint32 = 1000
	OIDByteaArray   uint32 = 1001
	OIDCharArray    uint32 = 1002
	OIDNameArray    uint32 = 1003
	OIDInt2Array    uint32 = 1005
	OIDInt4Array    uint32 = 1007
	OIDTextArray    uint32 = 1009
	OIDBPCharArray  uint32 = 1014
	OIDVarcharArray uint32 = 1015
	OIDInt8Array    uint32 = 1016
	OIDFloat4Array  uint32 = 1021
	OIDFloat8Array  uint32 = 1022
	OIDOidArray     uint32 = 1028
	OIDBPChar       uint32 = 1042
	OIDVarchar      uint32 = 1043
	OIDDate         uint32 = 1082
	OIDTime         uint32 = 1083
	OIDTimestamp    uint32 = 1114
	OIDTimestamptz  uint32 = 1184
	OIDInterval     uint32 = 1186
	OIDNumeric      uint32 = 1700
	OIDRecord       uint32 = 2249
	OIDVoid         uint32 = 2278
	OIDUUID         uint32 = 2950
	OIDJSONB        uint32 = 3802
)

var builtinNames = map[uint32]string{
	OIDBool:         "BOOL",
	OIDBytea:        "BYTEA",
	OIDChar:         "\"CHAR\"",
	OIDName:         "NAME",
	OIDInt8:         "INT8",
	OIDInt2:         "INT2",
	OIDInt4:         "INT4",
	OIDText:         "TEXT",
	OIDOid:          "OID",
	OIDJSON:         "JSON",
	OIDXML:          "XML",
	OIDPoint:        "POINT",
	OIDFloat4:       "FLOAT4",
	OIDFloat8:       "FLOAT8",
	OIDUnknown:      "UNKNOWN",
	OIDMoney:        "MONEY",
	OIDBoolArray:    "BOOL[]",
	OIDByteaArray:   "BYTEA[]",
	OIDCharArray:    "\"CHAR\"[]",
	OIDNameArray:    "NAME[]",
	OIDInt2Array:    "INT2[]",
	OIDInt4Array:    "INT4[]",
	OIDTextArray:    "TEXT[]",
	OIDBPCharArray:  "CHAR[]",
	OIDVarcharArray: "VARCHAR[]",
	OIDInt8Array:    "INT8[]",
	OIDFloat4Array:  "FLOAT4[]",
	OIDFloat8Array:  "FLOAT8[]",
	OIDOidArray:     "OID[]",
	OIDBPChar:       "CHAR",
	OIDVarchar:      "VARCHAR",
	OIDDate:         "DATE",
	OIDTime:         "TIME",
	OIDTimestamp:    "TIMESTAMP",
	OIDTimestamptz:  "TIMESTAMPTZ",
	OIDInterval:     "INTERVAL",
	OIDNumeric:      "NUMERIC",
	OIDRecord:       "RECORD",
	OIDVoid:         "VOID",
	OIDUUID:         "UUID",
	OIDJSONB:        "JSONB",
}

// arrayElem maps the built-in array types to their element type.
var arrayElem = map[uint32]uint32{
	OIDBoolArray:    OIDBool,
	OIDByteaArray:   OIDBytea,
	OIDCharArray:    OIDChar,
	OIDNameArray:    OIDName,
	OIDInt2Array:    OIDInt2,
	OIDInt4Array:    OIDInt4,
	OIDTextArray:    OIDText,
	OIDBPCharArray:  OIDBPChar,
	OIDVarcharArray: OIDVarchar,
	OIDInt8Array:    OIDInt8,
	OIDFloat4Array:  OIDFloat4,
	OIDFloat8Array:  OIDFloat8,
	OIDOidArray:     OIDOid,
}

// TypeInfo describes a PostgreSQL type by object identifier. A TypeInfo built
// with TypeInfoNamed has no identifier yet; it is resolved through the
// connection's type cache before the statement is prepared.
type TypeInfo struct {
	oid  uint32
	name string
}

// TypeInfoOf returns the descriptor of a type identifier, naming it when it is
// built in.
func TypeInfoOf(oid uint32) TypeInfo {
	ti, _ := builtinTypeInfo(oid)
	return ti
}

// TypeInfoNamed declares a type by name only; used for user-defined types
// whose identifier differs between databases.
func TypeInfoNamed(name string) TypeInfo {
	return TypeInfo{name: name}
}

func builtinTypeInfo(oid uint32) (TypeInfo, bool) {
	name, ok := builtinNames[oid]
	return TypeInfo{oid: oid, name: name}, ok
}

func (t TypeInfo) OID() uint32 { return t.oid }

// Name is the type name, or "" for an identifier that could not be resolved.
func (t TypeInfo) Name() string { return t.name }

func (t TypeInfo) String() string {
	switch {
	case t.name != "":
		return t.name
	case t.oid != 0:
		return "OID " + strconv.FormatUint(uint64(t.oid), 10)
	default:
		return "UNKNOWN"
	}
}

// Resolved reports whether the descriptor carries an object identifier.
func (t TypeInfo) Resolved() bool { return t.oid != 0 }

// Elem returns the element type of a built-in array type.
func (t TypeInfo) Elem() (TypeInfo, bool) {
	elem, ok := arrayElem[t.oid]
	if !ok {
		return TypeInfo{}, false
	}
	return TypeInfoOf(elem), true
}

// Type is implemented by host types that declare the PostgreSQL type they
// encode to and decode from.
type Type interface {
	PostgresType() TypeInfo
}

func (t TypeInfo) GoString() string {
	return fmt.Sprintf("postgres.TypeInfo{oid: %d, name: %q}", t.oid, t.name)
}
