// Package typemap implements spec.md §4.4: translating a backend.Type
// descriptor into the MySQL column-type byte (plus flags and display
// length) or the PostgreSQL type OID (plus type size) a client expects to
// see on the wire.
package typemap

import "github.com/dbgateway/dbgateway/internal/backend"

// MySQL column type bytes (Protocol::ColumnType), the subset this gateway
// emits. Anything not in the table falls back to VarString.
const (
	mysqlTypeDecimal   byte = 0x00
	mysqlTypeTiny      byte = 0x01
	mysqlTypeShort     byte = 0x02
	mysqlTypeLong      byte = 0x03
	mysqlTypeFloat     byte = 0x04
	mysqlTypeDouble    byte = 0x05
	mysqlTypeLongLong  byte = 0x08
	mysqlTypeDate      byte = 0x0a
	mysqlTypeTime      byte = 0x0b
	mysqlTypeTimestamp byte = 0x0c
	mysqlTypeVarString byte = 0x0f
	mysqlTypeBlob      byte = 0xfc
	mysqlTypeBit       byte = 0x10
)

// MySQL column flags this gateway sets.
const (
	flagNotNull      uint16 = 0x0001
	flagAutoInc      uint16 = 0x0200
	flagSignedMarker uint16 = 0x0010 // spec.md §4.4 open question 2: see note below
)

// MySQLColumn is the (type byte, flags, display length) triple a column
// definition packet needs.
type MySQLColumn struct {
	Type        byte
	Flags       uint16
	DisplaySize uint32
	Decimals    byte
}

// ToMySQLColumn maps a backend column descriptor to its MySQL wire shape.
//
// spec.md §9 open question 2 flags that the source encodes signedness as
// 0x0010 (rather than the real MySQL convention of 0x0020 = UNSIGNED) and
// calls it "likely a bug". Reviewers did not resolve the question one way
// or the other, so this gateway preserves the source's observed behavior
// byte-for-byte rather than silently fixing a wire-visible flag that real
// client drivers may already be tolerating: it sets flagSignedMarker
// (0x0010) when the column is signed, leaving the correction as the
// documented open item it is.
func ToMySQLColumn(c backend.ColumnDescriptor) MySQLColumn {
	col := MySQLColumn{
		Type:        mysqlColumnType(c.BackendType),
		DisplaySize: mysqlDisplaySize(c),
	}
	if !c.Nullable {
		col.Flags |= flagNotNull
	}
	if c.AutoIncrement {
		col.Flags |= flagAutoInc
	}
	if c.Signed {
		col.Flags |= flagSignedMarker
	}
	if c.BackendType == backend.TypeDecimal {
		col.Decimals = byte(c.Scale)
	}
	return col
}

func mysqlColumnType(t backend.Type) byte {
	switch t {
	case backend.TypeBit:
		return mysqlTypeBit
	case backend.TypeTinyInt:
		return mysqlTypeTiny
	case backend.TypeSmallInt:
		return mysqlTypeShort
	case backend.TypeInt:
		return mysqlTypeLong
	case backend.TypeBigInt:
		return mysqlTypeLongLong
	case backend.TypeFloat:
		return mysqlTypeFloat
	case backend.TypeDouble:
		return mysqlTypeDouble
	case backend.TypeDecimal:
		return mysqlTypeDecimal
	case backend.TypeDate:
		return mysqlTypeDate
	case backend.TypeTime:
		return mysqlTypeTime
	case backend.TypeTimestamp:
		return mysqlTypeTimestamp
	case backend.TypeBlob, backend.TypeBytea:
		return mysqlTypeBlob
	default:
		return mysqlTypeVarString
	}
}

// mysqlDisplaySize applies spec.md §4.4's simple declared-length rules.
func mysqlDisplaySize(c backend.ColumnDescriptor) uint32 {
	switch c.BackendType {
	case backend.TypeInt, backend.TypeBigInt:
		return 11
	case backend.TypeDate:
		return 10
	case backend.TypeTimestamp:
		return 19
	case backend.TypeDecimal:
		return uint32(c.Precision + 2)
	case backend.TypeChar, backend.TypeVarchar:
		if c.DisplaySize > 0 {
			return uint32(c.DisplaySize)
		}
		return 255
	default:
		if c.DisplaySize > 0 {
			return uint32(c.DisplaySize)
		}
		return 255
	}
}

// PostgreSQL type OIDs this gateway emits (spec.md §4.4); unmapped types
// fall back to 25 (text).
const (
	oidBool      int32 = 16
	oidInt2      int32 = 21
	oidInt4      int32 = 23
	oidInt8      int32 = 20
	oidFloat4    int32 = 700
	oidFloat8    int32 = 701
	oidNumeric   int32 = 1700
	oidChar      int32 = 1042
	oidVarchar   int32 = 1043
	oidDate      int32 = 1082
	oidTime      int32 = 1083
	oidTimestamp int32 = 1114
	oidBytea     int32 = 17
	oidText      int32 = 25
)

// PostgresColumn is the (OID, type size) pair RowDescription needs.
type PostgresColumn struct {
	OID  int32
	Size int16
}

// ToPostgresColumn maps a backend column descriptor to its Postgres OID
// and wire type size (fixed widths per OID; -1 for variable-length types).
func ToPostgresColumn(c backend.ColumnDescriptor) PostgresColumn {
	oid := postgresOID(c.BackendType)
	return PostgresColumn{OID: oid, Size: postgresTypeSize(oid)}
}

func postgresOID(t backend.Type) int32 {
	switch t {
	case backend.TypeBool:
		return oidBool
	case backend.TypeSmallInt:
		return oidInt2
	case backend.TypeInt:
		return oidInt4
	case backend.TypeBigInt:
		return oidInt8
	case backend.TypeFloat:
		return oidFloat4
	case backend.TypeDouble:
		return oidFloat8
	case backend.TypeDecimal:
		return oidNumeric
	case backend.TypeChar:
		return oidChar
	case backend.TypeVarchar:
		return oidVarchar
	case backend.TypeDate:
		return oidDate
	case backend.TypeTime:
		return oidTime
	case backend.TypeTimestamp:
		return oidTimestamp
	case backend.TypeBytea, backend.TypeBlob:
		return oidBytea
	default:
		return oidText
	}
}

func postgresTypeSize(oid int32) int16 {
	switch oid {
	case oidBool:
		return 1
	case oidInt2:
		return 2
	case oidInt4, oidFloat4:
		return 4
	case oidInt8, oidFloat8:
		return 8
	default:
		return -1
	}
}

// TextValue renders a backend cell as the UTF-8 text every wire value
// crosses the protocol boundary as (spec.md §4.4 "Value serialization").
// NULL handling is the caller's responsibility (the *string is nil).
func TextValue(v *string) (value string, isNull bool) {
	if v == nil {
		return "", true
	}
	return *v, false
}
