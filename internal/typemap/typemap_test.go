package typemap

import (
	"testing"

	"github.com/dbgateway/dbgateway/internal/backend"
)

func TestToMySQLColumnInt(t *testing.T) {
	c := ToMySQLColumn(backend.ColumnDescriptor{BackendType: backend.TypeInt, Nullable: false, Signed: true})
	if c.Type != mysqlTypeLong {
		t.Fatalf("got type 0x%02x", c.Type)
	}
	if c.Flags&flagNotNull == 0 {
		t.Fatal("expected NOT_NULL flag set")
	}
	if c.DisplaySize != 11 {
		t.Fatalf("got display size %d", c.DisplaySize)
	}
}

func TestToMySQLColumnUnmappedFallsBackToVarString(t *testing.T) {
	c := ToMySQLColumn(backend.ColumnDescriptor{BackendType: backend.Type(999)})
	if c.Type != mysqlTypeVarString {
		t.Fatalf("got type 0x%02x, want VAR_STRING fallback", c.Type)
	}
}

func TestToPostgresColumnInt4(t *testing.T) {
	c := ToPostgresColumn(backend.ColumnDescriptor{BackendType: backend.TypeInt})
	if c.OID != 23 {
		t.Fatalf("got oid %d", c.OID)
	}
	if c.Size != 4 {
		t.Fatalf("got size %d", c.Size)
	}
}

func TestToPostgresColumnUnmappedFallsBackToText(t *testing.T) {
	c := ToPostgresColumn(backend.ColumnDescriptor{BackendType: backend.Type(999)})
	if c.OID != oidText {
		t.Fatalf("got oid %d, want text fallback", c.OID)
	}
	if c.Size != -1 {
		t.Fatalf("got size %d, want -1 for variable-length", c.Size)
	}
}

func TestTextValueNull(t *testing.T) {
	if _, isNull := TextValue(nil); !isNull {
		t.Fatal("expected nil to report isNull")
	}
	v := "hello"
	s, isNull := TextValue(&v)
	if isNull || s != "hello" {
		t.Fatalf("got %q isNull=%v", s, isNull)
	}
}

func TestDecimalDisplaySizeUsesPrecision(t *testing.T) {
	c := ToMySQLColumn(backend.ColumnDescriptor{BackendType: backend.TypeDecimal, Precision: 10, Scale: 2})
	if c.DisplaySize != 12 {
		t.Fatalf("got display size %d", c.DisplaySize)
	}
	if c.Decimals != 2 {
		t.Fatalf("got decimals %d", c.Decimals)
	}
}
