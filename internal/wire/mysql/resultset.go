package mysql

import "io"

// ColumnDef is the wire-level shape of one MySQL column definition packet.
// Callers (internal/typemap) are responsible for mapping a backend column's
// type into the Type/Flags/Length fields described here (spec.md §4.4).
type ColumnDef struct {
	Schema    string
	Table     string
	OrgTable  string
	Name      string
	OrgName   string
	Charset   uint16
	Length    uint32
	Type      byte
	Flags     uint16
	Decimals  byte
}

// WriteColumnCount writes the column-count packet that begins a result set.
func WriteColumnCount(w io.Writer, seq byte, n int) error {
	buf := PutLenEncInt(nil, uint64(n))
	return WritePacket(w, buf, seq)
}

// WriteColumnDef writes one column-definition packet (spec.md §4.2
// "ResultSet response shape").
func WriteColumnDef(w io.Writer, seq byte, c ColumnDef) error {
	var buf []byte
	buf = PutLenEncString(buf, "def")
	buf = PutLenEncString(buf, c.Schema)
	buf = PutLenEncString(buf, c.Table)
	buf = PutLenEncString(buf, c.OrgTable)
	buf = PutLenEncString(buf, c.Name)
	buf = PutLenEncString(buf, c.OrgName)
	buf = PutLenEncInt(buf, 0x0c) // length of fixed fields that follow
	buf = append(buf, byte(c.Charset), byte(c.Charset>>8))
	buf = append(buf, byte(c.Length), byte(c.Length>>8), byte(c.Length>>16), byte(c.Length>>24))
	buf = append(buf, c.Type)
	buf = append(buf, byte(c.Flags), byte(c.Flags>>8))
	buf = append(buf, c.Decimals)
	buf = append(buf, 0, 0) // filler
	return WritePacket(w, buf, seq)
}

// WriteRow writes one row packet. A nil entry in values encodes as NULL
// (0xfb); everything else is sent as a length-encoded UTF-8 string,
// matching the text-protocol value serialization in spec.md §4.4.
func WriteRow(w io.Writer, seq byte, values []*string) error {
	var buf []byte
	for _, v := range values {
		if v == nil {
			buf = append(buf, 0xfb)
			continue
		}
		buf = PutLenEncString(buf, *v)
	}
	return WritePacket(w, buf, seq)
}
