package mysql

import (
	"bytes"
	"testing"
)

func TestResultSetSequence(t *testing.T) {
	// Mirrors scenario S2 in spec.md §8: SELECT DATABASE() style single
	// column, single row result set.
	var buf bytes.Buffer
	seq := byte(1)

	if err := WriteColumnCount(&buf, seq, 1); err != nil {
		t.Fatal(err)
	}
	seq++

	if err := WriteColumnDef(&buf, seq, ColumnDef{Name: "DATABASE()", Type: 0x0f, Length: 255}); err != nil {
		t.Fatal(err)
	}
	seq++

	if err := WriteEOF(&buf, seq, 0, StatusAutocommit); err != nil {
		t.Fatal(err)
	}
	seq++

	value := "demo"
	if err := WriteRow(&buf, seq, []*string{&value}); err != nil {
		t.Fatal(err)
	}
	seq++

	if err := WriteEOF(&buf, seq, 0, StatusAutocommit); err != nil {
		t.Fatal(err)
	}

	var gotSeqs []byte
	for {
		pkt, err := ReadPacket(&buf)
		if err != nil {
			break
		}
		gotSeqs = append(gotSeqs, pkt.Seq)
	}

	want := []byte{1, 2, 3, 4, 5}
	if !bytes.Equal(gotSeqs, want) {
		t.Fatalf("sequence ids not contiguous: got %v want %v", gotSeqs, want)
	}
}

func TestWriteRowNullEncoding(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRow(&buf, 1, []*string{nil}); err != nil {
		t.Fatal(err)
	}
	pkt, err := ReadPacket(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt.Payload) != 1 || pkt.Payload[0] != 0xfb {
		t.Fatalf("expected single NULL marker byte 0xfb, got %v", pkt.Payload)
	}
}

func TestWriteRowDeclaredLengthMatchesBytes(t *testing.T) {
	// spec.md §8 invariant 6: declared length equals byte count that follows.
	v := "héllo" // multi-byte UTF-8
	var buf bytes.Buffer
	if err := WriteRow(&buf, 1, []*string{&v}); err != nil {
		t.Fatal(err)
	}
	pkt, err := ReadPacket(&buf)
	if err != nil {
		t.Fatal(err)
	}
	n, next, err := LenEncInt(pkt.Payload, 0)
	if err != nil {
		t.Fatal(err)
	}
	if int(n) != len(v) {
		t.Fatalf("declared length %d, actual byte length %d", n, len(v))
	}
	if string(pkt.Payload[next:]) != v {
		t.Fatalf("got %q", pkt.Payload[next:])
	}
}
