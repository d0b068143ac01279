package mysql

import "io"

// WriteOK writes an OK_Packet (spec.md §4.2). affectedRows/lastInsertID are
// length-encoded; status and warnings are fixed 2-byte fields.
func WriteOK(w io.Writer, seq byte, affectedRows, lastInsertID uint64, status, warnings uint16) error {
	buf := []byte{headerOK}
	buf = PutLenEncInt(buf, affectedRows)
	buf = PutLenEncInt(buf, lastInsertID)
	buf = append(buf, byte(status), byte(status>>8))
	buf = append(buf, byte(warnings), byte(warnings>>8))
	return WritePacket(w, buf, seq)
}

// WriteEOF writes an EOF_Packet. Its payload length is always exactly 5
// (spec.md §8 invariant 4), unambiguous against a row whose first byte
// is 0xfe: that byte opens an 8-byte length-encoded integer, so such a row
// payload is at least 9 bytes long (see IsEOFPacket).
func WriteEOF(w io.Writer, seq byte, warnings, status uint16) error {
	buf := []byte{
		headerEOF,
		byte(warnings), byte(warnings >> 8),
		byte(status), byte(status >> 8),
	}
	return WritePacket(w, buf, seq)
}

// WriteErr writes an ERR_Packet (spec.md §4.2). sqlState is space-padded or
// truncated to exactly 5 characters.
func WriteErr(w io.Writer, seq byte, code uint16, sqlState, message string) error {
	buf := []byte{headerErr, byte(code), byte(code >> 8), '#'}
	buf = append(buf, padSQLState(sqlState)...)
	buf = append(buf, message...)
	return WritePacket(w, buf, seq)
}

func padSQLState(s string) string {
	if len(s) > 5 {
		return s[:5]
	}
	for len(s) < 5 {
		s += " "
	}
	return s
}

// IsErrPacket reports whether payload begins with the ERR_Packet header.
func IsErrPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == headerErr
}

// IsOKPacket reports whether payload begins with the OK_Packet header.
func IsOKPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == headerOK
}

// IsEOFPacket reports whether payload is shaped like an EOF_Packet (header
// byte 0xfe and length under 9, per spec.md's disambiguation rule).
func IsEOFPacket(payload []byte) bool {
	return len(payload) > 0 && payload[0] == headerEOF && len(payload) < 9
}
