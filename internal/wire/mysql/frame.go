package mysql

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPacketSize is the MySQL protocol's single-frame payload ceiling
// (2^24 - 1). This gateway never emits multi-segment payloads, and
// ReadPacket returns each segment of a multi-segment payload as its own
// Packet; it does not join continuation segments.
const MaxPacketSize = 1<<24 - 1

// Packet is one framed MySQL payload plus its sequence id.
type Packet struct {
	Payload []byte
	Seq     byte
}

// ReadPacket reads a single MySQL packet (3-byte length + 1-byte sequence id
// header, followed by the payload) from r. A short read at any point is
// fatal to the caller's session (spec.md §4.1 "Errors").
func ReadPacket(r io.Reader) (Packet, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return Packet{}, err
	}

	length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	seq := header[3]
	if length > MaxPacketSize {
		return Packet{}, fmt.Errorf("mysql: packet too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Packet{}, fmt.Errorf("mysql: reading packet payload: %w", err)
		}
	}

	return Packet{Payload: payload, Seq: seq}, nil
}

// WritePacket writes a single MySQL packet with the given sequence id.
func WritePacket(w io.Writer, payload []byte, seq byte) error {
	if len(payload) > MaxPacketSize {
		return fmt.Errorf("mysql: payload exceeds max packet size: %d bytes", len(payload))
	}
	header := make([]byte, 4, 4+len(payload))
	header[0] = byte(len(payload))
	header[1] = byte(len(payload) >> 8)
	header[2] = byte(len(payload) >> 16)
	header[3] = seq
	header = append(header, payload...)
	_, err := w.Write(header)
	return err
}

// PutLenEncInt appends x to buf using the MySQL length-encoded integer
// format (spec.md §4.1 "Primitive encodings").
func PutLenEncInt(buf []byte, x uint64) []byte {
	switch {
	case x < 0xfb:
		return append(buf, byte(x))
	case x <= 0xffff:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(x))
		return append(append(buf, 0xfc), b...)
	case x <= 0xffffff:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(x))
		return append(append(buf, 0xfd), b[:3]...)
	default:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, x)
		return append(append(buf, 0xfe), b...)
	}
}

// LenEncInt decodes a length-encoded integer from buf starting at pos,
// returning the value and the position immediately following it.
func LenEncInt(buf []byte, pos int) (value uint64, next int, err error) {
	if pos >= len(buf) {
		return 0, pos, fmt.Errorf("mysql: lenenc int: short buffer")
	}
	b := buf[pos]
	switch {
	case b < 0xfb:
		return uint64(b), pos + 1, nil
	case b == 0xfc:
		if pos+3 > len(buf) {
			return 0, pos, fmt.Errorf("mysql: lenenc int: short 2-byte form")
		}
		return uint64(binary.LittleEndian.Uint16(buf[pos+1 : pos+3])), pos + 3, nil
	case b == 0xfd:
		if pos+4 > len(buf) {
			return 0, pos, fmt.Errorf("mysql: lenenc int: short 3-byte form")
		}
		v := uint64(buf[pos+1]) | uint64(buf[pos+2])<<8 | uint64(buf[pos+3])<<16
		return v, pos + 4, nil
	case b == 0xfe:
		if pos+9 > len(buf) {
			return 0, pos, fmt.Errorf("mysql: lenenc int: short 8-byte form")
		}
		return binary.LittleEndian.Uint64(buf[pos+1 : pos+9]), pos + 9, nil
	default:
		return 0, pos, fmt.Errorf("mysql: lenenc int: reserved marker 0x%02x", b)
	}
}

// PutLenEncString appends s to buf as a length-encoded string.
func PutLenEncString(buf []byte, s string) []byte {
	buf = PutLenEncInt(buf, uint64(len(s)))
	return append(buf, s...)
}

// NulString appends s followed by a NUL terminator.
func NulString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// ReadNulString reads a NUL-terminated string from buf starting at pos.
func ReadNulString(buf []byte, pos int) (s string, next int) {
	end := pos
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if end >= len(buf) {
		return string(buf[pos:end]), end
	}
	return string(buf[pos:end]), end + 1
}

// FixedInt reads a little-endian fixed-width integer of the given byte width.
func FixedInt(buf []byte, pos, width int) uint64 {
	var v uint64
	for i := 0; i < width && pos+i < len(buf); i++ {
		v |= uint64(buf[pos+i]) << (8 * i)
	}
	return v
}
