package pg

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize caps the length field of any post-startup message to guard
// against a malformed or hostile length prefix (spec.md §4.1/§5 "Resource
// ceilings" — the same 16MB ceiling MySQL uses, there being no Postgres-side
// equivalent specified).
const MaxMessageSize = 1 << 24

// MaxStartupMessageSize bounds the startup message; real clients never send
// more than a few hundred bytes of connection parameters.
const MaxStartupMessageSize = 10000

// Message is one post-startup protocol message: a type tag plus payload.
// The 4-byte length prefix (inclusive of itself, exclusive of the tag) is
// not part of Payload.
type Message struct {
	Type    byte
	Payload []byte
}

// ReadMessage reads one tagged message (1-byte type + 4-byte big-endian
// length + payload) from r.
func ReadMessage(r io.Reader) (Message, error) {
	head := make([]byte, 5)
	if _, err := io.ReadFull(r, head); err != nil {
		return Message{}, err
	}
	msgType := head[0]
	length := int(binary.BigEndian.Uint32(head[1:5])) - 4
	if length < 0 || length > MaxMessageSize {
		return Message{}, fmt.Errorf("pg: invalid message length: %d", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("pg: reading message payload: %w", err)
		}
	}
	return Message{Type: msgType, Payload: payload}, nil
}

// WriteMessage writes one tagged message.
func WriteMessage(w io.Writer, msgType byte, payload []byte) error {
	buf := make([]byte, 5, 5+len(payload))
	buf[0] = msgType
	binary.BigEndian.PutUint32(buf[1:5], uint32(4+len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// RawStartupMessage is an untagged startup-phase message: a 4-byte
// big-endian length (inclusive of itself) followed by the payload.
type RawStartupMessage struct {
	Payload []byte // excludes the length prefix
}

// ReadStartupMessage reads one untagged startup-phase frame.
func ReadStartupMessage(r io.Reader) (RawStartupMessage, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return RawStartupMessage{}, err
	}
	msgLen := int(binary.BigEndian.Uint32(lenBuf))
	if msgLen < 8 || msgLen > MaxStartupMessageSize {
		return RawStartupMessage{}, fmt.Errorf("pg: invalid startup message length: %d", msgLen)
	}
	body := make([]byte, msgLen-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return RawStartupMessage{}, fmt.Errorf("pg: reading startup body: %w", err)
	}
	return RawStartupMessage{Payload: body}, nil
}

// PutInt32 appends a big-endian int32.
func PutInt32(buf []byte, v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return append(buf, b...)
}

// PutInt16 appends a big-endian int16.
func PutInt16(buf []byte, v int16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return append(buf, b...)
}

// PutCString appends s followed by a NUL terminator.
func PutCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// ReadCString reads a NUL-terminated string starting at pos.
func ReadCString(buf []byte, pos int) (s string, next int) {
	end := pos
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if end >= len(buf) {
		return string(buf[pos:end]), end
	}
	return string(buf[pos:end]), end + 1
}
