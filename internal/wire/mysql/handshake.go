package mysql

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Handshake holds the parameters used to build a Handshake v10 packet.
// AuthPluginData MUST be generated per-session from a CSPRNG (spec.md §9
// "Global state in the handshake module" redesign note) — never shared
// across sessions.
type Handshake struct {
	ServerVersion  string
	ConnectionID   uint32
	AuthPluginData []byte // 20 bytes, no NUL bytes
}

// NewHandshake builds a Handshake with fresh per-session scramble data.
func NewHandshake(serverVersion string, connectionID uint32) (Handshake, error) {
	if serverVersion == "" {
		serverVersion = DefaultServerVersion
	}
	data := make([]byte, 20)
	if _, err := rand.Read(data); err != nil {
		return Handshake{}, fmt.Errorf("mysql: generating auth challenge: %w", err)
	}
	for i := range data {
		if data[i] == 0 {
			data[i] = 1
		}
	}
	return Handshake{ServerVersion: serverVersion, ConnectionID: connectionID, AuthPluginData: data}, nil
}

// WriteHandshakeV10 writes the server's initial Handshake v10 packet
// (sequence id 0), per spec.md §4.2.
func WriteHandshakeV10(w io.Writer, h Handshake) error {
	if len(h.AuthPluginData) != 20 {
		return fmt.Errorf("mysql: handshake auth data must be 20 bytes, got %d", len(h.AuthPluginData))
	}

	var buf []byte
	buf = append(buf, 10) // protocol version
	buf = NulString(buf, h.ServerVersion)

	connID := make([]byte, 4)
	binary.LittleEndian.PutUint32(connID, h.ConnectionID)
	buf = append(buf, connID...)

	buf = append(buf, h.AuthPluginData[:8]...)
	buf = append(buf, 0) // filler

	capLow := uint16(ServerCapabilities & 0xffff)
	buf = append(buf, byte(capLow), byte(capLow>>8))

	buf = append(buf, DefaultCharset)
	buf = append(buf, byte(StatusAutocommit), 0)

	capHigh := uint16(ServerCapabilities >> 16)
	buf = append(buf, byte(capHigh), byte(capHigh>>8))

	buf = append(buf, 21) // auth-plugin-data length
	buf = append(buf, make([]byte, 10)...)

	buf = append(buf, h.AuthPluginData[8:]...)
	buf = append(buf, 0) // trailing NUL on part 2

	buf = NulString(buf, authPluginName)

	return WritePacket(w, buf, 0)
}

// HandshakeResponse is the parsed client HandshakeResponse41.
type HandshakeResponse struct {
	ClientFlags uint32
	Charset     byte
	Username    string
	AuthData    []byte
	Database    string
	AuthPlugin  string
	IsSSLProbe  bool // short 32-byte SSL-request packet (spec.md §4.2)
}

// ParseHandshakeResponse parses the client's HandshakeResponse41 payload
// (spec.md §4.2). If the payload is exactly 32 bytes and CLIENT_SSL is set,
// the response's IsSSLProbe field is true and no further fields are parsed.
func ParseHandshakeResponse(payload []byte) (HandshakeResponse, error) {
	if len(payload) < 32 {
		return HandshakeResponse{}, fmt.Errorf("mysql: handshake response too short: %d bytes", len(payload))
	}

	var resp HandshakeResponse
	resp.ClientFlags = uint32(FixedInt(payload, 0, 4))
	resp.Charset = payload[8]

	if len(payload) == 32 && resp.ClientFlags&ClientSSL != 0 {
		resp.IsSSLProbe = true
		return resp, nil
	}

	pos := 32

	resp.Username, pos = ReadNulString(payload, pos)

	switch {
	case resp.ClientFlags&ClientPluginAuthLenencClientData != 0:
		n, next, err := LenEncInt(payload, pos)
		if err != nil {
			return HandshakeResponse{}, fmt.Errorf("mysql: parsing lenenc auth data: %w", err)
		}
		pos = next
		end := pos + int(n)
		if end > len(payload) {
			return HandshakeResponse{}, fmt.Errorf("mysql: auth data length exceeds payload")
		}
		resp.AuthData = payload[pos:end]
		pos = end
	case resp.ClientFlags&ClientSecureConnection != 0:
		if pos >= len(payload) {
			return HandshakeResponse{}, fmt.Errorf("mysql: missing auth data length byte")
		}
		n := int(payload[pos])
		pos++
		end := pos + n
		if end > len(payload) {
			return HandshakeResponse{}, fmt.Errorf("mysql: auth data length exceeds payload")
		}
		resp.AuthData = payload[pos:end]
		pos = end
	default:
		var authStr string
		authStr, pos = ReadNulString(payload, pos)
		resp.AuthData = []byte(authStr)
	}

	if resp.ClientFlags&ClientConnectWithDB != 0 && pos < len(payload) {
		resp.Database, pos = ReadNulString(payload, pos)
	}

	if resp.ClientFlags&ClientPluginAuth != 0 && pos < len(payload) {
		resp.AuthPlugin, pos = ReadNulString(payload, pos)
	}

	return resp, nil
}
