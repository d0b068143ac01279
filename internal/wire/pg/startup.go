package pg

import (
	"encoding/binary"
	"fmt"
)

// StartupRequest is the result of reading and classifying one startup-phase
// frame: either an SSL probe, a cancel request, or a parsed StartupMessage.
type StartupRequest struct {
	IsSSLRequest    bool
	IsCancelRequest bool
	ProtocolVersion uint32
	Params          map[string]string
}

// recognizedStartupParams are the keys spec.md §4.3 calls out by name;
// anything else is accepted and ignored, per spec.
var recognizedStartupParams = map[string]bool{
	"user":             true,
	"database":         true,
	"client_encoding":  true,
	"DateStyle":        true,
	"TimeZone":         true,
	"application_name": true,
}

// ParseStartupFrame classifies a raw startup-phase frame and, for an actual
// StartupMessage, parses its NUL-terminated key/value parameter list.
func ParseStartupFrame(raw RawStartupMessage) (StartupRequest, error) {
	if len(raw.Payload) < 4 {
		return StartupRequest{}, fmt.Errorf("pg: startup frame too short")
	}
	code := binary.BigEndian.Uint32(raw.Payload[:4])

	switch code {
	case SSLRequestCode:
		return StartupRequest{IsSSLRequest: true}, nil
	case CancelRequestCode:
		return StartupRequest{IsCancelRequest: true}, nil
	}

	params := make(map[string]string)
	data := raw.Payload[4:]
	pos := 0
	for pos < len(data) {
		if data[pos] == 0 {
			break
		}
		var key, val string
		key, pos = ReadCString(data, pos)
		if pos > len(data) {
			break
		}
		val, pos = ReadCString(data, pos)
		params[key] = val
	}

	return StartupRequest{ProtocolVersion: code, Params: params}, nil
}

// Recognized reports whether key is one of the parameters spec.md §4.3
// names explicitly. Unknown keys are still returned in Params — the
// gateway just doesn't act on them.
func Recognized(key string) bool {
	return recognizedStartupParams[key]
}
