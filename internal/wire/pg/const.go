// Package pg implements the server side of the PostgreSQL frontend/backend
// protocol version 3.0: the startup/SSL-probe phase, simple-query
// responses, and the skeleton of the extended-query protocol.
package pg

// ProtocolVersion3 is protocol version 3.0 (196608), the only version this
// gateway understands (spec.md §4.3).
const ProtocolVersion3 = 3<<16 | 0

// SSLRequestCode is the magic number sent as the "protocol version" field
// of an 8-byte SSLRequest startup message.
const SSLRequestCode = 80877103

// CancelRequestCode is the magic number for a CancelRequest startup
// message. This gateway does not support query cancellation (spec.md
// §4.1): on receipt, the caller closes the connection.
const CancelRequestCode = 80877102

// Backend (server-to-client) message type tags.
const (
	MsgAuthentication  byte = 'R'
	MsgParameterStatus byte = 'S'
	MsgBackendKeyData  byte = 'K'
	MsgReadyForQuery   byte = 'Z'
	MsgRowDescription  byte = 'T'
	MsgDataRow         byte = 'D'
	MsgCommandComplete byte = 'C'
	MsgErrorResponse   byte = 'E'
	MsgParseComplete   byte = '1'
	MsgBindComplete    byte = '2'
	MsgCloseComplete   byte = '3'
	MsgNoData          byte = 'n'
)

// Frontend (client-to-server) message type tags.
const (
	MsgQuery       byte = 'Q'
	MsgParse       byte = 'P'
	MsgBind        byte = 'B'
	MsgDescribe    byte = 'D'
	MsgExecute     byte = 'E'
	MsgCloseMsg    byte = 'C'
	MsgSync        byte = 'S'
	MsgTerminate   byte = 'X'
)

// Transaction status byte values reported in ReadyForQuery.
const (
	TxStatusIdle   byte = 'I'
	TxStatusInTxn  byte = 'T'
	TxStatusFailed byte = 'E'
)

// AuthenticationOk is the authentication-type code for a successful,
// challenge-free login.
const AuthenticationOk uint32 = 0
