package pg

import "io"

// WriteAuthenticationOk writes the AuthenticationOk message that ends the
// authentication exchange (spec.md §4.3: this gateway performs no real
// credential check against the client — the backend connection is where
// the real login happens).
func WriteAuthenticationOk(w io.Writer) error {
	return WriteMessage(w, MsgAuthentication, PutInt32(nil, int32(AuthenticationOk)))
}

// WriteParameterStatus writes one ParameterStatus ('S') message.
func WriteParameterStatus(w io.Writer, name, value string) error {
	payload := PutCString(nil, name)
	payload = PutCString(payload, value)
	return WriteMessage(w, MsgParameterStatus, payload)
}

// DefaultParameterStatuses lists the ParameterStatus pairs sent immediately
// after authentication succeeds, mirroring what a real backend announces
// on connect (spec.md §4.3).
var DefaultParameterStatuses = [][2]string{
	{"server_version", "14.9"},
	{"server_encoding", "UTF8"},
	{"client_encoding", "UTF8"},
	{"DateStyle", "ISO, MDY"},
	{"TimeZone", "UTC"},
	{"integer_datetimes", "on"},
}

// WriteBackendKeyData writes the BackendKeyData ('K') message carrying the
// process id and secret key a client would use for CancelRequest. This
// gateway doesn't support cancellation (spec.md §4.1) but still emits
// plausible values since real clients expect the message.
func WriteBackendKeyData(w io.Writer, processID, secretKey int32) error {
	payload := PutInt32(nil, processID)
	payload = PutInt32(payload, secretKey)
	return WriteMessage(w, MsgBackendKeyData, payload)
}

// WriteReadyForQuery writes the ReadyForQuery ('Z') message with the given
// transaction status byte.
func WriteReadyForQuery(w io.Writer, txStatus byte) error {
	return WriteMessage(w, MsgReadyForQuery, []byte{txStatus})
}

// FieldDescription describes one column of a RowDescription message.
type FieldDescription struct {
	Name         string
	TableOID     int32
	ColumnAttrNo int16
	TypeOID      int32
	TypeSize     int16
	TypeModifier int32
	FormatCode   int16 // 0 = text, 1 = binary
}

// WriteRowDescription writes the RowDescription ('T') message.
func WriteRowDescription(w io.Writer, fields []FieldDescription) error {
	payload := PutInt16(nil, int16(len(fields)))
	for _, f := range fields {
		payload = PutCString(payload, f.Name)
		payload = PutInt32(payload, f.TableOID)
		payload = PutInt16(payload, f.ColumnAttrNo)
		payload = PutInt32(payload, f.TypeOID)
		payload = PutInt16(payload, f.TypeSize)
		payload = PutInt32(payload, f.TypeModifier)
		payload = PutInt16(payload, f.FormatCode)
	}
	return WriteMessage(w, MsgRowDescription, payload)
}

// WriteDataRow writes one DataRow ('D') message. A nil entry in values
// encodes an SQL NULL (length -1, no bytes).
func WriteDataRow(w io.Writer, values [][]byte) error {
	payload := PutInt16(nil, int16(len(values)))
	for _, v := range values {
		if v == nil {
			payload = PutInt32(payload, -1)
			continue
		}
		payload = PutInt32(payload, int32(len(v)))
		payload = append(payload, v...)
	}
	return WriteMessage(w, MsgDataRow, payload)
}

// WriteCommandComplete writes the CommandComplete ('C') message, e.g. tag
// "SELECT 3" or "UPDATE 1".
func WriteCommandComplete(w io.Writer, tag string) error {
	return WriteMessage(w, MsgCommandComplete, PutCString(nil, tag))
}

// ErrorField carries one field of an ErrorResponse, keyed by the
// single-byte field codes defined by the protocol (e.g. 'S' severity,
// 'C' sqlstate code, 'M' message).
type ErrorField struct {
	Code  byte
	Value string
}

// WriteErrorResponse writes the ErrorResponse ('E') message.
func WriteErrorResponse(w io.Writer, fields []ErrorField) error {
	var payload []byte
	for _, f := range fields {
		payload = append(payload, f.Code)
		payload = PutCString(payload, f.Value)
	}
	payload = append(payload, 0)
	return WriteMessage(w, MsgErrorResponse, payload)
}

// SimpleError builds the common severity/sqlstate/message-only
// ErrorResponse shape used for most failures (spec.md §4.3).
func SimpleError(severity, sqlState, message string) []ErrorField {
	return []ErrorField{
		{Code: 'S', Value: severity},
		{Code: 'V', Value: severity},
		{Code: 'C', Value: sqlState},
		{Code: 'M', Value: message},
	}
}

// WriteParseComplete writes the ParseComplete ('1') message, no payload.
func WriteParseComplete(w io.Writer) error {
	return WriteMessage(w, MsgParseComplete, nil)
}

// WriteBindComplete writes the BindComplete ('2') message, no payload.
func WriteBindComplete(w io.Writer) error {
	return WriteMessage(w, MsgBindComplete, nil)
}

// WriteCloseComplete writes the CloseComplete ('3') message, no payload.
func WriteCloseComplete(w io.Writer) error {
	return WriteMessage(w, MsgCloseComplete, nil)
}

// WriteNoData writes the NoData ('n') message, sent in response to
// Describe for a statement with no result columns.
func WriteNoData(w io.Writer) error {
	return WriteMessage(w, MsgNoData, nil)
}
