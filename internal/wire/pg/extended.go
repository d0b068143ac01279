package pg

import "fmt"

// ParseMessage is the parsed body of a frontend Parse ('P') message:
// prepare a statement, optionally named, with a SQL text and a list of
// parameter type OIDs the client chooses to pre-declare (may be empty,
// meaning "infer").
type ParseMessage struct {
	StatementName string
	Query         string
	ParamTypeOIDs []int32
}

// ParseParse decodes a Parse message payload.
func ParseParse(payload []byte) (ParseMessage, error) {
	var m ParseMessage
	pos := 0
	m.StatementName, pos = ReadCString(payload, pos)
	m.Query, pos = ReadCString(payload, pos)
	if pos+2 > len(payload) {
		return ParseMessage{}, fmt.Errorf("pg: truncated Parse message")
	}
	n := int(int16(payload[pos])<<8 | int16(payload[pos+1]))
	pos += 2
	for i := 0; i < n; i++ {
		if pos+4 > len(payload) {
			return ParseMessage{}, fmt.Errorf("pg: truncated Parse parameter OID list")
		}
		oid := int32(payload[pos])<<24 | int32(payload[pos+1])<<16 | int32(payload[pos+2])<<8 | int32(payload[pos+3])
		m.ParamTypeOIDs = append(m.ParamTypeOIDs, oid)
		pos += 4
	}
	return m, nil
}

// BindMessage is the parsed body of a frontend Bind ('B') message: binds a
// prepared statement to a portal with concrete parameter values.
type BindMessage struct {
	PortalName       string
	StatementName    string
	ParamFormatCodes []int16
	ParamValues      [][]byte // nil entry == SQL NULL
	ResultFormats    []int16
}

// ParseBind decodes a Bind message payload, including the parameter
// values. The session controller uses only the portal and statement
// names; it does not forward the parameter values to the backend.
func ParseBind(payload []byte) (BindMessage, error) {
	var m BindMessage
	pos := 0
	m.PortalName, pos = ReadCString(payload, pos)
	m.StatementName, pos = ReadCString(payload, pos)

	pos, err := readInt16Slice(payload, pos, &m.ParamFormatCodes)
	if err != nil {
		return BindMessage{}, err
	}

	if pos+2 > len(payload) {
		return BindMessage{}, fmt.Errorf("pg: truncated Bind parameter count")
	}
	paramCount := int(int16(payload[pos])<<8 | int16(payload[pos+1]))
	pos += 2
	for i := 0; i < paramCount; i++ {
		if pos+4 > len(payload) {
			return BindMessage{}, fmt.Errorf("pg: truncated Bind parameter length")
		}
		length := int32(payload[pos])<<24 | int32(payload[pos+1])<<16 | int32(payload[pos+2])<<8 | int32(payload[pos+3])
		pos += 4
		if length < 0 {
			m.ParamValues = append(m.ParamValues, nil)
			continue
		}
		if pos+int(length) > len(payload) {
			return BindMessage{}, fmt.Errorf("pg: truncated Bind parameter value")
		}
		m.ParamValues = append(m.ParamValues, payload[pos:pos+int(length)])
		pos += int(length)
	}

	if _, err := readInt16Slice(payload, pos, &m.ResultFormats); err != nil {
		return BindMessage{}, err
	}
	return m, nil
}

func readInt16Slice(payload []byte, pos int, out *[]int16) (int, error) {
	if pos+2 > len(payload) {
		return 0, fmt.Errorf("pg: truncated int16 count field")
	}
	n := int(int16(payload[pos])<<8 | int16(payload[pos+1]))
	pos += 2
	for i := 0; i < n; i++ {
		if pos+2 > len(payload) {
			return 0, fmt.Errorf("pg: truncated int16 list")
		}
		*out = append(*out, int16(payload[pos])<<8|int16(payload[pos+1]))
		pos += 2
	}
	return pos, nil
}

// DescribeTarget identifies what a Describe ('D') message refers to.
type DescribeTarget struct {
	IsPortal bool // 'P' => portal, 'S' => statement
	Name     string
}

// ParseDescribe decodes a Describe message payload.
func ParseDescribe(payload []byte) (DescribeTarget, error) {
	if len(payload) < 1 {
		return DescribeTarget{}, fmt.Errorf("pg: empty Describe message")
	}
	name, _ := ReadCString(payload, 1)
	return DescribeTarget{IsPortal: payload[0] == 'P', Name: name}, nil
}

// ExecuteMessage is the parsed body of a frontend Execute ('E') message.
type ExecuteMessage struct {
	PortalName string
	MaxRows    int32 // 0 means "no limit"
}

// ParseExecute decodes an Execute message payload.
func ParseExecute(payload []byte) (ExecuteMessage, error) {
	var m ExecuteMessage
	pos := 0
	m.PortalName, pos = ReadCString(payload, pos)
	if pos+4 > len(payload) {
		return ExecuteMessage{}, fmt.Errorf("pg: truncated Execute message")
	}
	m.MaxRows = int32(payload[pos])<<24 | int32(payload[pos+1])<<16 | int32(payload[pos+2])<<8 | int32(payload[pos+3])
	return m, nil
}

// CloseTarget identifies what a Close ('C') message refers to; same shape
// as Describe.
type CloseTarget = DescribeTarget

// ParseClose decodes a Close message payload.
func ParseClose(payload []byte) (CloseTarget, error) {
	return ParseDescribe(payload)
}
