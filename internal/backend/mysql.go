package backend

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net"
	"strings"
	"time"

	wiremysql "github.com/dbgateway/dbgateway/internal/wire/mysql"
)

type mysqlSession struct {
	conn          net.Conn
	serverVersion string
	seq           byte
}

func dialMySQL(ctx context.Context, t Target) (Session, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", t.Host, t.Port))
	if err != nil {
		return nil, fmt.Errorf("backend: dialing mysql target: %w", err)
	}

	s := &mysqlSession{conn: conn}
	if err := s.authenticate(t); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// authenticate runs the client side of the MySQL connection phase against
// the real backend: read its Handshake v10, answer with a
// HandshakeResponse41 computed for mysql_native_password, and consume the
// final OK/ERR/AuthSwitchRequest. Generalized from the teacher connection
// pool's authenticateMySQL, rebuilt on top of internal/wire/mysql's framing
// instead of hand-rolled byte offsets.
func (s *mysqlSession) authenticate(t Target) error {
	pkt, err := wiremysql.ReadPacket(s.conn)
	if err != nil {
		return fmt.Errorf("backend: reading mysql handshake: %w", err)
	}
	if len(pkt.Payload) < 1 || pkt.Payload[0] == 0xff {
		return fmt.Errorf("backend: mysql server rejected connection")
	}

	version, authData, pluginName, err := parseServerHandshake(pkt.Payload)
	if err != nil {
		return fmt.Errorf("backend: parsing mysql handshake: %w", err)
	}
	s.serverVersion = version

	var authResp []byte
	switch pluginName {
	case "mysql_native_password", "":
		authResp = mysqlNativePasswordHash([]byte(t.Password), authData)
	default:
		authResp = []byte{}
	}

	resp := buildHandshakeResponse(t.Username, t.Database, authResp)
	if err := wiremysql.WritePacket(s.conn, resp, pkt.Seq+1); err != nil {
		return fmt.Errorf("backend: sending handshake response: %w", err)
	}

	result, err := wiremysql.ReadPacket(s.conn)
	if err != nil {
		return fmt.Errorf("backend: reading auth result: %w", err)
	}
	if len(result.Payload) < 1 {
		return fmt.Errorf("backend: empty auth result")
	}

	switch result.Payload[0] {
	case 0x00:
		s.seq = result.Seq + 1
		return nil
	case 0xfe:
		return s.handleAuthSwitch(t, result)
	case 0xff:
		return fmt.Errorf("backend: mysql auth failed: %s", mysqlErrMessage(result.Payload))
	default:
		return fmt.Errorf("backend: unexpected mysql auth response byte 0x%02x", result.Payload[0])
	}
}

func (s *mysqlSession) handleAuthSwitch(t Target, pkt wiremysql.Packet) error {
	payload := pkt.Payload
	if len(payload) < 2 {
		return fmt.Errorf("backend: malformed AuthSwitchRequest")
	}
	name, next := wiremysql.ReadNulString(payload, 1)
	switchData := payload[next:]
	if len(switchData) > 0 && switchData[len(switchData)-1] == 0 {
		switchData = switchData[:len(switchData)-1]
	}

	var resp []byte
	switch name {
	case "mysql_native_password":
		resp = mysqlNativePasswordHash([]byte(t.Password), switchData)
	default:
		return fmt.Errorf("backend: unsupported auth plugin switch: %s", name)
	}
	if err := wiremysql.WritePacket(s.conn, resp, pkt.Seq+1); err != nil {
		return fmt.Errorf("backend: sending auth switch response: %w", err)
	}

	final, err := wiremysql.ReadPacket(s.conn)
	if err != nil {
		return fmt.Errorf("backend: reading auth switch result: %w", err)
	}
	if len(final.Payload) < 1 || final.Payload[0] != 0x00 {
		return fmt.Errorf("backend: mysql auth failed after plugin switch")
	}
	s.seq = final.Seq + 1
	return nil
}

func (s *mysqlSession) ServerVersion() string {
	if s.serverVersion == "" {
		return wiremysql.DefaultServerVersion
	}
	return s.serverVersion
}

func (s *mysqlSession) SetSchema(ctx context.Context, name string) error {
	_, err := s.Execute(ctx, "USE "+name)
	return err
}

func (s *mysqlSession) Close() error {
	// COM_QUIT, best-effort.
	payload := []byte{wiremysql.ComQuit}
	wiremysql.WritePacket(s.conn, payload, 0)
	return s.conn.Close()
}

// Execute sends one COM_QUERY and reads either an OK or a full ResultSet
// (column count -> column defs -> EOF -> rows -> EOF), same shape the
// session controller emits to its own client (spec.md §4.2).
func (s *mysqlSession) Execute(ctx context.Context, sql string) (ExecResult, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(time.Time{})
	}

	payload := append([]byte{wiremysql.ComQuery}, []byte(sql)...)
	if err := wiremysql.WritePacket(s.conn, payload, 0); err != nil {
		return ExecResult{}, fmt.Errorf("backend: sending query: %w", err)
	}

	first, err := wiremysql.ReadPacket(s.conn)
	if err != nil {
		return ExecResult{}, fmt.Errorf("backend: reading query response: %w", err)
	}

	switch {
	case wiremysql.IsOKPacket(first.Payload):
		affected, lastInsert, _, _ := parseOKPayload(first.Payload)
		return ExecResult{Update: &UpdateCount{AffectedRows: affected, LastInsertID: lastInsert}}, nil
	case wiremysql.IsErrPacket(first.Payload):
		return ExecResult{}, fmt.Errorf("backend: %s", mysqlErrMessage(first.Payload))
	}

	colCount, _, err := wiremysql.LenEncInt(first.Payload, 0)
	if err != nil {
		return ExecResult{}, fmt.Errorf("backend: parsing column count: %w", err)
	}

	cols := make([]ColumnDescriptor, 0, colCount)
	for i := uint64(0); i < colCount; i++ {
		pkt, err := wiremysql.ReadPacket(s.conn)
		if err != nil {
			return ExecResult{}, fmt.Errorf("backend: reading column def: %w", err)
		}
		cols = append(cols, parseColumnDef(pkt.Payload))
	}

	if _, err := wiremysql.ReadPacket(s.conn); err != nil { // EOF after column defs
		return ExecResult{}, fmt.Errorf("backend: reading column-def EOF: %w", err)
	}

	return ExecResult{Rows: &mysqlRowStream{conn: s.conn, cols: cols}}, nil
}

type mysqlRowStream struct {
	cols []ColumnDescriptor
	conn net.Conn
	done bool
}

func (rs *mysqlRowStream) Columns() []ColumnDescriptor { return rs.cols }

func (rs *mysqlRowStream) Next() ([]*string, error) {
	if rs.done {
		return nil, ErrEOF
	}
	pkt, err := wiremysql.ReadPacket(rs.conn)
	if err != nil {
		return nil, err
	}
	if wiremysql.IsEOFPacket(pkt.Payload) {
		rs.done = true
		return nil, ErrEOF
	}
	values := make([]*string, 0, len(rs.cols))
	pos := 0
	for range rs.cols {
		if pos < len(pkt.Payload) && pkt.Payload[pos] == 0xfb {
			values = append(values, nil)
			pos++
			continue
		}
		v, next, err := wiremysql.LenEncInt(pkt.Payload, pos)
		if err != nil {
			return nil, err
		}
		str := string(pkt.Payload[next : next+int(v)])
		values = append(values, &str)
		pos = next + int(v)
	}
	return values, nil
}

func (rs *mysqlRowStream) Close() error { return nil }

func parseServerHandshake(pkt []byte) (version string, authData []byte, pluginName string, err error) {
	if len(pkt) < 1 {
		return "", nil, "", fmt.Errorf("empty handshake")
	}
	pos := 1
	version, pos = wiremysql.ReadNulString(pkt, pos)
	if pos+4 > len(pkt) {
		return "", nil, "", fmt.Errorf("handshake too short")
	}
	pos += 4
	if pos+8 > len(pkt) {
		return "", nil, "", fmt.Errorf("handshake too short for auth data 1")
	}
	authData = append(authData, pkt[pos:pos+8]...)
	pos += 8 + 1 // filler

	if pos+2 > len(pkt) {
		return "", nil, "", fmt.Errorf("handshake too short for capabilities")
	}
	capLow := uint32(pkt[pos]) | uint32(pkt[pos+1])<<8
	pos += 2 + 3 // charset + status

	if pos+2 > len(pkt) {
		return "", nil, "", fmt.Errorf("handshake too short for capabilities high")
	}
	capHigh := (uint32(pkt[pos]) | uint32(pkt[pos+1])<<8) << 16
	caps := capLow | capHigh
	pos += 2

	var authLen int
	if pos < len(pkt) {
		authLen = int(pkt[pos])
		pos++
	}
	pos += 10

	part2Len := authLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if pos+part2Len > len(pkt) {
		part2Len = len(pkt) - pos
	}
	if part2Len > 0 {
		part2 := pkt[pos : pos+part2Len]
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
		pos += part2Len
	}

	if caps&wiremysql.ClientPluginAuth != 0 && pos < len(pkt) {
		pluginName, _ = wiremysql.ReadNulString(pkt, pos)
	}
	return version, authData, pluginName, nil
}

func buildHandshakeResponse(username, database string, authResp []byte) []byte {
	caps := wiremysql.ClientLongPassword | wiremysql.ClientProtocol41 |
		wiremysql.ClientSecureConnection | wiremysql.ClientPluginAuth
	if database != "" {
		caps |= wiremysql.ClientConnectWithDB
	}

	var buf []byte
	buf = append(buf, byte(caps), byte(caps>>8), byte(caps>>16), byte(caps>>24))
	buf = append(buf, 0xff, 0xff, 0xff, 0x00) // max packet size
	buf = append(buf, wiremysql.DefaultCharset)
	buf = append(buf, make([]byte, 23)...)
	buf = append(buf, username...)
	buf = append(buf, 0)
	buf = append(buf, byte(len(authResp)))
	buf = append(buf, authResp...)
	if database != "" {
		buf = append(buf, database...)
		buf = append(buf, 0)
	}
	buf = append(buf, "mysql_native_password"...)
	buf = append(buf, 0)
	return buf
}

// mysqlNativePasswordHash computes SHA1(password) XOR
// SHA1(authData+SHA1(SHA1(password))), the mysql_native_password scramble.
func mysqlNativePasswordHash(password, authData []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha1.Sum(password)
	h2 := sha1.Sum(h1[:])
	h3 := sha1.New()
	h3.Write(authData)
	h3.Write(h2[:])
	h3Sum := h3.Sum(nil)

	result := make([]byte, len(h1))
	for i := range h1 {
		result[i] = h1[i] ^ h3Sum[i]
	}
	return result
}

func parseOKPayload(payload []byte) (affected, lastInsert uint64, status, warnings uint16) {
	pos := 1
	affected, pos, _ = wiremysql.LenEncInt(payload, pos)
	lastInsert, pos, _ = wiremysql.LenEncInt(payload, pos)
	if pos+4 <= len(payload) {
		status = uint16(payload[pos]) | uint16(payload[pos+1])<<8
		warnings = uint16(payload[pos+2]) | uint16(payload[pos+3])<<8
	}
	return affected, lastInsert, status, warnings
}

func parseColumnDef(payload []byte) ColumnDescriptor {
	pos := 0
	_, pos = readLenEncString(payload, pos) // catalog
	_, pos = readLenEncString(payload, pos) // schema
	_, pos = readLenEncString(payload, pos) // table
	_, pos = readLenEncString(payload, pos) // org_table
	name, pos := readLenEncString(payload, pos)
	_, pos = readLenEncString(payload, pos) // org_name
	_, pos, _ = wiremysql.LenEncInt(payload, pos) // filler length
	pos += 2                                      // charset
	var length uint32
	if pos+4 <= len(payload) {
		length = uint32(payload[pos]) | uint32(payload[pos+1])<<8 | uint32(payload[pos+2])<<16 | uint32(payload[pos+3])<<24
		pos += 4
	}
	var typeByte byte
	if pos < len(payload) {
		typeByte = payload[pos]
		pos++
	}
	var flags uint16
	if pos+2 <= len(payload) {
		flags = uint16(payload[pos]) | uint16(payload[pos+1])<<8
	}
	return ColumnDescriptor{
		Name:        name,
		BackendType: fromMySQLColumnType(typeByte),
		DisplaySize: int(length),
		Nullable:    flags&0x0001 == 0,
		Signed:      flags&0x0020 == 0,
	}
}

func fromMySQLColumnType(t byte) Type {
	switch t {
	case 0x01:
		return TypeTinyInt
	case 0x02:
		return TypeSmallInt
	case 0x03, 0x09:
		return TypeInt
	case 0x08:
		return TypeBigInt
	case 0x04:
		return TypeFloat
	case 0x05:
		return TypeDouble
	case 0x00, 0xf6:
		return TypeDecimal
	case 0x0a:
		return TypeDate
	case 0x0b:
		return TypeTime
	case 0x0c, 0x07:
		return TypeTimestamp
	case 0xfc, 0xfb, 0xfa, 0xf9:
		return TypeBlob
	default:
		return TypeVarchar
	}
}

func readLenEncString(payload []byte, pos int) (string, int) {
	n, next, err := wiremysql.LenEncInt(payload, pos)
	if err != nil {
		return "", pos
	}
	end := next + int(n)
	if end > len(payload) {
		end = len(payload)
	}
	return string(payload[next:end]), end
}

func mysqlErrMessage(payload []byte) string {
	if len(payload) < 9 {
		return "unknown mysql error"
	}
	return strings.TrimSpace(string(payload[9:]))
}

// ErrEOF is the sentinel RowStream.Next returns once a result set is
// exhausted. Any other error from Next is a genuine mid-stream failure
// (spec.md §4.2 "Sequence-id discipline": "on error mid-stream, emit an
// ERR at the next id and terminate the stream") and must not be treated
// as a clean finish by callers.
var ErrEOF = fmt.Errorf("backend: row stream exhausted")
