package backend

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	wirepg "github.com/dbgateway/dbgateway/internal/wire/pg"
)

type pgSession struct {
	conn          net.Conn
	serverVersion string
	txStatus      byte
}

func dialPostgres(ctx context.Context, t Target) (Session, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", t.Host, t.Port))
	if err != nil {
		return nil, fmt.Errorf("backend: dialing postgres target: %w", err)
	}

	s := &pgSession{conn: conn}
	if err := s.authenticate(t); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// authenticate runs the client side of the Postgres startup phase against
// the real backend: send StartupMessage, answer whichever authentication
// challenge the backend chooses (cleartext, MD5, or SCRAM-SHA-256), then
// drain ParameterStatus/BackendKeyData through ReadyForQuery. Generalized
// from the teacher connection pool's authenticatePG, rebuilt on
// internal/wire/pg's message framing.
func (s *pgSession) authenticate(t Target) error {
	startup := wirepg.PutInt32(nil, wirepg.ProtocolVersion3)
	startup = wirepg.PutCString(startup, "user")
	startup = wirepg.PutCString(startup, t.Username)
	if t.Database != "" {
		startup = wirepg.PutCString(startup, "database")
		startup = wirepg.PutCString(startup, t.Database)
	}
	startup = append(startup, 0)

	lenPrefixed := wirepg.PutInt32(nil, int32(4+len(startup)))
	if _, err := s.conn.Write(append(lenPrefixed, startup...)); err != nil {
		return fmt.Errorf("backend: sending startup message: %w", err)
	}

	for {
		msg, err := wirepg.ReadMessage(s.conn)
		if err != nil {
			return fmt.Errorf("backend: reading startup response: %w", err)
		}

		switch msg.Type {
		case wirepg.MsgAuthentication:
			done, err := s.handleAuth(t, msg.Payload)
			if err != nil {
				return err
			}
			if done {
				continue
			}
		case wirepg.MsgParameterStatus:
			name, next := wirepg.ReadCString(msg.Payload, 0)
			if name == "server_version" {
				value, _ := wirepg.ReadCString(msg.Payload, next)
				s.serverVersion = value
			}
		case wirepg.MsgBackendKeyData:
			// Not needed: this gateway never issues CancelRequest upstream.
		case wirepg.MsgReadyForQuery:
			if len(msg.Payload) >= 1 {
				s.txStatus = msg.Payload[0]
			}
			return nil
		case wirepg.MsgErrorResponse:
			return fmt.Errorf("backend: %s", pgErrorMessage(msg.Payload))
		}
	}
}

// handleAuth answers one Authentication sub-message. The bool result
// reports that some sub-types (Ok) end the exchange immediately while
// others (password challenges) expect a reply before the next message
// arrives; the startup loop reads the next message in either case.
func (s *pgSession) handleAuth(t Target, payload []byte) (bool, error) {
	if len(payload) < 4 {
		return false, fmt.Errorf("backend: authentication message too short")
	}
	authType := binary.BigEndian.Uint32(payload[:4])
	switch authType {
	case 0: // Ok
		return true, nil
	case 3: // Cleartext
		return false, s.sendPassword(t.Password)
	case 5: // MD5
		if len(payload) < 8 {
			return false, fmt.Errorf("backend: MD5 auth payload too short")
		}
		return false, s.sendPassword(computeMD5Password(t.Username, t.Password, payload[4:8]))
	case 10: // SASL (SCRAM-SHA-256)
		return false, s.scramSHA256(t.Username, t.Password, payload[4:])
	default:
		return false, fmt.Errorf("backend: unsupported postgres auth type %d", authType)
	}
}

func (s *pgSession) sendPassword(password string) error {
	return wirepg.WriteMessage(s.conn, 'p', wirepg.PutCString(nil, password))
}

func computeMD5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}

// scramSHA256 performs the SASL SCRAM-SHA-256 exchange (RFC 5802), the
// method the teacher's pool used golang.org/x/crypto/pbkdf2 for.
func (s *pgSession) scramSHA256(user, password string, saslPayload []byte) error {
	mechanisms := parseSASLMechanisms(saslPayload)
	if !containsMechanism(mechanisms, "SCRAM-SHA-256") {
		return fmt.Errorf("backend: server does not support SCRAM-SHA-256, offered: %v", mechanisms)
	}

	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return fmt.Errorf("backend: generating nonce: %w", err)
	}
	clientNonce := base64.StdEncoding.EncodeToString(nonceBytes)

	gs2Header := "n,,"
	clientFirstBare := fmt.Sprintf("n=%s,r=%s", saslEscapeUsername(user), clientNonce)

	initial := append([]byte("SCRAM-SHA-256"), 0)
	initial = append(initial, wirepg.PutInt32(nil, int32(len(gs2Header+clientFirstBare)))...)
	initial = append(initial, gs2Header+clientFirstBare...)
	if err := wirepg.WriteMessage(s.conn, 'p', initial); err != nil {
		return fmt.Errorf("backend: sending SASL initial response: %w", err)
	}

	serverFirst, err := s.readAuthContinuation(11)
	if err != nil {
		return fmt.Errorf("backend: reading server-first-message: %w", err)
	}

	serverNonce, salt, iterations, err := parseServerFirst(string(serverFirst))
	if err != nil {
		return fmt.Errorf("backend: parsing server-first-message: %w", err)
	}
	if !strings.HasPrefix(serverNonce, clientNonce) {
		return fmt.Errorf("backend: server nonce does not start with client nonce")
	}

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)
	authMessage := clientFirstBare + "," + string(serverFirst) + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)
	clientFinal := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)

	if err := wirepg.WriteMessage(s.conn, 'p', []byte(clientFinal)); err != nil {
		return fmt.Errorf("backend: sending SASL response: %w", err)
	}

	serverFinal, err := s.readAuthContinuation(12)
	if err != nil {
		return fmt.Errorf("backend: reading server-final-message: %w", err)
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	expected := "v=" + base64.StdEncoding.EncodeToString(hmacSHA256(serverKey, []byte(authMessage)))
	if string(serverFinal) != expected {
		return fmt.Errorf("backend: server signature mismatch")
	}
	return nil
}

func (s *pgSession) readAuthContinuation(expectedType uint32) ([]byte, error) {
	msg, err := wirepg.ReadMessage(s.conn)
	if err != nil {
		return nil, err
	}
	if msg.Type == wirepg.MsgErrorResponse {
		return nil, fmt.Errorf("%s", pgErrorMessage(msg.Payload))
	}
	if msg.Type != wirepg.MsgAuthentication || len(msg.Payload) < 4 {
		return nil, fmt.Errorf("unexpected message %q during SASL exchange", msg.Type)
	}
	if binary.BigEndian.Uint32(msg.Payload[:4]) != expectedType {
		return nil, fmt.Errorf("unexpected SASL auth subtype")
	}
	return msg.Payload[4:], nil
}

func parseSASLMechanisms(data []byte) []string {
	var mechs []string
	for len(data) > 0 {
		idx := 0
		for idx < len(data) && data[idx] != 0 {
			idx++
		}
		if idx > 0 {
			mechs = append(mechs, string(data[:idx]))
		}
		if idx >= len(data) {
			break
		}
		data = data[idx+1:]
	}
	return mechs
}

func containsMechanism(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			iterations, _ = strconv.Atoi(part[2:])
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

func saslEscapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}

func pgErrorMessage(payload []byte) string {
	pos := 0
	for pos < len(payload) && payload[pos] != 0 {
		code := payload[pos]
		value, next := wirepg.ReadCString(payload, pos+1)
		if code == 'M' {
			return value
		}
		pos = next
	}
	return "unknown backend error"
}

func (s *pgSession) ServerVersion() string {
	if s.serverVersion == "" {
		return "13.0"
	}
	return s.serverVersion
}

func (s *pgSession) SetSchema(ctx context.Context, name string) error {
	_, err := s.Execute(ctx, fmt.Sprintf("SET search_path TO %s", name))
	return err
}

func (s *pgSession) Close() error {
	wirepg.WriteMessage(s.conn, wirepg.MsgTerminate, nil)
	return s.conn.Close()
}

// Execute sends one simple-query message and reads through to
// CommandComplete/ReadyForQuery, same shape spec.md §4.3 describes for the
// gateway's own client-facing simple-query loop.
func (s *pgSession) Execute(ctx context.Context, sql string) (ExecResult, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(time.Time{})
	}

	if err := wirepg.WriteMessage(s.conn, wirepg.MsgQuery, wirepg.PutCString(nil, sql)); err != nil {
		return ExecResult{}, fmt.Errorf("backend: sending query: %w", err)
	}

	var cols []ColumnDescriptor
	var rows [][]*string
	var update *UpdateCount
	var queryErr error

	for {
		msg, err := wirepg.ReadMessage(s.conn)
		if err != nil {
			return ExecResult{}, fmt.Errorf("backend: reading query response: %w", err)
		}

		switch msg.Type {
		case wirepg.MsgRowDescription:
			cols = parseRowDescription(msg.Payload)
		case wirepg.MsgDataRow:
			rows = append(rows, parseDataRow(msg.Payload))
		case wirepg.MsgCommandComplete:
			tag, _ := wirepg.ReadCString(msg.Payload, 0)
			update = parseCommandTag(tag)
		case wirepg.MsgErrorResponse:
			queryErr = fmt.Errorf("%s", pgErrorMessage(msg.Payload))
		case wirepg.MsgReadyForQuery:
			if len(msg.Payload) >= 1 {
				s.txStatus = msg.Payload[0]
			}
			if queryErr != nil {
				return ExecResult{}, queryErr
			}
			if cols != nil {
				return ExecResult{Rows: &staticRowStream{cols: cols, rows: rows}}, nil
			}
			if update == nil {
				update = &UpdateCount{}
			}
			return ExecResult{Update: update}, nil
		}
	}
}

func parseRowDescription(payload []byte) []ColumnDescriptor {
	if len(payload) < 2 {
		return nil
	}
	n := int(int16(payload[0])<<8 | int16(payload[1]))
	pos := 2
	cols := make([]ColumnDescriptor, 0, n)
	for i := 0; i < n; i++ {
		name, next := wirepg.ReadCString(payload, pos)
		pos = next
		pos += 4 + 2 // tableOID(4) + column attno(2)
		if pos+4 > len(payload) {
			break
		}
		typeOID := int32(payload[pos])<<24 | int32(payload[pos+1])<<16 | int32(payload[pos+2])<<8 | int32(payload[pos+3])
		pos += 4                // typeOID
		pos += 2 + 4 + 2        // typeSize(2) + typmod(4) + formatCode(2)
		cols = append(cols, ColumnDescriptor{Name: name, BackendType: fromPostgresOID(typeOID), Nullable: true})
	}
	return cols
}

func parseDataRow(payload []byte) []*string {
	if len(payload) < 2 {
		return nil
	}
	n := int(int16(payload[0])<<8 | int16(payload[1]))
	pos := 2
	values := make([]*string, 0, n)
	for i := 0; i < n; i++ {
		if pos+4 > len(payload) {
			break
		}
		length := int32(payload[pos])<<24 | int32(payload[pos+1])<<16 | int32(payload[pos+2])<<8 | int32(payload[pos+3])
		pos += 4
		if length < 0 {
			values = append(values, nil)
			continue
		}
		v := string(payload[pos : pos+int(length)])
		values = append(values, &v)
		pos += int(length)
	}
	return values
}

func parseCommandTag(tag string) *UpdateCount {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return &UpdateCount{}
	}
	last := fields[len(fields)-1]
	n, err := strconv.ParseUint(last, 10, 64)
	if err != nil {
		return &UpdateCount{}
	}
	return &UpdateCount{AffectedRows: n}
}

func fromPostgresOID(oid int32) Type {
	switch oid {
	case 16:
		return TypeBool
	case 21:
		return TypeSmallInt
	case 23:
		return TypeInt
	case 20:
		return TypeBigInt
	case 700:
		return TypeFloat
	case 701:
		return TypeDouble
	case 1700:
		return TypeDecimal
	case 1042:
		return TypeChar
	case 1043:
		return TypeVarchar
	case 1082:
		return TypeDate
	case 1083:
		return TypeTime
	case 1114:
		return TypeTimestamp
	case 17:
		return TypeBytea
	default:
		return TypeText
	}
}

type staticRowStream struct {
	cols []ColumnDescriptor
	rows [][]*string
	pos  int
}

func (rs *staticRowStream) Columns() []ColumnDescriptor { return rs.cols }

func (rs *staticRowStream) Next() ([]*string, error) {
	if rs.pos >= len(rs.rows) {
		return nil, ErrEOF
	}
	row := rs.rows[rs.pos]
	rs.pos++
	return row, nil
}

func (rs *staticRowStream) Close() error { return nil }
