package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/sqltext"
	"github.com/dbgateway/dbgateway/internal/typemap"
	wiremysql "github.com/dbgateway/dbgateway/internal/wire/mysql"
)

// mysqlStaticVariables backs SHOW VARIABLES LIKE '...' (spec.md §4.2).
var mysqlStaticVariables = map[string]string{
	"lower_case_file_system":  "OFF",
	"lower_case_table_names":  "0",
	"sql_mode":                "ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,NO_ZERO_IN_DATE,NO_ZERO_DATE,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION",
}

// RunMySQL drives one MySQL client session end to end: handshake, command
// loop, teardown. It owns conn exclusively for the lifetime of the call.
func RunMySQL(ctx context.Context, conn net.Conn, connID uint32, cfg Config, log *slog.Logger) {
	defer conn.Close()

	hs, err := wiremysql.NewHandshake(cfg.MySQLServerVersion, connID)
	if err != nil {
		log.Error("generating handshake", "error", err)
		return
	}
	if err := wiremysql.WriteHandshakeV10(conn, hs); err != nil {
		log.Error("writing handshake", "error", err)
		return
	}

	pkt, err := wiremysql.ReadPacket(conn)
	if err != nil {
		log.Debug("reading handshake response", "error", err)
		return
	}
	resp, err := wiremysql.ParseHandshakeResponse(pkt.Payload)
	if err != nil {
		log.Debug("parsing handshake response", "error", err)
		return
	}
	if resp.IsSSLProbe {
		wiremysql.WriteErr(conn, pkt.Seq+1, 1045, "28000", "SSL not supported")
		return
	}

	target := cfg.Target
	if resp.Database != "" {
		target.Database = resp.Database
	}
	be, err := cfg.dial(ctx, target)
	if err != nil {
		wiremysql.WriteErr(conn, pkt.Seq+1, 1001, "HY000", fmt.Sprintf("backend connect failed: %v", err))
		return
	}
	defer be.Close()

	if err := wiremysql.WriteOK(conn, pkt.Seq+1, 0, 0, wiremysql.StatusAutocommit, 0); err != nil {
		return
	}

	s := &mysqlState{conn: conn, backend: be, schema: target.Database, log: log}
	s.commandLoop(ctx)
}

type mysqlState struct {
	conn    net.Conn
	backend backend.Session
	schema  string
	log     *slog.Logger
}

func (s *mysqlState) commandLoop(ctx context.Context) {
	for {
		pkt, err := wiremysql.ReadPacket(s.conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("command loop read error", "error", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		opcode := pkt.Payload[0]
		if opcode == wiremysql.ComQuit {
			return
		}

		if !s.dispatch(ctx, opcode, pkt) {
			return
		}
	}
}

// dispatch handles one command. It returns false when the session must
// end (framing failure, unrecoverable write error); a handled SQL error
// returns true so the loop keeps going (spec.md §4.5 "Error isolation").
func (s *mysqlState) dispatch(ctx context.Context, opcode byte, pkt wiremysql.Packet) bool {
	seq := pkt.Seq + 1
	switch opcode {
	case wiremysql.ComInitDB:
		name := strings.TrimRight(string(pkt.Payload[1:]), "\x00")
		if err := s.backend.SetSchema(ctx, name); err != nil {
			return s.writeErr(seq, 1001, "HY000", fmt.Sprintf("SQL Error: %v", err))
		}
		s.schema = name
		return s.writeOK(seq)

	case wiremysql.ComQuery:
		return s.handleQuery(ctx, string(pkt.Payload[1:]), seq)

	case wiremysql.ComFieldList,
		wiremysql.ComCreateDB, wiremysql.ComDropDB,
		wiremysql.ComRefresh, wiremysql.ComStatistics,
		wiremysql.ComProcessInfo, wiremysql.ComConnect, wiremysql.ComProcessKill, wiremysql.ComDebug,
		wiremysql.ComPing, wiremysql.ComChangeUser:
		// Stub responses (spec.md §4.2 command table); COM_STATISTICS
		// is flagged in §9 as a known behavioral gap versus a real
		// server, which returns a human-readable string packet instead.
		return s.writeOK(seq)

	default:
		// Permissive per spec.md §4.2's default row and §9 open question 1:
		// real servers respond ERR(1047), this gateway follows the source.
		return s.writeOK(seq)
	}
}

func (s *mysqlState) handleQuery(ctx context.Context, sql string, seq byte) bool {
	statements := sqltext.Split(sql)
	if len(statements) == 0 {
		return s.writeOK(seq)
	}

	for _, stmt := range statements {
		var ok bool
		seq, ok = s.execOne(ctx, stmt, seq)
		if !ok {
			return false
		}
	}
	return true
}

// execOne runs a single statement and writes its full response, returning
// the sequence id the next response series should start at.
func (s *mysqlState) execOne(ctx context.Context, stmt string, seq byte) (byte, bool) {
	if !sqltext.Validate(stmt) {
		s.log.Debug("empty or malformed statement", "sql", stmt)
	}
	upper := strings.ToUpper(strings.TrimSpace(stmt))

	switch {
	case upper == "SELECT DATABASE()":
		return s.writeSingleRow(seq, "DATABASE()", s.schema)

	case strings.HasPrefix(upper, "SHOW DATABASES"):
		return s.showDatabases(ctx, seq)

	case strings.HasPrefix(upper, "SHOW TABLES"):
		return s.showTables(ctx, stmt, seq)

	case strings.HasPrefix(upper, "SHOW VARIABLES LIKE"):
		return s.showVariables(stmt, seq)

	default:
		return s.forward(ctx, stmt, seq)
	}
}

func (s *mysqlState) forward(ctx context.Context, stmt string, seq byte) (byte, bool) {
	result, err := s.backend.Execute(ctx, stmt)
	if err != nil {
		return seq + 1, s.writeErr(seq, 1001, "HY000", fmt.Sprintf("SQL Error: %v", err))
	}
	if result.Update != nil {
		return seq + 1, s.writeOKAt(seq, result.Update.AffectedRows, result.Update.LastInsertID)
	}
	return s.writeRowStream(seq, result.Rows)
}

func (s *mysqlState) showDatabases(ctx context.Context, seq byte) (byte, bool) {
	result, err := s.backend.Execute(ctx, "SHOW DATABASES")
	if err == nil && result.Rows != nil {
		return s.writeRowStream(seq, result.Rows)
	}
	fallback := []string{"information_schema", "mysql", "performance_schema", "sys", s.schema}
	return s.writeColumnOfStrings(seq, "Database", fallback)
}

func (s *mysqlState) showTables(ctx context.Context, stmt string, seq byte) (byte, bool) {
	schema := s.schema
	if idx := strings.Index(strings.ToUpper(stmt), "FROM"); idx >= 0 {
		if name := strings.TrimSpace(stmt[idx+4:]); name != "" {
			schema = name
		}
	}
	result, err := s.backend.Execute(ctx, stmt)
	if err == nil && result.Rows != nil {
		return s.writeRowStream(seq, result.Rows)
	}
	header := "Tables_in_" + schema
	return s.writeColumnOfStrings(seq, header, nil)
}

var likePattern = regexp.MustCompile(`(?i)LIKE\s+'([^']*)'`)

func (s *mysqlState) showVariables(stmt string, seq byte) (byte, bool) {
	match := likePattern.FindStringSubmatch(stmt)
	pattern := ""
	if len(match) == 2 {
		pattern = match[1]
	}
	re := likeToRegexp(pattern)

	var names []string
	for k := range mysqlStaticVariables {
		names = append(names, k)
	}
	var matched []string
	for _, n := range names {
		if re.MatchString(n) {
			matched = append(matched, n)
		}
	}

	next := seq
	if err := wiremysql.WriteColumnCount(s.conn, next, 2); err != nil {
		return next, false
	}
	next++
	for _, name := range []string{"Variable_name", "Value"} {
		if err := wiremysql.WriteColumnDef(s.conn, next, wiremysql.ColumnDef{Name: name, Type: 0x0f, Length: 255}); err != nil {
			return next, false
		}
		next++
	}
	if err := wiremysql.WriteEOF(s.conn, next, 0, wiremysql.StatusAutocommit); err != nil {
		return next, false
	}
	next++
	for _, name := range matched {
		val := mysqlStaticVariables[name]
		if err := wiremysql.WriteRow(s.conn, next, []*string{&name, &val}); err != nil {
			return next, false
		}
		next++
	}
	if err := wiremysql.WriteEOF(s.conn, next, 0, wiremysql.StatusAutocommit); err != nil {
		return next, false
	}
	return next + 1, true
}

func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return regexp.MustCompile("$^") // matches nothing
	}
	return re
}

func (s *mysqlState) writeSingleRow(seq byte, colName, value string) (byte, bool) {
	next := seq
	if err := wiremysql.WriteColumnCount(s.conn, next, 1); err != nil {
		return next, false
	}
	next++
	if err := wiremysql.WriteColumnDef(s.conn, next, wiremysql.ColumnDef{Name: colName, Type: 0x0f, Length: 255}); err != nil {
		return next, false
	}
	next++
	if err := wiremysql.WriteEOF(s.conn, next, 0, wiremysql.StatusAutocommit); err != nil {
		return next, false
	}
	next++
	if err := wiremysql.WriteRow(s.conn, next, []*string{&value}); err != nil {
		return next, false
	}
	next++
	if err := wiremysql.WriteEOF(s.conn, next, 0, wiremysql.StatusAutocommit); err != nil {
		return next, false
	}
	return next + 1, true
}

func (s *mysqlState) writeColumnOfStrings(seq byte, colName string, values []string) (byte, bool) {
	next := seq
	if err := wiremysql.WriteColumnCount(s.conn, next, 1); err != nil {
		return next, false
	}
	next++
	if err := wiremysql.WriteColumnDef(s.conn, next, wiremysql.ColumnDef{Name: colName, Type: 0x0f, Length: 255}); err != nil {
		return next, false
	}
	next++
	if err := wiremysql.WriteEOF(s.conn, next, 0, wiremysql.StatusAutocommit); err != nil {
		return next, false
	}
	next++
	for _, v := range values {
		v := v
		if err := wiremysql.WriteRow(s.conn, next, []*string{&v}); err != nil {
			return next, false
		}
		next++
	}
	if err := wiremysql.WriteEOF(s.conn, next, 0, wiremysql.StatusAutocommit); err != nil {
		return next, false
	}
	return next + 1, true
}

func (s *mysqlState) writeRowStream(seq byte, rows backend.RowStream) (byte, bool) {
	defer rows.Close()
	cols := rows.Columns()

	next := seq
	if err := wiremysql.WriteColumnCount(s.conn, next, len(cols)); err != nil {
		return next, false
	}
	next++
	for _, c := range cols {
		mc := typemap.ToMySQLColumn(c)
		def := wiremysql.ColumnDef{Name: c.Name, Type: mc.Type, Flags: mc.Flags, Length: mc.DisplaySize, Decimals: mc.Decimals, Charset: 0x21}
		if err := wiremysql.WriteColumnDef(s.conn, next, def); err != nil {
			return next, false
		}
		next++
	}
	if err := wiremysql.WriteEOF(s.conn, next, 0, wiremysql.StatusAutocommit); err != nil {
		return next, false
	}
	next++

	for {
		row, err := rows.Next()
		if err != nil {
			if err == backend.ErrEOF {
				break
			}
			// Mid-stream backend failure (spec.md §4.2 "Sequence-id
			// discipline"): emit an ERR at the next id instead of a
			// terminating EOF, so the client doesn't read a genuine
			// failure as a successful, merely short, result set.
			return next + 1, s.writeErr(next, 1105, "HY000", fmt.Sprintf("row stream error: %v", err))
		}
		if err := wiremysql.WriteRow(s.conn, next, row); err != nil {
			return next, false
		}
		next++
	}
	if err := wiremysql.WriteEOF(s.conn, next, 0, wiremysql.StatusAutocommit); err != nil {
		return next, false
	}
	return next + 1, true
}

func (s *mysqlState) writeOK(seq byte) bool {
	return wiremysql.WriteOK(s.conn, seq, 0, 0, wiremysql.StatusAutocommit, 0) == nil
}

func (s *mysqlState) writeOKAt(seq byte, affected, lastInsert uint64) bool {
	return wiremysql.WriteOK(s.conn, seq, affected, lastInsert, wiremysql.StatusAutocommit, 0) == nil
}

func (s *mysqlState) writeErr(seq byte, code uint16, sqlState, message string) bool {
	return wiremysql.WriteErr(s.conn, seq, code, sqlState, message) == nil
}
