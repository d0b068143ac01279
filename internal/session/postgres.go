package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/sqltext"
	"github.com/dbgateway/dbgateway/internal/typemap"
	wirepg "github.com/dbgateway/dbgateway/internal/wire/pg"
)

// RunPostgres drives one Postgres client session end to end: SSL probe,
// startup, command loop (simple + extended query), teardown.
func RunPostgres(ctx context.Context, conn net.Conn, processID int32, cfg Config, log *slog.Logger) {
	defer conn.Close()

	raw, err := wirepg.ReadStartupMessage(conn)
	if err != nil {
		log.Debug("reading startup frame", "error", err)
		return
	}
	req, err := wirepg.ParseStartupFrame(raw)
	if err != nil {
		log.Debug("parsing startup frame", "error", err)
		return
	}
	if req.IsSSLRequest {
		if _, err := conn.Write([]byte{'N'}); err != nil {
			return
		}
		raw, err = wirepg.ReadStartupMessage(conn)
		if err != nil {
			return
		}
		req, err = wirepg.ParseStartupFrame(raw)
		if err != nil {
			return
		}
	}
	if req.IsCancelRequest {
		// Not supported (spec.md §4.1): close without responding.
		return
	}

	target := cfg.Target
	if db := req.Params["database"]; db != "" {
		target.Database = db
	}
	if user := req.Params["user"]; user != "" {
		target.Username = user
	}

	be, err := cfg.dial(ctx, target)
	if err != nil {
		writePGFatal(conn, "08006", fmt.Sprintf("backend connect failed: %v", err))
		return
	}
	defer be.Close()

	if err := wirepg.WriteAuthenticationOk(conn); err != nil {
		return
	}
	for _, ps := range wirepg.DefaultParameterStatuses {
		name, value := ps[0], ps[1]
		if name == "server_version" {
			value = serverVersionOrDefault(cfg.PostgresServerVersion, be.ServerVersion())
		}
		if err := wirepg.WriteParameterStatus(conn, name, value); err != nil {
			return
		}
	}
	if err := wirepg.WriteBackendKeyData(conn, processID, processID*31+7); err != nil {
		return
	}
	if err := wirepg.WriteReadyForQuery(conn, wirepg.TxStatusIdle); err != nil {
		return
	}

	s := &pgState{conn: conn, backend: be, log: log}
	s.commandLoop(ctx)
}

func serverVersionOrDefault(configured, backendReported string) string {
	if configured != "" {
		return configured
	}
	if backendReported != "" {
		return backendReported
	}
	return "13.0"
}

func writePGFatal(conn net.Conn, sqlState, message string) {
	wirepg.WriteErrorResponse(conn, wirepg.SimpleError("FATAL", sqlState, message))
}

type pgState struct {
	conn     net.Conn
	backend  backend.Session
	log      *slog.Logger
	txStatus byte
	// preparedStatements/portals track the extended-query skeleton's
	// state just enough to execute on 'E' rather than stub every reply
	// (spec.md §9 item 3 flags the stub-only skeleton as an open gap).
	preparedStatements map[string]string
	portals            map[string]portal
}

type portal struct {
	statementName string
}

func (s *pgState) commandLoop(ctx context.Context) {
	s.txStatus = wirepg.TxStatusIdle
	s.preparedStatements = make(map[string]string)
	s.portals = make(map[string]portal)

	for {
		msg, err := wirepg.ReadMessage(s.conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("command loop read error", "error", err)
			}
			return
		}

		switch msg.Type {
		case wirepg.MsgTerminate:
			return
		case wirepg.MsgQuery:
			if !s.handleSimpleQuery(ctx, msg.Payload) {
				return
			}
		case wirepg.MsgParse, wirepg.MsgBind, wirepg.MsgDescribe, wirepg.MsgExecute, wirepg.MsgCloseMsg, wirepg.MsgSync:
			if !s.handleExtended(ctx, msg.Type, msg.Payload) {
				return
			}
		default:
			s.writeError("ERROR", "0A000", fmt.Sprintf("unsupported message type %q", msg.Type))
			if err := wirepg.WriteReadyForQuery(s.conn, s.txStatus); err != nil {
				return
			}
		}
	}
}

func (s *pgState) handleSimpleQuery(ctx context.Context, payload []byte) bool {
	sql := strings.TrimRight(string(payload), "\x00")
	sql = rewriteStatement(sql)
	if !sqltext.Validate(sql) {
		s.log.Debug("empty or malformed statement", "sql", sql)
	}

	result, err := s.backend.Execute(ctx, sql)
	if err != nil {
		if !s.writeError("ERROR", "42000", fmt.Sprintf("SQL Error: %v", err)) {
			return false
		}
		return s.ready()
	}

	if result.Rows != nil {
		if !s.writeRows(result.Rows) {
			return false
		}
	} else {
		tag := commandTag(sql, result.Update)
		if err := wirepg.WriteCommandComplete(s.conn, tag); err != nil {
			return false
		}
	}
	return s.ready()
}

// rewriteStatement applies the two small rewrites spec.md §4.3 calls for.
func rewriteStatement(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if strings.EqualFold(trimmed, "SET CLIENT_ENCODING TO 'UNICODE'") {
		return "SET client_encoding TO 'UTF8'"
	}
	if strings.Contains(strings.ToLower(trimmed), "datlastsysoid") {
		return "SELECT DISTINCT 10000::oid as datlastsysoid FROM pg_database"
	}
	return sql
}

func commandTag(sql string, update *backend.UpdateCount) string {
	n := uint64(0)
	if update != nil {
		n = update.AffectedRows
	}
	switch sqltext.Parse(sql).Keyword {
	case "INSERT":
		return fmt.Sprintf("INSERT 0 %d", n)
	case "UPDATE":
		return fmt.Sprintf("UPDATE %d", n)
	case "DELETE":
		return fmt.Sprintf("DELETE %d", n)
	case "CREATE":
		return "CREATE TABLE"
	case "DROP":
		return "DROP TABLE"
	case "ALTER":
		return "ALTER TABLE"
	case "SET":
		return "SET"
	default:
		return fmt.Sprintf("SELECT %d", n)
	}
}

func (s *pgState) writeRows(rows backend.RowStream) bool {
	defer rows.Close()
	cols := rows.Columns()

	fields := make([]wirepg.FieldDescription, len(cols))
	for i, c := range cols {
		pc := typemap.ToPostgresColumn(c)
		fields[i] = wirepg.FieldDescription{Name: c.Name, TypeOID: pc.OID, TypeSize: pc.Size, TypeModifier: -1}
	}
	if err := wirepg.WriteRowDescription(s.conn, fields); err != nil {
		return false
	}

	n := 0
	for {
		row, err := rows.Next()
		if err != nil {
			if err == backend.ErrEOF {
				break
			}
			// Mid-stream backend failure (spec.md §4.2 "Sequence-id
			// discipline"): emit an ErrorResponse instead of a
			// terminating CommandComplete, so the client doesn't read
			// a genuine failure as a successful, merely short, result.
			return s.writeError("ERROR", "08006", fmt.Sprintf("row stream error: %v", err))
		}
		values := make([][]byte, len(row))
		for i, v := range row {
			if v == nil {
				continue
			}
			values[i] = []byte(*v)
		}
		if err := wirepg.WriteDataRow(s.conn, values); err != nil {
			return false
		}
		n++
	}
	return wirepg.WriteCommandComplete(s.conn, fmt.Sprintf("SELECT %d", n)) == nil
}

func (s *pgState) writeError(severity, sqlState, message string) bool {
	return wirepg.WriteErrorResponse(s.conn, wirepg.SimpleError(severity, sqlState, message)) == nil
}

func (s *pgState) ready() bool {
	return wirepg.WriteReadyForQuery(s.conn, s.txStatus) == nil
}

// handleExtended executes the Parse/Bind/Describe/Execute/Close/Sync
// skeleton. Parse stores the SQL text; Execute actually runs it against
// the backend rather than stubbing a success, which spec.md §9 item 3
// calls out as the production requirement beyond the minimum skeleton.
func (s *pgState) handleExtended(ctx context.Context, msgType byte, payload []byte) bool {
	switch msgType {
	case wirepg.MsgParse:
		p, err := wirepg.ParseParse(payload)
		if err != nil {
			return s.writeError("ERROR", "08P01", err.Error())
		}
		s.preparedStatements[p.StatementName] = p.Query
		return wirepg.WriteParseComplete(s.conn) == nil

	case wirepg.MsgBind:
		b, err := wirepg.ParseBind(payload)
		if err != nil {
			return s.writeError("ERROR", "08P01", err.Error())
		}
		s.portals[b.PortalName] = portal{statementName: b.StatementName}
		return wirepg.WriteBindComplete(s.conn) == nil

	case wirepg.MsgDescribe:
		d, err := wirepg.ParseDescribe(payload)
		if err != nil {
			return s.writeError("ERROR", "08P01", err.Error())
		}
		_ = d
		return wirepg.WriteNoData(s.conn) == nil

	case wirepg.MsgExecute:
		e, err := wirepg.ParseExecute(payload)
		if err != nil {
			return s.writeError("ERROR", "08P01", err.Error())
		}
		p, ok := s.portals[e.PortalName]
		if !ok {
			return wirepg.WriteCommandComplete(s.conn, "SELECT 0") == nil
		}
		sql := rewriteStatement(s.preparedStatements[p.statementName])
		result, err := s.backend.Execute(ctx, sql)
		if err != nil {
			return s.writeError("ERROR", "42000", fmt.Sprintf("SQL Error: %v", err))
		}
		if result.Rows != nil {
			return s.writeRows(result.Rows)
		}
		return wirepg.WriteCommandComplete(s.conn, commandTag(sql, result.Update)) == nil

	case wirepg.MsgCloseMsg:
		c, err := wirepg.ParseClose(payload)
		if err != nil {
			return s.writeError("ERROR", "08P01", err.Error())
		}
		if c.IsPortal {
			delete(s.portals, c.Name)
		} else {
			delete(s.preparedStatements, c.Name)
		}
		return wirepg.WriteCloseComplete(s.conn) == nil

	case wirepg.MsgSync:
		return s.ready()

	default:
		return true
	}
}
