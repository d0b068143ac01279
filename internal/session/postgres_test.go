package session

import (
	"context"
	"net"
	"testing"

	"github.com/dbgateway/dbgateway/internal/backend"
	wirepg "github.com/dbgateway/dbgateway/internal/wire/pg"
)

func writeStartupMessage(conn net.Conn, params map[string]string) error {
	payload := wirepg.PutInt32(nil, wirepg.ProtocolVersion3)
	for k, v := range params {
		payload = wirepg.PutCString(payload, k)
		payload = wirepg.PutCString(payload, v)
	}
	payload = append(payload, 0)
	frame := wirepg.PutInt32(nil, int32(4+len(payload)))
	frame = append(frame, payload...)
	_, err := conn.Write(frame)
	return err
}

func TestPostgresSSLRefusalAndStartup(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	cfg := Config{
		Target: backend.Target{Protocol: "postgresql", Database: "dmp"},
		Dial:   fakeDialer(&fakeSession{version: "14.9"}),
	}
	go RunPostgres(context.Background(), serverConn, 42, cfg, discardLogger())

	sslProbe := wirepg.PutInt32(nil, wirepg.SSLRequestCode)
	frame := wirepg.PutInt32(nil, int32(4+len(sslProbe)))
	frame = append(frame, sslProbe...)
	if _, err := clientConn.Write(frame); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 1)
	if _, err := clientConn.Read(reply); err != nil {
		t.Fatal(err)
	}
	if reply[0] != 'N' {
		t.Fatalf("expected SSL refusal byte 'N', got %q", reply[0])
	}

	if err := writeStartupMessage(clientConn, map[string]string{"user": "postgres", "database": "dmp"}); err != nil {
		t.Fatal(err)
	}

	authOK, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if authOK.Type != wirepg.MsgAuthentication {
		t.Fatalf("expected AuthenticationOk, got %q", authOK.Type)
	}

	// S4: exactly six ParameterStatus messages (server_version,
	// server_encoding, client_encoding, DateStyle, TimeZone,
	// integer_datetimes).
	const wantParamStatuses = 6
	var sawParamStatuses int
	for i := 0; i < wantParamStatuses; i++ {
		msg, err := wirepg.ReadMessage(clientConn)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Type != wirepg.MsgParameterStatus {
			t.Fatalf("expected ParameterStatus, got %q", msg.Type)
		}
		sawParamStatuses++
	}
	if sawParamStatuses != wantParamStatuses {
		t.Fatalf("got %d parameter statuses, want %d", sawParamStatuses, wantParamStatuses)
	}

	keyData, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if keyData.Type != wirepg.MsgBackendKeyData {
		t.Fatalf("expected BackendKeyData, got %q", keyData.Type)
	}

	ready, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if ready.Type != wirepg.MsgReadyForQuery || ready.Payload[0] != wirepg.TxStatusIdle {
		t.Fatalf("expected ReadyForQuery(I), got %q %v", ready.Type, ready.Payload)
	}
}

func TestPostgresSimpleSelectOneColumn(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fake := &fakeSession{execute: func(ctx context.Context, sql string) (backend.ExecResult, error) {
		return backend.ExecResult{Rows: &fakeRowStream{
			cols: []backend.ColumnDescriptor{{Name: "?column?", BackendType: backend.TypeInt}},
			rows: [][]*string{{strPtr("1")}},
		}}, nil
	}}
	cfg := Config{Target: backend.Target{Protocol: "postgresql"}, Dial: fakeDialer(fake)}
	go RunPostgres(context.Background(), serverConn, 1, cfg, discardLogger())

	if err := writeStartupMessage(clientConn, map[string]string{"user": "postgres"}); err != nil {
		t.Fatal(err)
	}
	drainStartupResponses(t, clientConn)

	if err := wirepg.WriteMessage(clientConn, wirepg.MsgQuery, wirepg.PutCString(nil, "SELECT 1")); err != nil {
		t.Fatal(err)
	}

	rd, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if rd.Type != wirepg.MsgRowDescription {
		t.Fatalf("expected RowDescription, got %q", rd.Type)
	}

	dr, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if dr.Type != wirepg.MsgDataRow {
		t.Fatalf("expected DataRow, got %q", dr.Type)
	}

	cc, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if cc.Type != wirepg.MsgCommandComplete {
		t.Fatalf("expected CommandComplete, got %q", cc.Type)
	}

	z, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if z.Type != wirepg.MsgReadyForQuery {
		t.Fatalf("expected ReadyForQuery, got %q", z.Type)
	}
}

func TestPostgresRowStreamMidStreamErrorEmitsErrorResponse(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fake := &fakeSession{execute: func(ctx context.Context, sql string) (backend.ExecResult, error) {
		return backend.ExecResult{Rows: &erroringRowStream{
			cols:    []backend.ColumnDescriptor{{Name: "?column?", BackendType: backend.TypeInt}},
			rows:    [][]*string{{strPtr("1")}},
			failErr: errBackendBoom,
		}}, nil
	}}
	cfg := Config{Target: backend.Target{Protocol: "postgresql"}, Dial: fakeDialer(fake)}
	go RunPostgres(context.Background(), serverConn, 1, cfg, discardLogger())

	if err := writeStartupMessage(clientConn, map[string]string{"user": "postgres"}); err != nil {
		t.Fatal(err)
	}
	drainStartupResponses(t, clientConn)

	if err := wirepg.WriteMessage(clientConn, wirepg.MsgQuery, wirepg.PutCString(nil, "SELECT 1")); err != nil {
		t.Fatal(err)
	}

	rd, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if rd.Type != wirepg.MsgRowDescription {
		t.Fatalf("expected RowDescription, got %q", rd.Type)
	}

	dr, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if dr.Type != wirepg.MsgDataRow {
		t.Fatalf("expected DataRow, got %q", dr.Type)
	}

	// The stream fails after its one row: the client must see an
	// ErrorResponse, not a CommandComplete.
	msg, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != wirepg.MsgErrorResponse {
		t.Fatalf("expected ErrorResponse on mid-stream backend failure, got %q", msg.Type)
	}
}

func TestPostgresRewriteClientEncoding(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	var gotSQL string
	fake := &fakeSession{execute: func(ctx context.Context, sql string) (backend.ExecResult, error) {
		gotSQL = sql
		return backend.ExecResult{Update: &backend.UpdateCount{}}, nil
	}}
	cfg := Config{Target: backend.Target{Protocol: "postgresql"}, Dial: fakeDialer(fake)}
	go RunPostgres(context.Background(), serverConn, 1, cfg, discardLogger())

	if err := writeStartupMessage(clientConn, map[string]string{"user": "postgres"}); err != nil {
		t.Fatal(err)
	}
	drainStartupResponses(t, clientConn)

	if err := wirepg.WriteMessage(clientConn, wirepg.MsgQuery, wirepg.PutCString(nil, "SET CLIENT_ENCODING TO 'UNICODE'")); err != nil {
		t.Fatal(err)
	}
	cc, err := wirepg.ReadMessage(clientConn)
	if err != nil {
		t.Fatal(err)
	}
	if cc.Type != wirepg.MsgCommandComplete {
		t.Fatalf("expected CommandComplete, got %q", cc.Type)
	}
	if _, err := wirepg.ReadMessage(clientConn); err != nil { // ReadyForQuery
		t.Fatal(err)
	}
	if gotSQL != "SET client_encoding TO 'UTF8'" {
		t.Fatalf("expected rewritten SQL, got %q", gotSQL)
	}
}

func drainStartupResponses(t *testing.T, conn net.Conn) {
	t.Helper()
	want := 1 + len(wirepg.DefaultParameterStatuses) + 1 + 1 // auth + params + keydata + ready
	for i := 0; i < want; i++ {
		if _, err := wirepg.ReadMessage(conn); err != nil {
			t.Fatal(err)
		}
	}
}
