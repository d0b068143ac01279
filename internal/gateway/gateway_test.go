package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/session"
	wiremysql "github.com/dbgateway/dbgateway/internal/wire/mysql"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListenerAcceptsAndEmitsHandshake(t *testing.T) {
	l := &Listener{
		Protocol: "mysql",
		Addr:     "127.0.0.1:0",
		Config: session.Config{
			MySQLServerVersion: "5.7.25",
			Dial: func(ctx context.Context, t backend.Target) (backend.Session, error) {
				return nil, context.DeadlineExceeded
			},
		},
		Log: discardLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- l.ListenAndServe(ctx) }()

	var addr net.Addr
	for i := 0; i < 100; i++ {
		l.mu.Lock()
		if l.listener != nil {
			addr = l.listener.Addr()
		}
		l.mu.Unlock()
		if addr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("listener never bound")
	}

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}

	pkt, err := wiremysql.ReadPacket(conn)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Payload[0] != 10 {
		t.Fatalf("expected protocol version 10 in handshake, got %d", pkt.Payload[0])
	}

	// Close without completing the handshake so the in-flight session
	// unblocks (it's parked on a read for the client's response) before
	// we ask the listener to stop.
	conn.Close()
	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("ListenAndServe returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not exit after context cancellation")
	}
}

func TestShutdownWaitsForInFlightSessions(t *testing.T) {
	started := make(chan struct{})
	l := &Listener{
		Protocol: "mysql",
		Addr:     "127.0.0.1:0",
		Config: session.Config{
			MySQLServerVersion: "5.7.25",
			Dial: func(ctx context.Context, t backend.Target) (backend.Session, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		Log: discardLogger(),
	}

	ctx := context.Background()
	go l.ListenAndServe(ctx)

	var addr net.Addr
	for i := 0; i < 100 && addr == nil; i++ {
		l.mu.Lock()
		if l.listener != nil {
			addr = l.listener.Addr()
		}
		l.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	if addr == nil {
		t.Fatal("listener never bound")
	}

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := wiremysql.ReadPacket(conn); err != nil {
		t.Fatal(err)
	}
	// The session dials the backend only after the handshake response.
	resp := wiremysql.NulString(make([]byte, 32), "root")
	resp = append(resp, 0)
	if err := wiremysql.WritePacket(conn, resp, 1); err != nil {
		t.Fatal(err)
	}

	<-started
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := l.Shutdown(shutdownCtx); err == nil {
		t.Fatal("expected Shutdown to time out while a session is still dialing")
	}
}
