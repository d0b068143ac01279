// Package gateway implements the listener/acceptor (spec.md §4.6): binds
// one TCP port, spawns one session task per accepted connection, and
// supports cooperative graceful shutdown.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dbgateway/dbgateway/internal/session"
)

// Listener binds a single TCP port and serves one protocol. The registry
// of live session tasks is just the WaitGroup: shutdown closes the
// listening socket (accept starts failing) then waits for in-flight
// sessions to end. Sessions are not signalled to stop; each one ends when
// its client disconnects or its connection fails (spec.md §5 "Shared
// state": no per-request state is shared between sessions).
type Listener struct {
	Protocol string // "mysql" or "postgresql"
	Addr     string
	Config   session.Config
	Log      *slog.Logger

	mu           sync.Mutex
	listener     net.Listener
	wg           sync.WaitGroup
	nextID       atomic.Uint32
	shuttingDown atomic.Bool
}

// ListenAndServe binds Addr and accepts connections until ctx is canceled
// or Shutdown is called. It blocks until the accept loop exits and, once
// the listener is shut down, until every live session has ended.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.Addr)
	if err != nil {
		return fmt.Errorf("gateway: listening on %s: %w", l.Addr, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.Log.Info("listening", "protocol", l.Protocol, "addr", l.Addr)

	go func() {
		<-ctx.Done()
		l.shuttingDown.Store(true)
		l.closeListener()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.shuttingDown.Load() {
				l.wg.Wait()
				return nil
			}
			return fmt.Errorf("gateway: accept: %w", err)
		}
		l.wg.Add(1)
		go l.serve(ctx, conn)
	}
}

// Shutdown stops accepting new connections and waits (bounded by ctx) for
// in-flight sessions to end. Existing sessions are NOT aborted or told to
// stop: a session keeps serving commands until its client disconnects, so
// Shutdown returns ctx.Err() while any client stays connected.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shuttingDown.Store(true)
	l.closeListener()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) closeListener() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		l.listener.Close()
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	connID := l.nextID.Add(1)
	log := l.Log.With("protocol", l.Protocol, "peer", conn.RemoteAddr().String())

	switch l.Protocol {
	case "mysql":
		session.RunMySQL(ctx, conn, connID, l.Config, log)
	case "postgresql":
		session.RunPostgres(ctx, conn, int32(connID), l.Config, log)
	default:
		l.Log.Error("unknown protocol", "protocol", l.Protocol)
		conn.Close()
	}
}
