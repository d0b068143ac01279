package session

import (
	"context"
	"fmt"

	"github.com/dbgateway/dbgateway/internal/backend"
)

// fakeSession is a minimal backend.Session double used across the session
// package's tests (spec.md §9 "Polymorphic ResultSet view" calls out this
// exact testability benefit).
type fakeSession struct {
	version string
	execute func(ctx context.Context, sql string) (backend.ExecResult, error)
	closed  bool
}

func (f *fakeSession) Execute(ctx context.Context, sql string) (backend.ExecResult, error) {
	if f.execute != nil {
		return f.execute(ctx, sql)
	}
	return backend.ExecResult{Update: &backend.UpdateCount{}}, nil
}

func (f *fakeSession) SetSchema(ctx context.Context, name string) error { return nil }
func (f *fakeSession) ServerVersion() string {
	if f.version == "" {
		return "fake-server"
	}
	return f.version
}
func (f *fakeSession) Close() error { f.closed = true; return nil }

// fakeRowStream implements backend.RowStream over a fixed in-memory table.
type fakeRowStream struct {
	cols []backend.ColumnDescriptor
	rows [][]*string
	pos  int
}

func (rs *fakeRowStream) Columns() []backend.ColumnDescriptor { return rs.cols }

func (rs *fakeRowStream) Next() ([]*string, error) {
	if rs.pos >= len(rs.rows) {
		return nil, backend.ErrEOF
	}
	row := rs.rows[rs.pos]
	rs.pos++
	return row, nil
}

func (rs *fakeRowStream) Close() error { return nil }

// erroringRowStream yields a fixed number of rows and then a genuine
// mid-stream failure instead of backend.ErrEOF, exercising the "on error
// mid-stream, emit an ERR/ErrorResponse and terminate the stream" path
// (spec.md §4.2 "Sequence-id discipline").
type erroringRowStream struct {
	cols    []backend.ColumnDescriptor
	rows    [][]*string
	pos     int
	failErr error
}

func (rs *erroringRowStream) Columns() []backend.ColumnDescriptor { return rs.cols }

func (rs *erroringRowStream) Next() ([]*string, error) {
	if rs.pos >= len(rs.rows) {
		return nil, rs.failErr
	}
	row := rs.rows[rs.pos]
	rs.pos++
	return row, nil
}

func (rs *erroringRowStream) Close() error { return nil }

func strPtr(s string) *string { return &s }

func fakeDialer(s *fakeSession) func(ctx context.Context, t backend.Target) (backend.Session, error) {
	return func(ctx context.Context, t backend.Target) (backend.Session, error) {
		return s, nil
	}
}

func failingDialer(msg string) func(ctx context.Context, t backend.Target) (backend.Session, error) {
	return func(ctx context.Context, t backend.Target) (backend.Session, error) {
		return nil, fmt.Errorf("%s", msg)
	}
}
