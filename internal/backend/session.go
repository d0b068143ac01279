// Package backend implements the backend collaborator described in
// spec.md §6: a session factory that dials a single configured target
// database and exposes a generic execute(sql) -> {RowStream|UpdateCount}
// surface to the session controller. Two concrete dialers exist, one per
// wire protocol (internal/wire/mysql, internal/wire/pg), generalized from
// the connection-phase logic the teacher's connection pool used to reach a
// tenant backend.
package backend

import (
	"context"
	"fmt"
)

// Type identifies a column's backend type at a level of abstraction the
// type mapper can translate into either protocol's wire representation
// (spec.md §3 "ResultSet view", §4.4).
type Type int

const (
	TypeUnknown Type = iota
	TypeBit
	TypeTinyInt
	TypeSmallInt
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDouble
	TypeDecimal
	TypeDate
	TypeTime
	TypeTimestamp
	TypeChar
	TypeVarchar
	TypeText
	TypeBlob
	TypeBool
	TypeBytea
)

// ColumnDescriptor is one entry of a ResultSet view's column list.
type ColumnDescriptor struct {
	Name          string
	BackendType   Type
	DisplaySize   int
	Nullable      bool
	Signed        bool
	AutoIncrement bool
	Precision     int
	Scale         int
}

// RowStream is a lazy iterator over a result set's rows. Each cell is
// either nil (SQL NULL) or its UTF-8 text representation (spec.md §3/§4.4:
// all values cross this boundary in text format).
type RowStream interface {
	Columns() []ColumnDescriptor
	Next() ([]*string, error) // returns ErrEOF when exhausted; any other error is a mid-stream failure
	Close() error
}

// UpdateCount is the result of a statement that produced no rows.
type UpdateCount struct {
	AffectedRows uint64
	LastInsertID uint64
}

// ExecResult is exactly one of Rows or Update, never both.
type ExecResult struct {
	Rows   RowStream
	Update *UpdateCount
}

// Session is a single backend connection bound to one client session.
type Session interface {
	Execute(ctx context.Context, sql string) (ExecResult, error)
	SetSchema(ctx context.Context, name string) error
	ServerVersion() string
	Close() error
}

// Target names a single backend database to connect to (spec.md §6
// configuration surface: target.host/port/username/password/database).
type Target struct {
	Protocol string // "mysql" or "postgresql" — mirrors the enabled proxy-db-type
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Dial opens one backend session per Target.Protocol. There is no
// connection pool in the core (spec.md §5 "Resource ceilings": one
// backend session per client session).
func Dial(ctx context.Context, t Target) (Session, error) {
	switch t.Protocol {
	case "mysql":
		return dialMySQL(ctx, t)
	case "postgresql":
		return dialPostgres(ctx, t)
	default:
		return nil, fmt.Errorf("backend: unknown protocol %q", t.Protocol)
	}
}
