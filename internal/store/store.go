// Package store reads and updates the messages and contacts tables owned by
// the backend. The schema itself is managed there; this package only issues
// the queries the panel needs.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrContactNotFound is returned when no contact exists for a wa_id
var ErrContactNotFound = errors.New("contact not found")

// DB is the subset of pgxpool.Pool (and pgx.Conn) the store uses
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store gives access to messages and contacts
type Store struct {
	db DB
}

// New creates a store on top of a pool or connection
func New(db DB) *Store {
	return &Store{db: db}
}
