// Package store implements the persistent repositories on PostgreSQL:
// users, platform credentials, messages, contacts, and sync state.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("row not found")

// Store bundles the repositories over one sqlx handle.
type Store struct {
	db *sqlx.DB
}

// New creates a Store.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for components that need raw access (advisory locks).
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// notFound maps sql.ErrNoRows to ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// sqlxIn expands an IN (?) clause for a string slice.
func sqlxIn(query string, ids []string) (string, []any, error) {
	expanded, args, err := sqlx.In(query, ids)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand IN clause: %w", err)
	}
	return expanded, args, nil
}
