// Package postgres implements the catalog on a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/ipa_gateway/internal/catalog"
)

// DefaultTable is the catalog table created by the bundled migrations.
const DefaultTable = "apps"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Store implements catalog.Store backed by PostgreSQL.
type Store struct {
	db    *sqlx.DB
	query string
}

var _ catalog.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn, table string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := New(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New creates a Store over an existing handle. table defaults to DefaultTable.
func New(db *sqlx.DB, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid catalog table name %q", table)
	}
	return &Store{
		db:    db,
		query: fmt.Sprintf("SELECT slug FROM %s WHERE id = $1 LIMIT 1", table),
	}, nil
}

// DB exposes the underlying handle for migrations and shutdown.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Slug implements catalog.Store.
func (s *Store) Slug(ctx context.Context, id string) (string, error) {
	var slug sql.NullString
	if err := s.db.GetContext(ctx, &slug, s.query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", catalog.ErrNotFound
		}
		return "", fmt.Errorf("query catalog: %w", err)
	}
	if !slug.Valid {
		return "", catalog.ErrNotFound
	}
	return catalog.NormalizeSlug(slug.String)
}
