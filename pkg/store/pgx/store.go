// Package pgx implements the GraphStore interface over Postgres with
// pgvector. The schema it reads is created by the embedded migrations;
// ingestion populates it out of band.
package pgx

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	pgxdriver "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/murre-ai/murre/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// GraphDBStore is a Postgres-backed graph store. All reads are filtered by
// tenant id; the store never writes graph data.
type GraphDBStore struct {
	conn *pgxpool.Pool
}

// NewGraphDBStore creates a store over an existing pgx pool. The pool must
// have pgvector types registered on its connections.
func NewGraphDBStore(conn *pgxpool.Pool) *GraphDBStore {
	return &GraphDBStore{conn: conn}
}

// query issues a read and classifies its failure so callers can tell an
// unreachable store from a bad statement.
func (s *GraphDBStore) query(ctx context.Context, sql string, args ...any) (pgxdriver.Rows, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyErr(err)
	}
	return rows, nil
}

// classifyErr wraps connection-level failures in store.ErrUnavailable. A
// *pgconn.PgError means the server received and rejected the statement,
// and caller cancellation is not a store fault; everything else never
// reached the database.
func classifyErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// Migrate applies the embedded schema migrations against the database at
// databaseURL. The URL must use the pgx5 scheme understood by golang-migrate.
func Migrate(databaseURL string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
