// Package storage opens the local SQLite cache, applies migrations and hands
// out repositories bound either to the database or to a transaction.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/declaro/internal/client/migrations"
	"github.com/dmitrijs2005/declaro/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/declaro/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/declaro/internal/dbx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// MemoryDSN is a private in-memory database, mostly for tests.
const MemoryDSN = ":memory:"

// Repos groups the repositories of one unit of work.
type Repos struct {
	Metadata metadata.Repository
	Outbox   outbox.Repository
}

func reposFor(db dbx.DBTX) Repos {
	return Repos{
		Metadata: metadata.NewSQLiteRepository(db),
		Outbox:   outbox.NewSQLiteRepository(db),
	}
}

type Store struct {
	db *sql.DB
	Repos
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the cache at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", dsn, err)
	}

	return &Store{db: db, Repos: reposFor(db)}, nil
}

// InTx runs fn with repositories bound to one transaction. Inside fn only the
// passed Repos may be used; the store's own repositories would block on the
// single connection.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, reposFor(tx))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
