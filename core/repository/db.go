package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/phuslu/log"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SavepointName is the savepoint opened for the whole invocation
const SavepointName = "dry_run"

// ErrFinalized is returned when the savepoint was already released or rolled back
var ErrFinalized = errors.New("store already finalized")

// DB is the SQLite job store. Every statement runs on a single pinned connection inside the
// dry_run savepoint, so the schema DDL is durable but row changes are not until Finalize.
type DB struct {
	db        *sql.DB
	conn      *sql.Conn
	logger    *log.Logger
	finalized bool
}

// Open opens or creates the store file, applies the schema and opens the dry_run savepoint
func Open(ctx context.Context, path string, logger *log.Logger) (*DB, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Info().Str("path", path).Msg("Creating new database")
	}

	db, err := sql.Open("sqlite3", path+"?_mutex=no")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info().Msg("Creating dry run save point")
	if _, err := conn.ExecContext(ctx, "SAVEPOINT "+SavepointName); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create savepoint: %w", err)
	}

	return &DB{db: db, conn: conn, logger: logger}, nil
}

// Checkpoint makes the changes so far durable and opens a fresh savepoint. A non-dry run
// calls it before every side effect outside the store, so an abort never loses a row that
// a deleted message or a submitted job depends on.
func (d *DB) Checkpoint(ctx context.Context) error {
	if d.finalized {
		return ErrFinalized
	}

	if _, err := d.conn.ExecContext(ctx, "RELEASE "+SavepointName); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	if _, err := d.conn.ExecContext(ctx, "SAVEPOINT "+SavepointName); err != nil {
		d.finalized = true
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	d.logger.Debug().Msg("Released dry run save point and opened a new one")
	return nil
}

// Finalize releases the savepoint. With dryRun the whole transaction is rolled back instead,
// leaving the store file untouched.
func (d *DB) Finalize(ctx context.Context, dryRun bool) error {
	if d.finalized {
		return ErrFinalized
	}

	if dryRun {
		d.logger.Info().Msg("--dry-run set, rolling back database state")
		if _, err := d.conn.ExecContext(ctx, "ROLLBACK TO "+SavepointName); err != nil {
			return fmt.Errorf("failed to roll back savepoint: %w", err)
		}
		if _, err := d.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
			return fmt.Errorf("failed to roll back transaction: %w", err)
		}
	} else {
		d.logger.Info().Msg("--dry-run not set, releasing dry run save point")
		if _, err := d.conn.ExecContext(ctx, "RELEASE "+SavepointName); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
	}

	d.finalized = true
	return nil
}

// Close closes the connection. Changes made after Open are discarded unless Finalize released them.
func (d *DB) Close() error {
	connErr := d.conn.Close()
	if err := d.db.Close(); err != nil {
		return err
	}
	return connErr
}

// ExecContext runs a statement on the pinned connection
func (d *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the pinned connection
func (d *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the pinned connection
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.conn.QueryRowContext(ctx, query, args...)
}
