package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stencil/internal/config"
)

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the run database in the experiments directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	path := filepath.Join(cfg.Paths.ExperimentsDir, "runs.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run database: %w", err)
	}
	store := &Store{db: db, path: path}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// configure applies connection pragmas and brings the schema current.
func (s *Store) configure() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	return s.initSchema(context.Background())
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Writes race only with other stencil processes holding the database,
// so a handful of short retries on SQLITE_BUSY is enough. busy_timeout
// covers contention within a single statement.
const maxBusyRetries = 5

func busyDelay(attempt int) time.Duration {
	delay := time.Duration(10<<attempt) * time.Millisecond
	if delay > 200*time.Millisecond {
		return 200 * time.Millisecond
	}
	return delay
}

// busy reports whether err carries the SQLITE_BUSY result code. The
// message fallback covers errors that lost the code through wrapping.
func busy(err error) bool {
	const sqliteBusy = 5
	var coded interface{ Code() int }
	switch {
	case err == nil:
		return false
	case errors.As(err, &coded):
		return coded.Code() == sqliteBusy
	default:
		msg := err.Error()
		return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
	}
}

func (s *Store) withRetry(ctx context.Context, op func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil || !busy(err) || attempt == maxBusyRetries-1 {
			return err
		}
		select {
		case <-time.After(busyDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// exec runs one write statement with busy retries.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// transact runs fn inside a transaction. The whole transaction is
// retried when SQLite reports the database busy, so fn must be safe to
// run again from scratch.
func (s *Store) transact(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}
