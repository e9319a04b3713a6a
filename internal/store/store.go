// File path: internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/assetlens/unitylog/internal/common"
)

// Store wraps a pooled sqlx.DB connection to one session database. Open and
// Close are idempotent: a closed store lazily reconnects on the next
// operation, and an operation that fails because the handle was closed
// concurrently is transparently retried exactly once against a fresh
// handle.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  Config
	db   *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at path. The schema
// is migrated on first connect.
func Open(path string, cfg Config) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session database path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session database path: %w", err)
	}
	cfg.applyDefaults()
	s := &Store{path: abs, cfg: cfg}
	if _, err := s.handle(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close releases the underlying database resources. Safe to call
// repeatedly; a later operation reopens the handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

// handle returns the live connection, opening one if necessary.
func (s *Store) handle(ctx context.Context) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	busy := int(s.cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", s.path, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.BusyTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping session database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return s.db, nil
}

// reopen drops the current handle so the next call to handle reconnects.
func (s *Store) reopen() {
	s.mu.Lock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	s.mu.Unlock()
}

// do runs fn against the live handle, reopening and retrying once if the
// handle reports closed mid-operation.
func (s *Store) do(ctx context.Context, fn func(db *sqlx.DB) error) error {
	if s == nil {
		return ErrStoreUnavailable
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	err = fn(db)
	if err == nil || !isClosed(err) {
		return err
	}
	common.Logger().Warn("store: handle closed mid-operation, reopening", "path", s.path)
	s.reopen()
	db, herr := s.handle(ctx)
	if herr != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, herr)
	}
	return fn(db)
}

// Select runs a query into dest with the closed-handle retry applied.
func (s *Store) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return s.do(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, dest, query, args...)
	})
}

// Get runs a single-row query into dest with the closed-handle retry
// applied. A missing row surfaces as ErrNotFound.
func (s *Store) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := s.do(ctx, func(db *sqlx.DB) error {
		return db.GetContext(ctx, dest, query, args...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Exec runs a statement with the closed-handle retry applied.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) error {
	return s.do(ctx, func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
}

// Tx runs fn inside a transaction with the closed-handle retry applied to
// the transaction as a whole.
func (s *Store) Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.do(ctx, func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	// WAL cannot be enabled from inside a transaction.
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
