// Package kv is the shared key-value persistence layer behind the settings
// store. Several handles (one per running context) open the same sqlite file;
// every write bumps a global revision so siblings can pick it up and receive
// it as a remote change.
package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	defaultBusyTimeout        = 5 * time.Second
	defaultConnectionLifetime = 0 // unlimited
)

// Options describes parameters for opening a store.
type Options struct {
	Path   string // sqlite file shared by all contexts
	Writer string // optional writer id, generated when empty
}

// Change is delivered to subscribers for every write they observe.
type Change struct {
	Key     string
	Old     json.RawMessage // nil when the key did not exist
	New     json.RawMessage // nil when the key was deleted
	Remote  bool            // written by another handle
	Deleted bool
}

// Handler receives changes.
type Handler func(Change)

// Store is one handle on the shared database.
type Store struct {
	db     *sql.DB
	path   string
	writer string

	mu           sync.Mutex
	known        map[string]json.RawMessage
	lastRevision int64
	handlers     map[int]Handler
	nextHandler  int

	syncMu sync.Mutex
}

// ErrClosed is returned by operations on a closed or nil store.
var ErrClosed = errors.New("kv: store closed")

// Open initialises the database at opts.Path and primes the handle with the
// current contents so existing rows are not reported as changes.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("kv: path is required")
	}
	if opts.Writer == "" {
		opts.Writer = uuid.NewString()
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(defaultConnectionLifetime)
	db.SetConnMaxIdleTime(defaultConnectionLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		path:     opts.Path,
		writer:   opts.Writer,
		known:    make(map[string]json.RawMessage),
		handlers: make(map[int]Handler),
	}
	if err := s.prime(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Dir returns the directory holding the database file.
func (s *Store) Dir() string {
	return filepath.Dir(s.path)
}

// Writer returns the id stamped on rows written through this handle.
func (s *Store) Writer() string {
	return s.writer
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		value TEXT,
		deleted INTEGER NOT NULL DEFAULT 0,
		revision INTEGER NOT NULL,
		writer TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_revision ON entries(revision)`,
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("kv: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: begin schema transaction: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("kv: apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv: commit schema transaction: %w", err)
	}
	return nil
}

func (s *Store) prime(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, deleted, revision FROM entries`)
	if err != nil {
		return fmt.Errorf("kv: load entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key      string
			value    sql.NullString
			deleted  int
			revision int64
		)
		if err := rows.Scan(&key, &value, &deleted, &revision); err != nil {
			return fmt.Errorf("kv: scan entry: %w", err)
		}
		if deleted == 0 && value.Valid {
			s.known[key] = json.RawMessage(value.String)
		}
		if revision > s.lastRevision {
			s.lastRevision = revision
		}
	}
	return rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("kv: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
