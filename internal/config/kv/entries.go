package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Get returns the stored value for key. ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrClosed
	}

	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `
        SELECT value FROM entries WHERE key = ? AND deleted = 0
    `, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv: get %q: %w", key, err)
	}
	if !value.Valid {
		return nil, false, nil
	}
	return json.RawMessage(value.String), true, nil
}

// All returns every live key with its value.
func (s *Store) All(ctx context.Context) (map[string]json.RawMessage, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM entries WHERE deleted = 0 AND value IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("kv: load entries: %w", err)
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("kv: scan entry: %w", err)
		}
		result[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv: iterate entries: %w", err)
	}
	return result, nil
}

// List returns every live key in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM entries WHERE deleted = 0 ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("kv: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("kv: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv: iterate keys: %w", err)
	}
	return keys, nil
}

// Set upserts key. Subscribers of this handle are notified synchronously with
// Remote=false; sibling handles see the write on their next Sync.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if !json.Valid(value) {
		return fmt.Errorf("kv: set %q: value is not valid JSON", key)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO entries (key, value, deleted, revision, writer, updated_at)
            VALUES (?, ?, 0, (SELECT IFNULL(MAX(revision), 0) + 1 FROM entries), ?, CURRENT_TIMESTAMP)
            ON CONFLICT(key) DO UPDATE SET
                value = excluded.value,
                deleted = 0,
                revision = excluded.revision,
                writer = excluded.writer,
                updated_at = CURRENT_TIMESTAMP
        `, key, string(value), s.writer)
		if err != nil {
			return fmt.Errorf("kv: exec set %q: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.known[key]
	s.known[key] = append(json.RawMessage(nil), value...)
	s.mu.Unlock()

	s.deliver(Change{Key: key, Old: old, New: value})
	return nil
}

// Delete tombstones key so sibling handles observe the removal.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE entries
            SET value = NULL,
                deleted = 1,
                revision = (SELECT IFNULL(MAX(revision), 0) + 1 FROM entries),
                writer = ?,
                updated_at = CURRENT_TIMESTAMP
            WHERE key = ? AND deleted = 0
        `, s.writer, key)
		if err != nil {
			return fmt.Errorf("kv: exec delete %q: %w", key, err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil || affected == 0 {
		return err
	}

	s.mu.Lock()
	old := s.known[key]
	delete(s.known, key)
	s.mu.Unlock()

	s.deliver(Change{Key: key, Old: old, Deleted: true})
	return nil
}
