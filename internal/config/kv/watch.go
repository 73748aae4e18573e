package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MinWatchInterval is the lower bound for the fallback polling interval.
const MinWatchInterval = 500 * time.Millisecond

// Subscribe registers h for every change observed by this handle and returns
// a function that removes it.
func (s *Store) Subscribe(h Handler) func() {
	s.mu.Lock()
	id := s.nextHandler
	s.nextHandler++
	s.handlers[id] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

func (s *Store) deliver(ch Change) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(ch)
	}
}

// Sync reads rows written since the last sync and delivers those written by
// other handles as remote changes. Rows written through this handle were
// already delivered by Set or Delete and are skipped.
func (s *Store) Sync(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	since := s.lastRevision
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
        SELECT key, value, deleted, revision, writer
        FROM entries
        WHERE revision > ?
        ORDER BY revision
    `, since)
	if err != nil {
		return fmt.Errorf("kv: query changes: %w", err)
	}

	var changes []Change
	for rows.Next() {
		var (
			key      string
			value    sql.NullString
			deleted  int
			revision int64
			writer   string
		)
		if err := rows.Scan(&key, &value, &deleted, &revision, &writer); err != nil {
			rows.Close()
			return fmt.Errorf("kv: scan change: %w", err)
		}

		s.mu.Lock()
		if revision > s.lastRevision {
			s.lastRevision = revision
		}
		if writer == s.writer {
			s.mu.Unlock()
			continue
		}
		old := s.known[key]
		ch := Change{Key: key, Old: old, Remote: true}
		if deleted == 1 || !value.Valid {
			delete(s.known, key)
			ch.Deleted = true
		} else {
			ch.New = json.RawMessage(value.String)
			s.known[key] = ch.New
		}
		s.mu.Unlock()

		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("kv: iterate changes: %w", err)
	}
	rows.Close()

	for _, ch := range changes {
		s.deliver(ch)
	}
	return nil
}

// Watch keeps the handle in sync until ctx is cancelled. Filesystem events on
// the database files trigger an immediate Sync; a ticker covers platforms and
// filesystems where events are not delivered. The interval is clamped to
// MinWatchInterval.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	if interval <= 0 {
		interval = time.Second
	}
	if interval < MinWatchInterval {
		interval = MinWatchInterval
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[KV] fsnotify unavailable, polling only: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(s.Dir()); err != nil {
			log.Printf("[KV] Failed to watch %s, polling only: %v", s.Dir(), err)
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	base := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[KV] Sync after file event failed: %v", err)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[KV] Watcher error: %v", err)

		case <-ticker.C:
			if err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[KV] Periodic sync failed: %v", err)
			}
		}
	}
}
