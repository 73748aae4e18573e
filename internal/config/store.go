package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/ytget/media-dispatch/internal/config/kv"
)

// BootstrapMarkerKey is persisted once the first-run acknowledgment happened.
const BootstrapMarkerKey = "bootstrap_acknowledged"

// Backend is the shared persistence layer. *kv.Store implements it.
type Backend interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	All(ctx context.Context) (map[string]json.RawMessage, error)
	List(ctx context.Context) ([]string, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
	Subscribe(h kv.Handler) func()
}

// ChangeFunc is called with the new value after a key changed.
type ChangeFunc func(key string, value any)

// PersistenceError reports that the backend could not be reached.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("config: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError returns true when err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

type changeHandler struct {
	id int
	fn ChangeFunc
}

// Store holds the settings of one context and keeps them convergent with
// sibling contexts sharing the same backend. A value received from a sibling
// is applied locally and never written back.
type Store struct {
	backend  Backend
	defaults map[string]json.RawMessage

	mu        sync.RWMutex
	values    map[string]json.RawMessage
	unsaved   map[string]bool
	bootstrap bool
	handlers  map[string][]changeHandler
	nextID    int

	unsubscribe func()
}

// NewStore loads every persisted value from backend. When the backend is
// unreachable the store starts from defaults and keeps working in memory.
func NewStore(ctx context.Context, backend Backend, defaults map[string]any) (*Store, error) {
	encoded := make(map[string]json.RawMessage, len(defaults))
	for key, value := range defaults {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("config: encode default %q: %w", key, err)
		}
		encoded[key] = raw
	}

	s := &Store{
		backend:  backend,
		defaults: encoded,
		values:   make(map[string]json.RawMessage),
		unsaved:  make(map[string]bool),
		handlers: make(map[string][]changeHandler),
	}

	all, err := backend.All(ctx)
	if err != nil {
		log.Printf("[Config] %v; falling back to defaults", &PersistenceError{Op: "load", Err: err})
	} else {
		_, acknowledged := all[BootstrapMarkerKey]
		s.bootstrap = !acknowledged
		for key, raw := range all {
			if key == BootstrapMarkerKey {
				continue
			}
			s.values[key] = normalize(raw)
		}
	}

	s.unsubscribe = backend.Subscribe(func(ch kv.Change) {
		if ch.Remote {
			s.OnRemoteChange(ch.Key, ch.Old, ch.New)
		}
	})
	return s, nil
}

// Close detaches the store from backend notifications.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// InBootstrap reports whether the first-run acknowledgment is still pending.
func (s *Store) InBootstrap() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bootstrap
}

func normalize(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return raw
	}
	return b.Bytes()
}

// currentLocked returns the local value or the default. Caller holds mu.
func (s *Store) currentLocked(key string) json.RawMessage {
	if raw, ok := s.values[key]; ok {
		return raw
	}
	return s.defaults[key]
}

// Raw returns the encoded value of key, or nil when neither a value nor a
// default exists.
func (s *Store) Raw(key string) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked(key)
}

// Get returns the last known value of key, falling back to its default.
func (s *Store) Get(key string) any {
	return decodeAny(s.Raw(key))
}

// Decode unmarshals the value of key into dst.
func (s *Store) Decode(key string, dst any) error {
	raw := s.Raw(key)
	if raw == nil {
		return fmt.Errorf("config: no value for %q", key)
	}
	return json.Unmarshal(raw, dst)
}

// String returns key as a string, or "" when it holds another type.
func (s *Store) String(key string) string {
	var v string
	if err := s.Decode(key, &v); err != nil {
		return ""
	}
	return v
}

// Bool returns key as a bool, or false when it holds another type.
func (s *Store) Bool(key string) bool {
	var v bool
	if err := s.Decode(key, &v); err != nil {
		return false
	}
	return v
}

// Int returns key as an int, or 0 when it holds another type.
func (s *Store) Int(key string) int {
	var v float64
	if err := s.Decode(key, &v); err != nil {
		return 0
	}
	return int(v)
}

// Keys returns every key with a default or a persisted value.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.defaults)+len(s.values))
	keys := make([]string, 0, len(seen))
	for key := range s.defaults {
		seen[key] = true
		keys = append(keys, key)
	}
	for key := range s.values {
		if !seen[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Set writes key locally and persists it. Writing the current value is a
// no-op unless an earlier write of it failed to persist. Outside bootstrap
// the key's change handlers are notified once the value is persisted.
// A persistence failure is returned but the local value is kept.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if key == BootstrapMarkerKey {
		return fmt.Errorf("config: %q is managed by Acknowledge", key)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("config: encode %q: %w", key, err)
	}

	s.mu.Lock()
	if bytes.Equal(raw, s.currentLocked(key)) && !s.unsaved[key] {
		s.mu.Unlock()
		return nil
	}
	s.values[key] = raw
	bootstrap := s.bootstrap
	s.mu.Unlock()

	if err := s.backend.Set(ctx, key, raw); err != nil {
		s.mu.Lock()
		if bytes.Equal(s.values[key], raw) {
			s.unsaved[key] = true
		}
		s.mu.Unlock()
		perr := &PersistenceError{Op: "set", Key: key, Err: err}
		log.Printf("[Config] %v", perr)
		return perr
	}

	s.mu.Lock()
	delete(s.unsaved, key)
	s.mu.Unlock()

	if !bootstrap {
		s.notify(key, raw)
	}
	return nil
}

// OnRemoteChange applies a value persisted by a sibling context without
// writing it back. It is ignored during bootstrap, when the notification
// carries no actual change, or when the local value already matches.
// It reports whether the value was applied.
func (s *Store) OnRemoteChange(key string, oldRaw, newRaw json.RawMessage) bool {
	oldRaw = normalize(oldRaw)
	newRaw = normalize(newRaw)

	if key == BootstrapMarkerKey {
		if newRaw == nil {
			return false
		}
		return s.leaveBootstrap(context.Background())
	}

	s.mu.Lock()
	if s.bootstrap {
		s.mu.Unlock()
		return false
	}
	if bytes.Equal(oldRaw, newRaw) {
		s.mu.Unlock()
		return false
	}
	current, local := s.values[key]
	if (newRaw == nil && !local) || (newRaw != nil && bytes.Equal(current, newRaw)) {
		delete(s.unsaved, key)
		s.mu.Unlock()
		return false
	}
	if newRaw == nil {
		delete(s.values, key)
	} else {
		s.values[key] = newRaw
	}
	delete(s.unsaved, key)
	effective := s.currentLocked(key)
	s.mu.Unlock()

	s.notify(key, effective)
	return true
}

// Acknowledge ends bootstrap mode: the marker is persisted and every value is
// reloaded from the backend. It reports false when bootstrap already ended.
func (s *Store) Acknowledge(ctx context.Context) (bool, error) {
	if !s.InBootstrap() {
		return false, nil
	}

	if err := s.backend.Set(ctx, BootstrapMarkerKey, json.RawMessage(`true`)); err != nil {
		return false, &PersistenceError{Op: "acknowledge", Key: BootstrapMarkerKey, Err: err}
	}
	return s.leaveBootstrap(ctx), nil
}

func (s *Store) leaveBootstrap(ctx context.Context) bool {
	s.mu.Lock()
	if !s.bootstrap {
		s.mu.Unlock()
		return false
	}
	s.bootstrap = false
	s.mu.Unlock()

	log.Printf("[Config] Bootstrap acknowledged, reloading settings")
	if err := s.Reload(ctx); err != nil {
		log.Printf("[Config] Reload after bootstrap failed: %v", err)
	}
	return true
}

// Reload replaces local values with the backend contents and notifies
// handlers of keys whose effective value changed.
func (s *Store) Reload(ctx context.Context) error {
	all, err := s.backend.All(ctx)
	if err != nil {
		return &PersistenceError{Op: "reload", Err: err}
	}

	fresh := make(map[string]json.RawMessage, len(all))
	for key, raw := range all {
		if key == BootstrapMarkerKey {
			continue
		}
		fresh[key] = normalize(raw)
	}

	s.mu.Lock()
	changed := make(map[string]json.RawMessage)
	for key := range fresh {
		if !bytes.Equal(s.values[key], fresh[key]) {
			changed[key] = nil
		}
	}
	for key := range s.values {
		if _, ok := fresh[key]; !ok {
			changed[key] = nil
		}
	}
	s.values = fresh
	clear(s.unsaved)
	for key := range changed {
		changed[key] = s.currentLocked(key)
	}
	bootstrap := s.bootstrap
	s.mu.Unlock()

	if !bootstrap {
		for key, raw := range changed {
			s.notify(key, raw)
		}
	}
	return nil
}

// OnChange registers fn for key and returns a function that removes it.
func (s *Store) OnChange(key string, fn ChangeFunc) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[key] = append(s.handlers[key], changeHandler{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.handlers[key]
		for i, h := range list {
			if h.id == id {
				s.handlers[key] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(key string, raw json.RawMessage) {
	s.mu.RLock()
	handlers := append([]changeHandler(nil), s.handlers[key]...)
	s.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	value := decodeAny(raw)
	for _, h := range handlers {
		h.fn(key, value)
	}
}

func decodeAny(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
