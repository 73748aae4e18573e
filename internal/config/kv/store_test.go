package kv

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) handle(ch Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ch)
}

func (r *recorder) snapshot() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func openPair(t *testing.T) (*Store, *Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.db")

	a, err := Open(Options{Path: path, Writer: "ctx-a"})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	b, err := Open(Options{Path: path, Writer: "ctx-b"})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return a, b
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

func TestOpen_GeneratesWriter(t *testing.T) {
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "kv.db")})
	require.NoError(t, err)
	defer s.Close()

	assert.NotEmpty(t, s.Writer())
	assert.Equal(t, "kv.db", filepath.Base(s.Path()))
}

func TestSetGetListDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := openPair(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "b", json.RawMessage(`"two"`)))
	require.NoError(t, s.Set(ctx, "a", json.RawMessage(`1`)))

	value, ok, err := s.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"two"`, string(value))

	keys, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Deleting an absent key is a no-op.
	require.NoError(t, s.Delete(ctx, "a"))
}

func TestSet_RejectsInvalidJSON(t *testing.T) {
	s, _ := openPair(t)
	err := s.Set(context.Background(), "k", json.RawMessage(`{not json`))
	require.Error(t, err)
}

func TestSet_LocalChangeDeliveredSynchronously(t *testing.T) {
	ctx := context.Background()
	a, _ := openPair(t)

	rec := &recorder{}
	unsubscribe := a.Subscribe(rec.handle)

	require.NoError(t, a.Set(ctx, "x", json.RawMessage(`1`)))
	require.NoError(t, a.Set(ctx, "x", json.RawMessage(`2`)))

	changes := rec.snapshot()
	require.Len(t, changes, 2)
	assert.False(t, changes[0].Remote)
	assert.Nil(t, changes[0].Old)
	assert.JSONEq(t, `1`, string(changes[1].Old))
	assert.JSONEq(t, `2`, string(changes[1].New))

	unsubscribe()
	require.NoError(t, a.Set(ctx, "x", json.RawMessage(`3`)))
	assert.Len(t, rec.snapshot(), 2)
}

func TestSync_DeliversSiblingWritesAsRemote(t *testing.T) {
	ctx := context.Background()
	a, b := openPair(t)

	recA := &recorder{}
	recB := &recorder{}
	a.Subscribe(recA.handle)
	b.Subscribe(recB.handle)

	require.NoError(t, a.Set(ctx, "x", json.RawMessage(`1`)))
	require.NoError(t, b.Sync(ctx))

	changes := recB.snapshot()
	require.Len(t, changes, 1)
	assert.Equal(t, "x", changes[0].Key)
	assert.True(t, changes[0].Remote)
	assert.JSONEq(t, `1`, string(changes[0].New))

	// A's own write is not replayed on A's sync.
	require.NoError(t, a.Sync(ctx))
	assert.Len(t, recA.snapshot(), 1)

	// A second sync without new writes delivers nothing.
	require.NoError(t, b.Sync(ctx))
	assert.Len(t, recB.snapshot(), 1)
}

func TestSync_DeliversOldValueAndDeletes(t *testing.T) {
	ctx := context.Background()
	a, b := openPair(t)

	require.NoError(t, a.Set(ctx, "x", json.RawMessage(`"first"`)))
	require.NoError(t, b.Sync(ctx))

	rec := &recorder{}
	b.Subscribe(rec.handle)

	require.NoError(t, a.Set(ctx, "x", json.RawMessage(`"second"`)))
	require.NoError(t, a.Delete(ctx, "x"))
	require.NoError(t, b.Sync(ctx))

	// Both writes touched the same row, so only the latest state is observed.
	changes := rec.snapshot()
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Deleted)
	assert.JSONEq(t, `"first"`, string(changes[0].Old))
}

func TestOpen_PrimesExistingRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.db")

	a, err := Open(Options{Path: path})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Set(ctx, "x", json.RawMessage(`1`)))

	late, err := Open(Options{Path: path})
	require.NoError(t, err)
	defer late.Close()

	rec := &recorder{}
	late.Subscribe(rec.handle)
	require.NoError(t, late.Sync(ctx))
	assert.Empty(t, rec.snapshot())
}

func TestWatch_PicksUpSiblingWrites(t *testing.T) {
	a, b := openPair(t)

	rec := &recorder{}
	b.Subscribe(rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Watch(ctx, 10*time.Millisecond) }()

	require.NoError(t, a.Set(context.Background(), "theme", json.RawMessage(`"dark"`)))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	ctx := context.Background()

	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(ctx, "k", json.RawMessage(`1`)), ErrClosed)
	assert.ErrorIs(t, s.Sync(ctx), ErrClosed)
	assert.NoError(t, s.Close())
}
