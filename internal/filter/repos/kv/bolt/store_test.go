package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-filter/internal/filter/repos/kv"
)

func newStore(t *testing.T) kv.Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Get(ctx, "settings/disabled_domains")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, "settings/disabled_domains", []byte(`["a.com"]`)))
	require.NoError(t, s.Set(ctx, "plain", []byte("v")))

	v, err := s.Get(ctx, "settings/disabled_domains")
	require.NoError(t, err)
	assert.Equal(t, `["a.com"]`, string(v))
	v, err = s.Get(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	require.NoError(t, s.Remove(ctx, "settings/disabled_domains"))
	require.NoError(t, s.Remove(ctx, "settings/never_set"))
	_, err = s.Get(ctx, "settings/disabled_domains")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestStore_Batched(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SetMany(ctx, map[string][]byte{
		"tracking/records": []byte("r"),
		"tracking/blocked": []byte("b"),
		"settings/x":       []byte("x"),
	}))
	got, err := s.GetMany(ctx, []string{"tracking/records", "tracking/blocked", "tracking/missing", "nobucket/k"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"tracking/records": []byte("r"), "tracking/blocked": []byte("b")}, got)

	require.NoError(t, s.RemoveMany(ctx, []string{"tracking/records", "tracking/blocked"}))
	got, err = s.GetMany(ctx, []string{"tracking/records", "settings/x"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"settings/x": []byte("x")}, got)
}

func TestStore_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	err := s.SetMany(ctx, map[string][]byte{"ok/k": []byte("1"), "": []byte("2"), "ns/": []byte("3")})
	assert.ErrorIs(t, err, kv.ErrInvalidKey)
	_, err = s.Get(ctx, "ok/k")
	assert.ErrorIs(t, err, kv.ErrNotFound, "nothing is written when a key is invalid")
}

func TestStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a/b", []byte("c")))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "c", string(v))
}
