package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "block/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "block/b", []byte(`{"n":2}`)))
	require.NoError(t, s.Set(ctx, "block/a", []byte(`{"n":1}`)))
	require.NoError(t, s.Set(ctx, "other/x", []byte(`{}`)))

	v, err := s.Get(ctx, "block/a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(v))

	require.NoError(t, s.Set(ctx, "block/a", []byte(`{"n":3}`)))
	v, err = s.Get(ctx, "block/a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":3}`, string(v))

	keys, err := s.Keys(ctx, "block/")
	require.NoError(t, err)
	assert.Equal(t, []string{"block/a", "block/b"}, keys)

	require.NoError(t, s.Delete(ctx, "block/a"))
	require.NoError(t, s.Delete(ctx, "block/a"))
	_, err = s.Get(ctx, "block/a")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err = s.Keys(ctx, "nothing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte(`{"n":1}`)
	require.NoError(t, s.Set(context.Background(), "k", buf))
	buf[1] = 'X'

	v, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(v))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	testStore(t, s)
}

func TestFileStoreCreatesFileIfNotExist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	_, err := NewFileStore(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "block/lesson-1", []byte(`{"videoId":"lesson-1","endTime":1700000300000}`)))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	v, err := reopened.Get(ctx, "block/lesson-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"videoId":"lesson-1","endTime":1700000300000}`, string(v))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreRejectsInvalidJSON(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	assert.Error(t, s.Set(context.Background(), "k", []byte("not json")))
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0644))
	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Config{Backend: "file", Path: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, Config{Backend: "file"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: "redis"})
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("FOCUSWARDEN_TEST_DSN")
	if dsn == "" {
		t.Skip("FOCUSWARDEN_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, s.Delete(ctx, k))
	}
	testStore(t, s)
}
