package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonewatch/zonewatch/internal/storage"
)

func openStores(t *testing.T) map[string]storage.KV {
	t.Helper()

	sqlite, err := storage.OpenSQLite(context.Background(), storage.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "kv.sqlite3"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]storage.KV{
		"memory": storage.NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestKV_SetGetDelete(t *testing.T) {
	for name, kv := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := kv.Get(ctx, "authToken")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.SetMany(ctx, map[string]string{
				"authToken":    "access-1",
				"refreshToken": "refresh-1",
			}))

			v, ok, err := kv.Get(ctx, "authToken")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "access-1", v)

			require.NoError(t, storage.Set(ctx, kv, "authToken", "access-2"))
			v, _, err = kv.Get(ctx, "authToken")
			require.NoError(t, err)
			assert.Equal(t, "access-2", v)

			require.NoError(t, kv.Delete(ctx, "authToken", "refreshToken", "missing"))
			_, ok, err = kv.Get(ctx, "refreshToken")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSQLiteStore_SharedAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.sqlite3")

	writer, err := storage.OpenSQLite(ctx, storage.SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer writer.Close()

	reader, err := storage.OpenSQLite(ctx, storage.SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, storage.Set(ctx, writer, "user", `{"id":"u1"}`))

	v, ok, err := reader.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"u1"}`, v)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := storage.OpenSQLite(context.Background(), storage.SQLiteConfig{})
	assert.Error(t, err)
}

func TestMemoryStore_Closed(t *testing.T) {
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Close())

	_, _, err := kv.Get(context.Background(), "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, storage.Set(context.Background(), kv, "k", "v"), storage.ErrClosed)
}
