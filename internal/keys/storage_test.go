package keys

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storages(t *testing.T) map[string]BlobStorage {
	t.Helper()

	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]BlobStorage{
		"file":   fs,
		"memory": NewMemoryStorage(),
		"redis":  NewRedisStorage(client, "test"),
	}
}

func TestBlobStorageContract(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := storage.Exists(ctx, "encryption/v1/abc")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = storage.Get(ctx, "encryption/v1/abc")
			assert.ErrorIs(t, err, ErrBlobNotFound)

			require.NoError(t, storage.Put(ctx, "encryption/v1/abc", []byte("secret")))

			ok, err = storage.Exists(ctx, "encryption/v1/abc")
			require.NoError(t, err)
			assert.True(t, ok)

			data, err := storage.Get(ctx, "encryption/v1/abc")
			require.NoError(t, err)
			assert.Equal(t, []byte("secret"), data)

			err = storage.Put(ctx, "encryption/v1/abc", []byte("other"))
			assert.ErrorIs(t, err, ErrBlobExists)

			data, err = storage.Get(ctx, "encryption/v1/abc")
			require.NoError(t, err)
			assert.Equal(t, []byte("secret"), data, "existing blob must not be overwritten")
		})
	}
}

func TestBlobStorageRejectsTraversal(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			for _, path := range []string{"", "/etc/passwd", "../secret", "a/../../b"} {
				err := storage.Put(context.Background(), path, []byte("x"))
				assert.ErrorIs(t, err, ErrInvalidPath, path)
			}
		})
	}
}
