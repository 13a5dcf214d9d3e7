package blob_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/blob"
)

func stores(t *testing.T) map[string]blob.Store {
	t.Helper()
	fs, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return map[string]blob.Store{
		"fs":     fs,
		"memory": blob.NewMemory(),
		"s3":     blob.NewMockS3ForTests(),
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			info, err := store.Put(ctx, "sha256/ab/abcdef", strings.NewReader("haccp log"), blob.PutOptions{ContentType: "text/plain"})
			require.NoError(t, err)
			require.Equal(t, "sha256/ab/abcdef", info.Key)
			require.Equal(t, int64(9), info.Size)

			_, err = store.Put(ctx, "sha256/ab/abcdef", strings.NewReader("other"), blob.PutOptions{})
			require.ErrorIs(t, err, blob.ErrExists)

			head, err := store.Head(ctx, "sha256/ab/abcdef")
			require.NoError(t, err)
			require.Equal(t, "text/plain", head.ContentType)

			_, rc, err := store.Get(ctx, "sha256/ab/abcdef")
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			require.Equal(t, "haccp log", string(data))

			_, err = store.Head(ctx, "sha256/zz/missing")
			require.ErrorIs(t, err, blob.ErrNotFound)
			_, _, err = store.Get(ctx, "sha256/zz/missing")
			require.ErrorIs(t, err, blob.ErrNotFound)

			list, err := store.List(ctx, "sha256/")
			require.NoError(t, err)
			require.Len(t, list, 1)

			deleted, err := store.Delete(ctx, "sha256/ab/abcdef")
			require.NoError(t, err)
			require.True(t, deleted)
			deleted, err = store.Delete(ctx, "sha256/ab/abcdef")
			require.NoError(t, err)
			require.False(t, deleted)
		})
	}
}

func TestStore_Presign(t *testing.T) {
	ctx := context.Background()
	_, err := blob.NewMemory().PresignURL(ctx, "k", blob.SignedURLOptions{})
	require.ErrorIs(t, err, blob.ErrUnsupported)

	s3 := blob.NewMockS3ForTests()
	url, err := s3.PresignURL(ctx, "sha256/ab/abcdef", blob.SignedURLOptions{})
	require.NoError(t, err)
	require.Contains(t, url, "mock-bucket/sha256/ab/abcdef")
	require.Contains(t, url, "X-Amz-Signature")

	_, err = s3.PresignURL(ctx, "k", blob.SignedURLOptions{Method: "PUT"})
	require.ErrorIs(t, err, blob.ErrUnsupported)
}

func TestFilesystem_RejectsTraversal(t *testing.T) {
	fs, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"../escape", "/abs", "", "x.meta"} {
		_, err := fs.Put(context.Background(), key, strings.NewReader("x"), blob.PutOptions{})
		require.Error(t, err, key)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	store, err := blob.Open(ctx, blob.Config{Driver: blob.DriverMemory})
	require.NoError(t, err)
	require.Equal(t, blob.DriverMemory, store.Driver())

	store, err = blob.Open(ctx, blob.Config{FSRoot: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, blob.DriverFilesystem, store.Driver())

	_, err = blob.Open(ctx, blob.Config{Driver: blob.DriverS3})
	require.Error(t, err)

	_, err = blob.Open(ctx, blob.Config{Driver: "ftp"})
	require.Error(t, err)
}
