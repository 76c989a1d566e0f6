package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/panel-one/shared/logger"
)

func newStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), "http://localhost:8080/blobs/", logger.NewNop())
	require.NoError(t, err)
	return store
}

func TestDiskStore_PutGetDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	url, err := store.Put(ctx, "inputs/job-1/image_0.png", strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/blobs/inputs/job-1/image_0.png", url)

	_, err = os.Stat(filepath.Join(store.Root(), "inputs", "job-1", "image_0.png"))
	require.NoError(t, err)

	rc, err := store.Get(ctx, url)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, store.Delete(ctx, url))

	_, err = store.Get(ctx, url)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = os.Stat(filepath.Join(store.Root(), "inputs", "job-1"))
	assert.True(t, os.IsNotExist(err), "empty job directory should be removed")
}

func TestDiskStore_DeleteMissingIsNoop(t *testing.T) {
	store := newStore(t)

	err := store.Delete(context.Background(), store.URLFor("inputs/job-9/image_0.png"))
	assert.NoError(t, err)
}

func TestDiskStore_RejectsForeignAndTraversal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "https://storage.googleapis.com/bucket/inputs/a.png")
	assert.ErrorIs(t, err, ErrForeignURL)

	err = store.Delete(ctx, "http://elsewhere/blobs/inputs/a.png")
	assert.ErrorIs(t, err, ErrForeignURL)

	_, err = store.Put(ctx, "../escape.png", strings.NewReader("x"), "image/png")
	assert.Error(t, err)

	_, err = store.Get(ctx, "http://localhost:8080/blobs/../../etc/passwd")
	assert.Error(t, err)
}

func TestDiskStore_CanceledContext(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "inputs/job-1/image_0.png", strings.NewReader("x"), "image/png")
	assert.ErrorIs(t, err, context.Canceled)
}
