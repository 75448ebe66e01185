package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "glossifier-terms/dev/abc.dat", "application/octet-stream",
		bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://glossifier-terms/dev/abc.dat", uri)

	obj, ok := store.Get("glossifier-terms/dev/abc.dat")
	require.True(t, ok)
	assert.Equal(t, "application/octet-stream", obj.ContentType)
	assert.Equal(t, payload, obj.Data)

	obj.Data[0] = 'C'
	again, _ := store.Get("glossifier-terms/dev/abc.dat")
	assert.Equal(t, "content", string(again.Data), "Get must return a copy")

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b.dat", "a.dat"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a.dat", "b.dat"}, store.Paths())

	_, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
