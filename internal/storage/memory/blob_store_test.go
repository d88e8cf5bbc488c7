package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "raw/remoteok/job/1.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://raw/remoteok/job/1.json", uri)

	payload[0] = 'C'
	stored, ok := store.Object("raw/remoteok/job/1.json")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	_, err = store.PutObject(context.Background(), " ", "", payload)
	require.EqualError(t, err, "path is required")
}
