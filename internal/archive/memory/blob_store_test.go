package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutReturnsMemoryURI(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()

	uri, err := store.Put(context.Background(), "scans/2025/06/01/abc.json", "application/json", []byte(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	require.Equal(t, "memory://scans/2025/06/01/abc.json", uri)

	data, ok := store.Get("scans/2025/06/01/abc.json")
	require.True(t, ok)
	require.JSONEq(t, `{"url":"https://example.com"}`, string(data))
	require.Equal(t, 1, store.Len())
}

func TestPutCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("original")
	_, err := store.Put(context.Background(), "scans/a.json", "", payload)
	require.NoError(t, err)

	payload[0] = 'X'
	data, ok := store.Get("scans/a.json")
	require.True(t, ok)
	require.Equal(t, "original", string(data))
}

func TestGetUnknownPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, ok := store.Get("scans/missing.json")
	require.False(t, ok)
}
