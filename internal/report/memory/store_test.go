package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/report"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(cfg Config) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	return New(cfg, clock, zap.NewNop()), clock
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(Config{})
	ctx := context.Background()

	payload := map[string]any{"violations": []string{"color-contrast"}}
	id, err := store.Put(ctx, payload, "https://example.com")
	require.NoError(t, err)
	require.Len(t, id, 16)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, payload, got.Data)
	require.Equal(t, "https://example.com", got.SourceURL)
}

func TestGetUnknownID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(Config{})
	_, err := store.Get(context.Background(), "deadbeefdeadbeef")
	require.True(t, errors.Is(err, report.ErrNotFound))
}

func TestGetExpiredID(t *testing.T) {
	t.Parallel()

	store, clock := newTestStore(Config{MaxAge: time.Hour})
	ctx := context.Background()
	id, err := store.Put(ctx, "payload", "")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = store.Get(ctx, id)
	require.True(t, errors.Is(err, report.ErrNotFound))
}

func TestSweepAgeAndCapacity(t *testing.T) {
	t.Parallel()

	store, clock := newTestStore(Config{MaxAge: time.Hour, MaxEntries: 3})
	ctx := context.Background()

	old, err := store.Put(ctx, "old", "")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	var newest string
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		newest, err = store.Put(ctx, fmt.Sprintf("entry-%d", i), "")
		require.NoError(t, err)
	}

	store.sweep()

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = store.Get(ctx, old)
	require.True(t, errors.Is(err, report.ErrNotFound))

	// The most recent insertion survives capacity eviction.
	_, err = store.Get(ctx, newest)
	require.NoError(t, err)
}

func TestIDsAreUnique(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(Config{})
	ctx := context.Background()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := store.Put(ctx, i, "")
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}
