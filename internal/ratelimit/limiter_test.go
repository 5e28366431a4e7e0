package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
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

func newTestLimiter(maxRequests int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	l := New(Config{Window: window, MaxRequests: maxRequests}, clock, zap.NewNop())
	return l, clock
}

func TestAllow_CeilingExactlyEnforced(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("10.0.0.1"), "request %d", i)
	}
	require.False(t, l.Allow("10.0.0.1"))
	// Other identities are unaffected.
	require.True(t, l.Allow("10.0.0.2"))
}

func TestAllow_ReadmitsAfterWindowElapses(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(2, time.Minute)
	require.True(t, l.Allow("client"))
	require.True(t, l.Allow("client"))
	require.False(t, l.Allow("client"))

	clock.Advance(30 * time.Second)
	require.False(t, l.Allow("client"))

	clock.Advance(30 * time.Second)
	require.True(t, l.Allow("client"))
}

func TestAllow_SlidesRatherThanResets(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(2, time.Minute)
	require.True(t, l.Allow("client"))
	clock.Advance(40 * time.Second)
	require.True(t, l.Allow("client"))
	require.False(t, l.Allow("client"))

	// First timestamp ages out, second is still inside the window.
	clock.Advance(25 * time.Second)
	require.True(t, l.Allow("client"))
	require.False(t, l.Allow("client"))
}

func TestSweep_RemovesIdleIdentities(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(5, time.Minute)
	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
	require.Equal(t, 2, l.Identities())

	clock.Advance(2 * time.Minute)
	require.True(t, l.Allow("b"))
	l.sweep()

	require.Equal(t, 1, l.Identities())
}
