package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/scan"
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

// fakeLauncher hands out inert sessions and counts launches so tests can
// assert that rejected acquires have no side effect.
type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	failNext bool
}

func (f *fakeLauncher) launch(_ context.Context, port int, createdAt time.Time) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("chrome exploded")
	}
	f.launches++
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        uuid.NewString(),
		createdAt: createdAt,
		debugPort: port,
		tabCtx:    ctx,
		tabCancel: cancel,
	}, nil
}

func (f *fakeLauncher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

func newTestPool(t *testing.T, max int) (*Pool, *fakeLauncher, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	launcher := &fakeLauncher{}
	pool := NewPoolWithLauncher(PoolConfig{
		MaxSessions:   max,
		MaxSessionAge: 120 * time.Second,
	}, clock, zap.NewNop(), launcher.launch)
	return pool, launcher, clock
}

func TestAcquireUpToCeiling(t *testing.T) {
	t.Parallel()

	pool, launcher, _ := newTestPool(t, 3)
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := pool.Acquire(ctx)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	require.Equal(t, 3, pool.Live())

	// At the ceiling: immediate failure, no launch side effect.
	_, err := pool.Acquire(ctx)
	require.True(t, errors.Is(err, scan.ErrPoolExhausted))
	require.Equal(t, 3, launcher.count())

	pool.Release(sessions[0])
	require.Equal(t, 2, pool.Live())
	_, err = pool.Acquire(ctx)
	require.NoError(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, 2)
	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Release(s)
	pool.Release(s)
	pool.Release(nil)
	require.Equal(t, 0, pool.Live())

	// The slot is usable again exactly once per acquire.
	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = pool.Acquire(context.Background())
	require.True(t, errors.Is(err, scan.ErrPoolExhausted))
}

func TestLaunchFailureFreesSlot(t *testing.T) {
	t.Parallel()

	pool, launcher, _ := newTestPool(t, 1)
	launcher.failNext = true

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, scan.ErrPoolExhausted))
	require.Equal(t, 0, pool.Live())

	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
}

func TestSweepClosesOverAgeSessions(t *testing.T) {
	t.Parallel()

	pool, _, clock := newTestPool(t, 2)
	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	clock.Advance(119 * time.Second)
	pool.sweep()
	require.Equal(t, 1, pool.Live())
	require.False(t, s.isClosed())

	clock.Advance(2 * time.Second)
	pool.sweep()
	require.Equal(t, 0, pool.Live())
	require.True(t, s.isClosed())

	// Releasing a swept session is a no-op.
	pool.Release(s)
	require.Equal(t, 0, pool.Live())
}

func TestPoolCloseTearsDownSessions(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, 3)
	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Close()
	require.Equal(t, 0, pool.Live())
	require.True(t, a.isClosed())
	require.True(t, b.isClosed())
}

func TestDebugPortsAreRecycled(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, 1)
	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	port := s.DebugPort()
	pool.Release(s)

	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, port, s2.DebugPort())
}
