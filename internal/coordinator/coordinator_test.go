package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/tests/testutil"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCoordinator(leases LeaseStore) (*Coordinator, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := New(leases, 5*time.Minute, zerolog.Nop())
	c.now = clock.Now
	return c, clock
}

func TestTryAcquireRunRejectsConcurrentRun(t *testing.T) {
	c, _ := newTestCoordinator(nil)
	ctx := context.Background()

	release, ok, err := c.TryAcquireRun(ctx, "INBOX", 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.TryAcquireRun(ctx, "INBOX", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.TryAcquireRun(ctx, "Archive", 0)
	require.NoError(t, err)
	assert.True(t, ok, "other mailboxes are independent")

	release()
	release()

	_, ok, err = c.TryAcquireRun(ctx, "INBOX", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryAcquireRunEnforcesMinInterval(t *testing.T) {
	c, clock := newTestCoordinator(nil)
	ctx := context.Background()

	release, ok, err := c.TryAcquireRun(ctx, "INBOX", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	release()

	clock.Advance(30 * time.Second)
	_, ok, err = c.TryAcquireRun(ctx, "INBOX", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(31 * time.Second)
	_, ok, err = c.TryAcquireRun(ctx, "INBOX", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryAcquireRunSingleWinnerUnderContention(t *testing.T) {
	c, _ := newTestCoordinator(nil)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := c.TryAcquireRun(ctx, "INBOX", 0); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTryAcquireRunUsesLeaseStore(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, clock := newTestCoordinator(s)
	second, _ := newTestCoordinator(s)
	second.now = clock.Now

	release, ok, err := first.TryAcquireRun(ctx, "INBOX", 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryAcquireRun(ctx, "INBOX", 0)
	require.NoError(t, err)
	assert.False(t, ok, "lease held by another process")

	clock.Advance(time.Second)
	release()

	clock.Advance(time.Second)
	_, ok, err = second.TryAcquireRun(ctx, "INBOX", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

type failingLeases struct{}

func (failingLeases) AcquireLease(context.Context, string, string, time.Time, time.Duration, time.Duration) (bool, error) {
	return false, errors.New("database is locked")
}

func (failingLeases) ReleaseLease(context.Context, string, string, time.Time) error { return nil }

func TestTryAcquireRunLeaseErrorClearsBusy(t *testing.T) {
	c, _ := newTestCoordinator(failingLeases{})
	ctx := context.Background()

	_, ok, err := c.TryAcquireRun(ctx, "INBOX", 0)
	require.Error(t, err)
	assert.False(t, ok)

	c.leases = nil
	_, ok, err = c.TryAcquireRun(ctx, "INBOX", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}
