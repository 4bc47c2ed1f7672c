package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/model"
)

type countingRunner struct {
	mu      gosync.Mutex
	calls   int
	summary model.RunSummary
	err     error
	ran     chan struct{}
}

func (r *countingRunner) Run(context.Context, RunOptions) (model.RunSummary, error) {
	r.mu.Lock()
	r.calls++
	s, err := r.summary, r.err
	r.mu.Unlock()
	select {
	case r.ran <- struct{}{}:
	default:
	}
	return s, err
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestPoller_RunsImmediatelyAndOnRefresh(t *testing.T) {
	r := &countingRunner{summary: model.RunSummary{Processed: 1}, ran: make(chan struct{}, 1)}
	p := NewPoller(r, time.Hour, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()

	waitRan(t, r.ran)
	p.Refresh()
	waitRan(t, r.ran)

	assert.Eventually(t, func() bool { return p.Status().State == PollIdle }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, r.count(), 2)
	assert.Equal(t, 1, p.Status().Last.Processed)
	assert.False(t, p.Status().LastRun.IsZero())
}

func TestPoller_Ticks(t *testing.T) {
	r := &countingRunner{ran: make(chan struct{}, 1)}
	p := NewPoller(r, 10*time.Millisecond, zerolog.Nop())
	p.Start(context.Background())

	assert.Eventually(t, func() bool { return r.count() >= 3 }, time.Second, 5*time.Millisecond)
	p.Stop()

	n := r.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, r.count())
}

func TestPoller_ErrorState(t *testing.T) {
	r := &countingRunner{
		summary: model.RunSummary{Aborted: true, LastErrorClass: model.ClassConnection},
		err:     errors.New("dial failed"),
		ran:     make(chan struct{}, 1),
	}
	p := NewPoller(r, time.Hour, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()

	waitRan(t, r.ran)
	assert.Eventually(t, func() bool { return p.Status().State == PollError }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.ClassConnection, p.Status().Last.LastErrorClass)
}

func TestPoller_ThrottledKeepsLastSummary(t *testing.T) {
	r := &countingRunner{summary: model.RunSummary{Processed: 4}, ran: make(chan struct{}, 1)}
	p := NewPoller(r, time.Hour, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()
	waitRan(t, r.ran)
	require.Eventually(t, func() bool { return p.Status().Last.Processed == 4 }, time.Second, 5*time.Millisecond)

	r.mu.Lock()
	r.summary = model.RunSummary{Throttled: true}
	r.mu.Unlock()
	p.Refresh()
	waitRan(t, r.ran)

	assert.Eventually(t, func() bool { return p.Status().State == PollIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, p.Status().Last.Processed)
}

func TestPoller_StopsWithContext(t *testing.T) {
	r := &countingRunner{ran: make(chan struct{}, 1)}
	p := NewPoller(r, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	waitRan(t, r.ran)
	cancel()

	select {
	case <-p.doneCh:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
	p.Stop()
}

func waitRan(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("runner was not called")
	}
}
