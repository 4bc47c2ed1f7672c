package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LeaseStore persists run leases so that separate processes sharing one
// database do not sync the same mailbox at once.
type LeaseStore interface {
	AcquireLease(ctx context.Context, mailbox, owner string, now time.Time, minInterval, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, mailbox, owner string, now time.Time) error
}

// Release ends a run. Calling it more than once is harmless.
type Release func()

type mailboxState struct {
	busy      bool
	lastStart time.Time
}

// Coordinator admits at most one run per mailbox and enforces a minimum
// interval between run starts. Construct one per process.
type Coordinator struct {
	leases   LeaseStore
	leaseTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	states map[string]*mailboxState
}

// New creates a Coordinator. leases may be nil, in which case only runs
// within this process are coordinated.
func New(leases LeaseStore, leaseTTL time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		leases:   leases,
		leaseTTL: leaseTTL,
		log:      logger.With().Str("component", "coordinator").Logger(),
		now:      time.Now,
		states:   make(map[string]*mailboxState),
	}
}

// TryAcquireRun admits a run for mailbox. It returns ok=false when a run
// is in progress or the previous run started less than minInterval ago.
// The returned Release must be called when the run finishes.
func (c *Coordinator) TryAcquireRun(ctx context.Context, mailbox string, minInterval time.Duration) (Release, bool, error) {
	now := c.now()

	c.mu.Lock()
	st, ok := c.states[mailbox]
	if !ok {
		st = &mailboxState{}
		c.states[mailbox] = st
	}
	if st.busy || (!st.lastStart.IsZero() && now.Sub(st.lastStart) < minInterval) {
		c.mu.Unlock()
		return nil, false, nil
	}
	st.busy = true
	c.mu.Unlock()

	clearBusy := func(started bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		st.busy = false
		if started {
			st.lastStart = now
		}
	}

	owner := uuid.New().String()
	if c.leases != nil {
		acquired, err := c.leases.AcquireLease(ctx, mailbox, owner, now, minInterval, c.leaseTTL)
		if err != nil {
			clearBusy(false)
			return nil, false, fmt.Errorf("acquiring run lease: %w", err)
		}
		if !acquired {
			clearBusy(false)
			c.log.Debug().Str("mailbox", mailbox).Msg("run lease held elsewhere")
			return nil, false, nil
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			clearBusy(true)
			if c.leases == nil {
				return
			}
			// The run context may already be done; the lease must still end.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := c.leases.ReleaseLease(releaseCtx, mailbox, owner, c.now()); err != nil {
				c.log.Warn().Err(err).Str("mailbox", mailbox).Msg("releasing run lease")
			}
		})
	}
	return release, true, nil
}
