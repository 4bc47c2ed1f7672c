package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/inbox-sync/internal/model"
)

// PollState represents the current state of the background loop.
type PollState int

const (
	PollIdle PollState = iota
	PollRunning
	PollError
)

func (s PollState) String() string {
	switch s {
	case PollRunning:
		return "running"
	case PollError:
		return "error"
	}
	return "idle"
}

// PollStatus is a snapshot of the loop.
type PollStatus struct {
	State   PollState
	LastRun time.Time
	Last    model.RunSummary
}

// Runner performs one sync pass.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (model.RunSummary, error)
}

// DefaultPollInterval is used when a non-positive interval is given.
const DefaultPollInterval = 2 * time.Minute

// Poller triggers sync passes on a fixed interval and on demand. Overlap
// with other triggers is resolved by the engine's coordinator.
type Poller struct {
	runner    Runner
	interval  time.Duration
	log       zerolog.Logger
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu      gosync.Mutex
	running bool
	status  PollStatus
}

// NewPoller creates a Poller for r.
func NewPoller(r Runner, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		runner:    r,
		interval:  interval,
		log:       logger.With().Str("component", "poller").Logger(),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the loop. It runs once immediately, then on every tick
// or Refresh, until ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts the loop and waits for an in-flight pass to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.doneCh
}

// Refresh requests an immediate pass. Requests made while one is already
// pending are coalesced.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns the current snapshot.
func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	p.setState(PollRunning)

	summary, err := p.runner.Run(ctx, RunOptions{})

	p.mu.Lock()
	defer p.mu.Unlock()
	if summary.Throttled {
		p.status.State = PollIdle
		return
	}
	p.status.Last = summary
	p.status.LastRun = time.Now()
	if err != nil {
		p.status.State = PollError
		p.log.Warn().Str("error_class", string(summary.LastErrorClass)).Msg("scheduled run aborted")
		return
	}
	p.status.State = PollIdle
}

func (p *Poller) setState(s PollState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = s
}
