// Package planner decides which remote messages a sync run should look at
// and hands them out in bounded chunks.
package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nhle/inbox-sync/internal/mailbox"
)

// Scope selects between unseen messages and every message in the window.
type Scope string

const (
	ScopeUnseen Scope = "unseen"
	ScopeAll    Scope = "all"
)

// ParseScope converts s to a Scope, defaulting to unseen.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeUnseen:
		return ScopeUnseen, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

const (
	DefaultCushion   = time.Hour
	DefaultLookback  = 72 * time.Hour
	DefaultChunkSize = 10
)

// Criteria bounds one plan.
type Criteria struct {
	Since     time.Time
	Scope     Scope
	Limit     int
	ChunkSize int
}

// Checkpoint computes the lower bound for the next search. With stored
// messages it is the latest received time minus cushion, so late arrivals
// near the boundary are seen again and deduplicated. A latest time in the
// future counts as now. With an empty store it falls back to now minus
// lookback.
func Checkpoint(latest time.Time, haveLatest bool, now time.Time, cushion, lookback time.Duration) time.Time {
	if cushion <= 0 {
		cushion = DefaultCushion
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if !haveLatest || latest.IsZero() {
		return now.Add(-lookback)
	}
	if latest.After(now) {
		latest = now
	}
	return latest.Add(-cushion)
}

// Searcher is the part of a mailbox session the planner needs.
type Searcher interface {
	Search(ctx context.Context, c mailbox.Criteria) ([]mailbox.Ref, error)
	FetchMeta(ctx context.Context, refs []mailbox.Ref) ([]mailbox.Meta, error)
	UIDValidity() uint32
}

// Plan is a finite sequence of chunks of message refs, newest first.
// It is not restartable; retries build a new plan.
type Plan struct {
	Since       time.Time
	UIDValidity uint32
	Total       int

	chunks [][]mailbox.Ref
	next   int
}

// Build searches the mailbox and orders the candidates. Server-side SINCE
// compares whole days, so candidates whose arrival time is known and
// earlier than c.Since are dropped here.
func Build(ctx context.Context, s Searcher, c Criteria) (*Plan, error) {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}

	refs, err := s.Search(ctx, mailbox.Criteria{
		Since:      c.Since,
		UnseenOnly: c.Scope != ScopeAll,
	})
	if err != nil {
		return nil, err
	}

	plan := &Plan{Since: c.Since, UIDValidity: s.UIDValidity()}
	if len(refs) == 0 {
		return plan, nil
	}

	metas, err := s.FetchMeta(ctx, refs)
	if err != nil {
		return nil, err
	}

	candidates := make([]mailbox.Meta, 0, len(metas))
	for _, m := range metas {
		if !m.InternalDate.IsZero() && !c.Since.IsZero() && m.InternalDate.Before(c.Since) {
			continue
		}
		candidates = append(candidates, m)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.InternalDate.Equal(b.InternalDate) {
			return a.InternalDate.After(b.InternalDate)
		}
		return a.Ref.UID > b.Ref.UID
	})

	if c.Limit > 0 && len(candidates) > c.Limit {
		candidates = candidates[:c.Limit]
	}

	plan.Total = len(candidates)
	for start := 0; start < len(candidates); start += c.ChunkSize {
		end := min(start+c.ChunkSize, len(candidates))
		chunk := make([]mailbox.Ref, 0, end-start)
		for _, m := range candidates[start:end] {
			chunk = append(chunk, m.Ref)
		}
		plan.chunks = append(plan.chunks, chunk)
	}

	return plan, nil
}

// Next returns the next chunk, or false when the plan is exhausted.
func (p *Plan) Next() ([]mailbox.Ref, bool) {
	if p.next >= len(p.chunks) {
		return nil, false
	}
	chunk := p.chunks[p.next]
	p.next++
	return chunk, true
}

// Remaining counts refs in chunks not yet handed out.
func (p *Plan) Remaining() int {
	n := 0
	for _, c := range p.chunks[p.next:] {
		n += len(c)
	}
	return n
}
