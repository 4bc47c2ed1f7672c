package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/mailbox"
)

type fakeSearcher struct {
	metas    []mailbox.Meta
	criteria mailbox.Criteria
	err      error
}

func (f *fakeSearcher) UIDValidity() uint32 { return 7 }

func (f *fakeSearcher) Search(_ context.Context, c mailbox.Criteria) ([]mailbox.Ref, error) {
	f.criteria = c
	if f.err != nil {
		return nil, f.err
	}
	refs := make([]mailbox.Ref, 0, len(f.metas))
	for _, m := range f.metas {
		refs = append(refs, m.Ref)
	}
	return refs, nil
}

func (f *fakeSearcher) FetchMeta(context.Context, []mailbox.Ref) ([]mailbox.Meta, error) {
	return f.metas, nil
}

func meta(uid uint32, at time.Time) mailbox.Meta {
	return mailbox.Meta{Ref: mailbox.Ref{Mailbox: "INBOX", UIDValidity: 7, UID: uid}, InternalDate: at}
}

func uids(refs []mailbox.Ref) []uint32 {
	out := make([]uint32, len(refs))
	for i, r := range refs {
		out[i] = r.UID
	}
	return out
}

func TestCheckpoint(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	latest := now.Add(-5 * time.Hour)

	tests := []struct {
		name       string
		latest     time.Time
		haveLatest bool
		want       time.Time
	}{
		{"empty store uses lookback", time.Time{}, false, now.Add(-72 * time.Hour)},
		{"latest minus cushion", latest, true, latest.Add(-time.Hour)},
		{"future latest is clamped", now.Add(24 * time.Hour), true, now.Add(-time.Hour)},
		{"latest just ahead of now is clamped", now.Add(30 * time.Minute), true, now.Add(-time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Checkpoint(tt.latest, tt.haveLatest, now, time.Hour, 72*time.Hour)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_NewestFirstCappedAndChunked(t *testing.T) {
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	s := &fakeSearcher{metas: []mailbox.Meta{
		meta(1, base),
		meta(2, base.Add(time.Minute)),
		meta(3, base.Add(2*time.Minute)),
		meta(4, base.Add(3*time.Minute)),
		meta(5, base.Add(4*time.Minute)),
	}}

	plan, err := Build(context.Background(), s, Criteria{Since: base.Add(-time.Hour), Limit: 4, ChunkSize: 3})
	require.NoError(t, err)

	assert.True(t, s.criteria.UnseenOnly)
	assert.Equal(t, 4, plan.Total)
	assert.Equal(t, uint32(7), plan.UIDValidity)

	first, ok := plan.Next()
	require.True(t, ok)
	assert.Equal(t, []uint32{5, 4, 3}, uids(first))
	assert.Equal(t, 1, plan.Remaining())

	second, ok := plan.Next()
	require.True(t, ok)
	assert.Equal(t, []uint32{2}, uids(second))

	_, ok = plan.Next()
	assert.False(t, ok)
}

func TestBuild_DropsMessagesBeforeSince(t *testing.T) {
	since := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	s := &fakeSearcher{metas: []mailbox.Meta{
		meta(1, since.Add(-2*time.Hour)),
		meta(2, since.Add(time.Minute)),
		meta(3, time.Time{}),
	}}

	plan, err := Build(context.Background(), s, Criteria{Since: since, Scope: ScopeAll})
	require.NoError(t, err)

	assert.False(t, s.criteria.UnseenOnly)
	chunk, ok := plan.Next()
	require.True(t, ok)
	assert.ElementsMatch(t, []uint32{2, 3}, uids(chunk))
}

func TestBuild_SearchError(t *testing.T) {
	sentinel := errors.New("connection reset")
	_, err := Build(context.Background(), &fakeSearcher{err: sentinel}, Criteria{})
	assert.ErrorIs(t, err, sentinel)
}

func TestBuild_Empty(t *testing.T) {
	plan, err := Build(context.Background(), &fakeSearcher{}, Criteria{})
	require.NoError(t, err)
	_, ok := plan.Next()
	assert.False(t, ok)
	assert.Zero(t, plan.Remaining())
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeUnseen, s)

	s, err = ParseScope("all")
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, s)

	_, err = ParseScope("recent")
	assert.Error(t, err)
}
