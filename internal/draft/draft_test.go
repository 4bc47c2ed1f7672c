package draft

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/llm"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/tests/testutil"
)

type countingGenerator struct {
	text  string
	err   error
	calls int
}

func (g *countingGenerator) Generate(context.Context, Request) (string, error) {
	g.calls++
	return g.text, g.err
}

type fixture struct {
	svc   *Service
	gen   *countingGenerator
	clock time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st := testutil.NewTestStore(t)
	_, err := st.Insert(context.Background(), &model.InboundMessage{
		IdentityKey: "mid:a@example.com",
		Subject:     "Can I book Tuesday?",
		ReceivedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	f := &fixture{
		gen:   &countingGenerator{text: "Tuesday works, see you at 10."},
		clock: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(st, f.gen, cfg, zerolog.Nop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

var req = Request{Key: "mid:a@example.com", Subject: "Can I book Tuesday?", Sender: "ana@example.com", Body: "Is 10am free?"}

func TestGetOrGenerate_Freshness(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Hour})
	ctx := context.Background()

	first, err := f.svc.GetOrGenerate(ctx, "ip:1", req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "Tuesday works, see you at 10.", first.Text)

	f.clock = f.clock.Add(30 * time.Minute)
	second, err := f.svc.GetOrGenerate(ctx, "ip:1", req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
	assert.Equal(t, 1, f.gen.calls)

	f.clock = f.clock.Add(time.Hour)
	f.gen.text = "Tuesday is full, how about Wednesday?"
	third, err := f.svc.GetOrGenerate(ctx, "ip:1", req)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, "Tuesday is full, how about Wednesday?", third.Text)
	assert.True(t, third.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, 2, f.gen.calls)
}

func TestGetOrGenerate_RateLimitedPerCaller(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Hour, RateLimit: 2, RateWindow: 10 * time.Second})
	ctx := context.Background()

	for range 2 {
		_, err := f.svc.GetOrGenerate(ctx, "ip:1", req)
		require.NoError(t, err)
	}
	_, err := f.svc.GetOrGenerate(ctx, "ip:1", req)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = f.svc.GetOrGenerate(ctx, "ip:2", req)
	assert.NoError(t, err, "other callers have their own allowance")

	f.clock = f.clock.Add(10 * time.Second)
	_, err = f.svc.GetOrGenerate(ctx, "ip:1", req)
	assert.NoError(t, err)
}

func TestGetOrGenerate_GeneratorFailureIsNotCached(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Hour})
	ctx := context.Background()
	f.gen.err = errors.New("upstream 500")

	_, err := f.svc.GetOrGenerate(ctx, "ip:1", req)
	require.Error(t, err)

	f.gen.err = nil
	res, err := f.svc.GetOrGenerate(ctx, "ip:1", req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedGenerator) Generate(ctx context.Context, _ Request) (string, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
		return "Tuesday works.", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestGetOrGenerate_CanceledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Hour})
	gen := &gatedGenerator{started: make(chan struct{}), release: make(chan struct{})}
	f.svc.gen = gen

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.GetOrGenerate(first, "ip:1", req)
		firstErr <- err
	}()
	<-gen.started

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := f.svc.GetOrGenerate(context.Background(), "ip:2", req)
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gen.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "Tuesday works.", got.res.Text)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestGetOrGenerate_NoGenerator(t *testing.T) {
	f := newFixture(t, Config{})
	f.svc.gen = nil

	_, err := f.svc.GetOrGenerate(context.Background(), "ip:1", req)
	assert.ErrorIs(t, err, ErrNoGenerator)
}

type stubCompleter struct {
	got llm.Request
	out string
}

func (s *stubCompleter) Complete(_ context.Context, r llm.Request) (string, error) {
	s.got = r
	return s.out, nil
}

func TestLLMGenerator(t *testing.T) {
	c := &stubCompleter{out: "  Happy to help.  "}
	g := NewLLMGenerator(c, "FrequenSea Marine", "Curtis", 0)

	text, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Happy to help.", text)
	assert.Contains(t, c.got.System, "FrequenSea Marine")
	assert.Contains(t, c.got.System, "Curtis")
	assert.Contains(t, c.got.Prompt, "Is 10am free?")
	assert.Equal(t, 300, c.got.MaxTokens)

	c.out = "   "
	_, err = g.Generate(context.Background(), req)
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, time.Second)
	now := time.Now()
	for range 100 {
		assert.True(t, l.Allow("x", now))
	}
}
