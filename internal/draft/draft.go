// Package draft serves AI-generated reply drafts with a freshness window
// and a per-caller request limit.
package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/inbox-sync/internal/store"
)

const (
	DefaultTTL     = 24 * time.Hour
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrRateLimited is returned when the caller exceeded its allowance.
	ErrRateLimited = errors.New("draft rate limit exceeded")

	// ErrNoGenerator is returned on a cache miss when no model is configured.
	ErrNoGenerator = errors.New("draft generation not configured")
)

// Request identifies the message to draft a reply for.
type Request struct {
	Key     string `json:"identity_key"`
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Body    string `json:"body"`
}

// Result is a draft and whether it came from the cache.
type Result struct {
	Text      string    `json:"text"`
	Cached    bool      `json:"cached"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Generator writes a reply draft.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Cache is the part of the store drafts are kept in.
type Cache interface {
	LoadDraft(ctx context.Context, key string) (*store.Draft, error)
	SaveDraft(ctx context.Context, key, text string, at time.Time) error
}

// Config tunes the service.
type Config struct {
	TTL        time.Duration
	RateLimit  int
	RateWindow time.Duration

	// Timeout bounds one generation, independent of the callers waiting
	// on it.
	Timeout time.Duration
}

// Service returns cached drafts while fresh and regenerates stale ones.
type Service struct {
	cache   Cache
	gen     Generator
	ttl     time.Duration
	timeout time.Duration
	limiter *Limiter
	log     zerolog.Logger
	now     func() time.Time

	group singleflight.Group
}

// NewService creates a Service. gen may be nil, in which case only cached
// drafts are served.
func NewService(cache Cache, gen Generator, cfg Config, logger zerolog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Service{
		cache:   cache,
		gen:     gen,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		limiter: NewLimiter(cfg.RateLimit, cfg.RateWindow),
		log:     logger.With().Str("component", "draft").Logger(),
		now:     time.Now,
	}
}

// GetOrGenerate returns the stored draft for req.Key when it is younger
// than the TTL, and otherwise generates and stores a new one. caller keys
// the rate limit.
func (s *Service) GetOrGenerate(ctx context.Context, caller string, req Request) (Result, error) {
	now := s.now()
	if !s.limiter.Allow(caller, now) {
		return Result{}, ErrRateLimited
	}

	d, err := s.cache.LoadDraft(ctx, req.Key)
	if err != nil {
		return Result{}, err
	}
	if d != nil && now.Sub(d.UpdatedAt) < s.ttl {
		return Result{Text: d.Text, Cached: true, UpdatedAt: d.UpdatedAt}, nil
	}

	if s.gen == nil {
		return Result{}, ErrNoGenerator
	}

	// The generation outlives any single caller; each waiter can still
	// give up on its own context.
	ch := s.group.DoChan(req.Key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		text, err := s.gen.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("generating draft: %w", err)
		}
		at := s.now().UTC()
		if err := s.cache.SaveDraft(ctx, req.Key, text, at); err != nil {
			return nil, err
		}
		s.log.Debug().Str("identity_key", req.Key).Msg("draft generated")
		return Result{Text: text, UpdatedAt: at}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
