// Package classify assigns an intent and an importance verdict to
// inbound messages. A local rule table always answers; an optional remote
// model may refine the answer within a hard time bound.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/inbox-sync/internal/llm"
	"github.com/nhle/inbox-sync/internal/model"
)

const (
	DefaultTimeout   = 6 * time.Second
	DefaultThreshold = 2
	maxBodyChars     = 1000
	remoteMaxTokens  = 60
)

// ErrMalformed is returned when the remote answer does not match the
// expected JSON shape.
var ErrMalformed = errors.New("malformed classifier response")

// Input is the text a classification looks at.
type Input struct {
	Subject string
	Body    string
	From    string
}

// Result is a classification verdict.
type Result struct {
	Intent    model.Intent
	Important bool
	Reason    string
	Via       string

	// RemoteErr is set when a remote refinement was attempted and failed;
	// the verdict then comes from the heuristic.
	RemoteErr error
}

// Config tunes the heuristic and bounds remote calls.
type Config struct {
	ImportantSenders []string
	Threshold        int
	Timeout          time.Duration
}

// Classifier produces verdicts. It never returns an error to callers.
type Classifier struct {
	remote llm.Completer
	cfg    Config
	log    zerolog.Logger
}

// New creates a Classifier. remote may be nil to disable refinement.
func New(remote llm.Completer, cfg Config, logger zerolog.Logger) *Classifier {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Classifier{
		remote: remote,
		cfg:    cfg,
		log:    logger.With().Str("component", "classify").Logger(),
	}
}

// HasRemote reports whether a remote model is configured.
func (c *Classifier) HasRemote() bool {
	return c.remote != nil
}

// Heuristic classifies using only local rules.
func (c *Classifier) Heuristic(in Input) Result {
	intent := MatchIntent(in.Subject + "\n" + in.Body)
	total, hits := score(in, c.cfg.ImportantSenders)

	reason := "no importance keywords"
	if len(hits) > 0 {
		reason = fmt.Sprintf("score %d: %s", total, strings.Join(hits, ", "))
	}

	return Result{
		Intent:    intent,
		Important: total >= c.cfg.Threshold,
		Reason:    reason,
		Via:       model.ViaHeuristic,
	}
}

// Classify returns the heuristic verdict, refined by the remote model when
// allowRemote is set and one is configured. Remote failures of any kind
// keep the heuristic verdict.
func (c *Classifier) Classify(ctx context.Context, in Input, allowRemote bool) Result {
	base := c.Heuristic(in)
	if !allowRemote || c.remote == nil {
		return base
	}

	refined, err := c.refine(ctx, in, base)
	if err != nil {
		c.log.Debug().Err(err).Msg("remote classification failed, keeping heuristic")
		base.RemoteErr = err
		return base
	}
	return refined
}

type remoteVerdict struct {
	Important *bool  `json:"important"`
	Intent    string `json:"intent"`
	Reason    string `json:"reason"`
}

const systemPrompt = `You triage inbound email for a small service business.
Respond ONLY with JSON of the form {"important":true|false,"intent":"<intent>","reason":"<short reason>"}.
intent must be one of: unsubscribe, book_service, price_question, reschedule, wrong_contact, ack, general_question.
Important means the sender is a customer or prospect who needs a timely human reply.`

func (c *Classifier) refine(ctx context.Context, in Input, base Result) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body := in.Body
	if r := []rune(body); len(r) > maxBodyChars {
		body = string(r[:maxBodyChars])
	}

	answer, err := c.remote.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf("Subject: %s\nFrom: %s\n\n%s", in.Subject, in.From, body),
		MaxTokens:   remoteMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return base, err
	}

	v, err := decodeVerdict(answer)
	if err != nil {
		return base, err
	}

	out := Result{
		Intent:    base.Intent,
		Important: *v.Important,
		Reason:    strings.TrimSpace(v.Reason),
		Via:       model.ViaRemote,
	}
	if v.Intent != "" {
		intent, ok := model.ParseIntent(v.Intent)
		if !ok {
			return base, fmt.Errorf("%w: unknown intent %q", ErrMalformed, v.Intent)
		}
		out.Intent = intent
	}
	if out.Reason == "" {
		out.Reason = "remote verdict"
	}
	return out, nil
}

// decodeVerdict accepts exactly one JSON object with a boolean important
// field and nothing else after it.
func decodeVerdict(answer string) (remoteVerdict, error) {
	var v remoteVerdict
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(answer))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return v, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if v.Important == nil {
		return v, fmt.Errorf("%w: missing important", ErrMalformed)
	}
	return v, nil
}
