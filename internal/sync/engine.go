// Package sync runs the inbox ingest pipeline: gate, plan, fetch, parse,
// resolve identity, persist, mark seen and classify.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nhle/inbox-sync/internal/classify"
	"github.com/nhle/inbox-sync/internal/coordinator"
	"github.com/nhle/inbox-sync/internal/identity"
	"github.com/nhle/inbox-sync/internal/mailbox"
	"github.com/nhle/inbox-sync/internal/metrics"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/parse"
	"github.com/nhle/inbox-sync/internal/planner"
	"github.com/nhle/inbox-sync/internal/store"
)

const tracerName = "github.com/nhle/inbox-sync/internal/sync"

// Opener opens scoped mailbox sessions. *mailbox.Manager implements it.
type Opener interface {
	Mailbox() string
	WithSession(ctx context.Context, timeout time.Duration, fn func(mailbox.Session) error) error
}

// Config holds the run parameters.
type Config struct {
	Limit          int
	ChunkSize      int
	Lookback       time.Duration
	Cushion        time.Duration
	Scope          planner.Scope
	MinInterval    time.Duration
	RunBudget      time.Duration
	SessionTimeout time.Duration
	MarkSeen       bool
	StoreBody      bool

	// RemoteCap bounds remote classification attempts and backlog
	// reclassification per run.
	RemoteCap int
}

// ConfigFrom converts the loaded settings.
func ConfigFrom(c model.SyncConfig) (Config, error) {
	scope, err := planner.ParseScope(c.Scope)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Limit:          c.Limit,
		ChunkSize:      c.ChunkSize,
		Lookback:       c.DefaultLookback,
		Cushion:        c.Cushion,
		Scope:          scope,
		MinInterval:    c.MinInterval,
		RunBudget:      c.RunBudget,
		SessionTimeout: c.SessionTimeout,
		MarkSeen:       c.MarkSeen,
		StoreBody:      c.StoreBody,
		RemoteCap:      c.RemoteCap,
	}, nil
}

// RunOptions override the configured bounds for one trigger.
type RunOptions struct {
	Limit int

	// Lookback caps how far back the window reaches, whatever the
	// checkpoint says. It also replaces the empty-store default.
	Lookback time.Duration

	Scope planner.Scope
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Mailbox     Opener
	Store       store.Store
	Parser      *parse.Parser
	Classifier  *classify.Classifier
	Coordinator *coordinator.Coordinator
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Engine runs sync passes against one mailbox.
type Engine struct {
	box     Opener
	store   store.Store
	parser  *parse.Parser
	cls     *classify.Classifier
	coord   *coordinator.Coordinator
	metrics *metrics.Metrics
	tracer  trace.Tracer
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

// NewEngine creates an Engine. A nil Parser or Coordinator gets a default.
func NewEngine(d Deps, cfg Config) *Engine {
	if d.Parser == nil {
		d.Parser = parse.New(nil)
	}
	if d.Coordinator == nil {
		d.Coordinator = coordinator.New(nil, 0, d.Logger)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = planner.DefaultChunkSize
	}
	if cfg.Scope == "" {
		cfg.Scope = planner.ScopeUnseen
	}
	return &Engine{
		box:     d.Mailbox,
		store:   d.Store,
		parser:  d.Parser,
		cls:     d.Classifier,
		coord:   d.Coordinator,
		metrics: d.Metrics,
		tracer:  otel.Tracer(tracerName),
		cfg:     cfg,
		log:     d.Logger.With().Str("component", "sync").Str("mailbox", d.Mailbox.Mailbox()).Logger(),
		now:     time.Now,
	}
}

// pending is a freshly stored message waiting for classification.
type pending struct {
	key       string
	input     classify.Input
	heuristic classify.Result
}

// run carries the mutable state of one invocation.
type run struct {
	summary   model.RunSummary
	log       zerolog.Logger
	remoteUse int
}

func (r *run) record(err error) model.ErrorClass {
	class := ClassifyError(err)
	if class != model.ClassNone {
		r.summary.LastErrorClass = class
	}
	return class
}

// Run performs one sync pass. A throttled trigger returns a summary with
// Throttled set and no error. A run aborted by a connection failure or by
// an exhausted budget returns its partial summary along with the error.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (model.RunSummary, error) {
	start := e.now()
	r := &run{summary: model.RunSummary{RunID: uuid.NewString(), Mailbox: e.box.Mailbox()}}
	r.log = e.log.With().Str("run_id", r.summary.RunID).Logger()

	release, ok, err := e.coord.TryAcquireRun(ctx, e.box.Mailbox(), e.cfg.MinInterval)
	if err != nil {
		r.record(err)
		r.summary.Aborted = true
		return e.finish(r, start), err
	}
	if !ok {
		r.summary.Throttled = true
		r.log.Debug().Msg("run throttled")
		return e.finish(r, start), nil
	}
	defer release()

	ctx, span := e.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("mailbox", r.summary.Mailbox),
		attribute.String("run_id", r.summary.RunID),
	))
	defer span.End()

	if e.cfg.RunBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.cfg.RunBudget, ErrBudgetExceeded)
		defer cancel()
	}

	err = e.run(ctx, r, opts)
	if err != nil && errors.Is(context.Cause(ctx), ErrBudgetExceeded) {
		// Whatever failed, it failed because the budget ran out.
		err = fmt.Errorf("%w after %s: %w", ErrBudgetExceeded, e.cfg.RunBudget, err)
		r.summary.LastErrorClass = model.ClassBudget
	}
	if err != nil {
		r.summary.Aborted = true
		span.RecordError(err)
		span.SetStatus(codes.Error, string(r.summary.LastErrorClass))
		r.log.Error().
			Str("error_class", string(r.summary.LastErrorClass)).
			Int("processed", r.summary.Processed).
			Msg("run aborted")
	}

	summary := e.finish(r, start)
	span.SetAttributes(
		attribute.Int("processed", summary.Processed),
		attribute.Int("skipped", summary.Skipped),
		attribute.Int("duplicates", summary.Duplicates),
	)
	if err == nil {
		r.log.Info().
			Int("processed", summary.Processed).
			Int("skipped", summary.Skipped).
			Int("duplicates", summary.Duplicates).
			Int("classified", summary.Classified).
			Time("since", summary.Since).
			Dur("duration", summary.Duration).
			Msg("run finished")
	}
	return summary, err
}

func (e *Engine) finish(r *run, start time.Time) model.RunSummary {
	r.summary.Duration = e.now().Sub(start)
	r.summary.DurationMS = r.summary.Duration.Milliseconds()
	e.metrics.ObserveRun(r.summary)
	return r.summary
}

func (e *Engine) run(ctx context.Context, r *run, opts RunOptions) error {
	since, err := e.since(ctx, opts)
	if err != nil {
		r.record(err)
		return fmt.Errorf("computing checkpoint: %w", err)
	}
	r.summary.Since = since

	limit := e.cfg.Limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	scope := e.cfg.Scope
	if opts.Scope != "" {
		scope = opts.Scope
	}

	var plan *planner.Plan
	err = e.box.WithSession(ctx, e.cfg.SessionTimeout, func(s mailbox.Session) error {
		var err error
		plan, err = planner.Build(ctx, s, planner.Criteria{
			Since:     since,
			Scope:     scope,
			Limit:     limit,
			ChunkSize: e.cfg.ChunkSize,
		})
		return err
	})
	if err != nil {
		if class := r.record(err); class != model.ClassCanceled {
			r.summary.LastErrorClass = model.ClassConnection
		}
		return fmt.Errorf("planning: %w", err)
	}
	r.log.Debug().Int("candidates", plan.Total).Time("since", since).Msg("plan built")

	for chunk, ok := plan.Next(); ok; chunk, ok = plan.Next() {
		stored, stale, err := e.ingestChunk(ctx, r, plan.UIDValidity, chunk)
		e.classifyPending(ctx, r, stored)
		if err != nil {
			return err
		}
		if stale {
			r.log.Warn().Int("remaining", plan.Remaining()).Msg("uid validity changed, stopping plan")
			break
		}
	}

	e.reclassifyBacklog(ctx, r)
	return nil
}

// since computes the window lower bound from the latest stored message.
func (e *Engine) since(ctx context.Context, opts RunOptions) (time.Time, error) {
	now := e.now()
	latest, have, err := e.store.LatestReceivedAt(ctx, e.box.Mailbox())
	if err != nil {
		return time.Time{}, err
	}

	lookback := e.cfg.Lookback
	if opts.Lookback > 0 {
		lookback = opts.Lookback
	}
	since := planner.Checkpoint(latest, have, now, e.cfg.Cushion, lookback)
	if opts.Lookback > 0 {
		if floor := now.Add(-opts.Lookback); since.Before(floor) {
			since = floor
		}
	}
	return since, nil
}

// ingestChunk stores one chunk inside its own session. It reports the
// stored messages to classify and whether the mailbox's UIDVALIDITY no
// longer matches the plan. Only fatal errors are returned.
func (e *Engine) ingestChunk(ctx context.Context, r *run, uidValidity uint32, chunk []mailbox.Ref) ([]pending, bool, error) {
	ctx, span := e.tracer.Start(ctx, "sync.chunk", trace.WithAttributes(attribute.Int("size", len(chunk))))
	defer span.End()

	var (
		stored []pending
		stale  bool
	)
	err := e.box.WithSession(ctx, e.cfg.SessionTimeout, func(s mailbox.Session) error {
		if s.UIDValidity() != uidValidity {
			stale = true
			return nil
		}
		for _, ref := range chunk {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := e.ingestOne(ctx, r, s, ref)
			if err != nil {
				return err
			}
			if p != nil {
				stored = append(stored, *p)
			}
		}
		return nil
	})
	if err != nil {
		class := r.record(err)
		if !Fatal(class) {
			// The session itself failed; nothing further can be fetched.
			r.summary.LastErrorClass = model.ClassConnection
		}
		span.RecordError(err)
		return stored, stale, fmt.Errorf("ingesting chunk: %w", err)
	}
	return stored, stale, nil
}

// ingestOne processes a single ref. Per-message failures are counted as
// skipped and return nil error; only a done context is returned.
func (e *Engine) ingestOne(ctx context.Context, r *run, s mailbox.Session, ref mailbox.Ref) (*pending, error) {
	log := r.log.With().Uint32("uid", ref.UID).Logger()

	skip := func(err error, msg string) (*pending, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		class := r.record(err)
		log.Warn().Err(err).Str("error_class", string(class)).Msg(msg)
		r.summary.Skipped++
		e.metrics.Message(metrics.OutcomeSkipped)
		return nil, nil
	}

	raw, err := s.FetchRaw(ctx, ref)
	if err != nil {
		return skip(err, "fetch failed, skipping message")
	}

	n, err := e.parser.Parse(raw, e.now())
	if err != nil {
		return skip(err, "parse failed, skipping message")
	}

	key := identity.Resolve(n)
	log = log.With().Str("identity_key", key.Value).Logger()

	// Cheap pre-check; the unique key on insert is the real guard.
	exists, err := e.store.Exists(ctx, key.Value)
	if err != nil {
		return skip(err, "existence check failed, skipping message")
	}
	if exists {
		e.duplicate(ctx, r, s, ref, log)
		return nil, nil
	}

	input := classify.Input{Subject: n.Subject, Body: n.Body, From: n.From}
	msg := &model.InboundMessage{
		IdentityKey:       key.Value,
		RemoteMailbox:     ref.Mailbox,
		RemoteUIDValidity: ref.UIDValidity,
		RemoteUID:         ref.UID,
		MessageID:         n.MessageID,
		FromAddr:          n.From,
		ToAddr:            n.To,
		Subject:           n.Subject,
		ReceivedAt:        n.ReceivedAt,
		Direction:         model.DirectionInbound,
		Intent:            model.IntentGeneralQuestion,
		ThreadKey:         n.ThreadKey,
		InReplyTo:         n.InReplyTo,
		References:        strings.Join(n.References, " "),
		Status:            model.StatusNew,
	}
	if e.cfg.StoreBody {
		msg.Body = n.Body
		msg.BodyLoaded = true
	}

	var heuristic classify.Result
	switch {
	case n.AutoReply:
		msg.Status = model.StatusSkippedAuto
	case e.cls != nil:
		heuristic = e.cls.Heuristic(input)
		msg.Intent = heuristic.Intent
		if heuristic.Intent == model.IntentUnsubscribe {
			msg.Status = model.StatusHandled
		}
	}

	inserted, err := e.store.Insert(ctx, msg)
	if err != nil {
		return skip(err, "insert failed, skipping message")
	}
	if !inserted {
		// Another run stored it between the pre-check and the insert.
		e.duplicate(ctx, r, s, ref, log)
		return nil, nil
	}

	if n.AutoReply {
		e.appendEvent(ctx, log, model.EventSkippedAuto, key.Value, map[string]any{
			"message_id": n.MessageID,
			"from":       n.From,
			"subject":    n.Subject,
		})
		r.summary.Skipped++
		e.metrics.Message(metrics.OutcomeAutoReply)
		e.markSeen(ctx, r, s, ref, log)
		return nil, nil
	}

	eventType := model.EventReply
	if msg.Intent == model.IntentUnsubscribe {
		eventType = model.EventUnsubscribe
	}
	e.appendEvent(ctx, log, eventType, key.Value, map[string]any{
		"message_id": n.MessageID,
		"intent":     msg.Intent,
		"from":       n.From,
		"to":         n.To,
		"subject":    n.Subject,
	})

	if e.markSeen(ctx, r, s, ref, log) {
		r.summary.Processed++
		e.metrics.Message(metrics.OutcomeStored)
	} else {
		r.summary.Skipped++
		e.metrics.Message(metrics.OutcomeSkipped)
	}

	if e.cls == nil {
		return nil, nil
	}
	return &pending{key: key.Value, input: input, heuristic: heuristic}, nil
}

func (e *Engine) duplicate(ctx context.Context, r *run, s mailbox.Session, ref mailbox.Ref, log zerolog.Logger) {
	r.summary.Duplicates++
	e.metrics.Message(metrics.OutcomeDuplicate)
	log.Debug().Msg("already stored")
	// Re-marking is safe and keeps an interrupted run from leaving the
	// message unseen forever.
	e.markSeen(ctx, r, s, ref, log)
}

// markSeen sets \Seen when enabled. It reports false on failure.
func (e *Engine) markSeen(ctx context.Context, r *run, s mailbox.Session, ref mailbox.Ref, log zerolog.Logger) bool {
	if !e.cfg.MarkSeen {
		return true
	}
	if err := s.MarkSeen(ctx, ref); err != nil {
		class := r.record(err)
		log.Warn().Err(err).Str("error_class", string(class)).Msg("marking seen failed")
		return false
	}
	return true
}

// classifyPending runs after the chunk's session is closed, so remote
// calls never hold the mailbox lock.
func (e *Engine) classifyPending(ctx context.Context, r *run, items []pending) {
	for _, p := range items {
		if ctx.Err() != nil {
			// Left unknown; the next run picks it up from the backlog.
			return
		}
		e.classify(ctx, r, p.key, p.input, p.heuristic.Intent)
	}
}

// reclassifyBacklog retries rows whose importance is still unknown, up to
// the per-run cap.
func (e *Engine) reclassifyBacklog(ctx context.Context, r *run) {
	if e.cls == nil || e.cfg.RemoteCap <= 0 || ctx.Err() != nil {
		return
	}

	keys, err := e.store.UnclassifiedKeys(ctx, e.cfg.RemoteCap)
	if err != nil {
		class := r.record(err)
		r.log.Warn().Err(err).Str("error_class", string(class)).Msg("listing unclassified messages")
		return
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		m, err := e.store.Get(ctx, key)
		if err != nil {
			r.record(err)
			continue
		}
		e.classify(ctx, r, key, classify.Input{Subject: m.Subject, Body: m.Body, From: m.FromAddr}, m.Intent)
	}
}

// classify stores a verdict for key. prior is the intent already stored.
func (e *Engine) classify(ctx context.Context, r *run, key string, in classify.Input, prior model.Intent) {
	log := r.log.With().Str("identity_key", key).Logger()

	allowRemote := e.cls.HasRemote() && r.remoteUse < e.cfg.RemoteCap
	if allowRemote {
		r.remoteUse++
	}
	res := e.cls.Classify(ctx, in, allowRemote)
	if allowRemote {
		e.metrics.RemoteClassification(res.RemoteErr)
		if res.RemoteErr != nil {
			// Swallowed by the classifier; only the class is reported.
			r.summary.LastErrorClass = model.ClassClassifier
		}
	}

	err := e.store.SetClassification(ctx, key, store.Classification{
		Intent:    res.Intent,
		Important: res.Important,
		Reason:    res.Reason,
		Via:       res.Via,
	})
	if err != nil {
		class := r.record(err)
		log.Warn().Err(err).Str("error_class", string(class)).Msg("storing classification")
		return
	}
	r.summary.Classified++
	e.metrics.Message(metrics.OutcomeClassified)

	e.appendEvent(ctx, log, model.EventClassified, key, map[string]any{
		"intent":    res.Intent,
		"important": res.Important,
		"via":       res.Via,
	})

	if res.Intent == model.IntentUnsubscribe && prior != model.IntentUnsubscribe {
		moved, err := e.store.AdvanceStatus(ctx, key, model.StatusHandled)
		if err != nil {
			r.record(err)
			log.Warn().Err(err).Msg("advancing unsubscribe status")
			return
		}
		if moved {
			e.appendEvent(ctx, log, model.EventUnsubscribe, key, map[string]any{"intent": res.Intent})
		}
	}
}

func (e *Engine) appendEvent(ctx context.Context, log zerolog.Logger, t model.EventType, key string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Msg("encoding event payload")
		data = []byte("{}")
	}
	if err := e.store.AppendEvent(ctx, model.Event{Type: t, IdentityKey: key, Payload: string(data)}); err != nil {
		log.Warn().Err(err).Str("event", string(t)).Msg("appending event")
	}
}

