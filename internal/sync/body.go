package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/inbox-sync/internal/mailbox"
	"github.com/nhle/inbox-sync/internal/parse"
	"github.com/nhle/inbox-sync/internal/store"
)

// ErrBodyUnavailable is returned when a body is not cached and the message
// can no longer be located on the server.
var ErrBodyUnavailable = errors.New("message body unavailable")

const defaultBodyTimeout = time.Minute

// BodyService serves message bodies, fetching each from the server at
// most once and caching it permanently.
type BodyService struct {
	box     Opener
	store   store.Store
	parser  *parse.Parser
	timeout time.Duration
	log     zerolog.Logger

	group singleflight.Group
}

// NewBodyService creates a BodyService. timeout bounds each refetch session.
func NewBodyService(box Opener, st store.Store, parser *parse.Parser, timeout time.Duration, logger zerolog.Logger) *BodyService {
	if parser == nil {
		parser = parse.New(nil)
	}
	return &BodyService{
		box:     box,
		store:   st,
		parser:  parser,
		timeout: timeout,
		log:     logger.With().Str("component", "body").Logger(),
	}
}

// GetBody returns the cached body for key or refetches it with one
// targeted lookup. Concurrent misses for the same key share one fetch.
func (b *BodyService) GetBody(ctx context.Context, key string) (string, error) {
	body, loaded, err := b.store.LoadBody(ctx, key)
	if err != nil {
		return "", err
	}
	if loaded {
		return body, nil
	}

	// The fetch runs detached from the first caller so that its
	// cancellation does not fail the others sharing the flight.
	ch := b.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.flightTimeout())
		defer cancel()
		return b.refetch(ctx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			b.log.Debug().Str("identity_key", key).Msg("body fetch shared")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *BodyService) flightTimeout() time.Duration {
	if b.timeout <= 0 {
		return defaultBodyTimeout
	}
	// Room for the store lookups around the session.
	return b.timeout + 5*time.Second
}

func (b *BodyService) refetch(ctx context.Context, key string) (string, error) {
	// A concurrent caller may have finished between the cache check and
	// joining the flight.
	if body, loaded, err := b.store.LoadBody(ctx, key); err != nil {
		return "", err
	} else if loaded {
		return body, nil
	}

	m, err := b.store.Get(ctx, key)
	if err != nil {
		return "", err
	}

	var body string
	err = b.box.WithSession(ctx, b.timeout, func(s mailbox.Session) error {
		ref, ok, err := b.locate(ctx, s, m.MessageID, mailbox.Ref{
			Mailbox:     m.RemoteMailbox,
			UIDValidity: m.RemoteUIDValidity,
			UID:         m.RemoteUID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrBodyUnavailable
		}

		raw, err := s.FetchRaw(ctx, ref)
		if err != nil {
			return err
		}
		n, err := b.parser.Parse(raw, time.Now())
		if err != nil {
			return err
		}
		body = n.Body
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("refetching body of %s: %w", key, err)
	}

	if err := b.store.SaveBody(ctx, key, body); err != nil {
		return "", err
	}
	return body, nil
}

// locate prefers a header search by Message-ID. The stored UID is used
// only while the mailbox still reports the UIDVALIDITY it was stored under.
func (b *BodyService) locate(ctx context.Context, s mailbox.Session, messageID string, stored mailbox.Ref) (mailbox.Ref, bool, error) {
	if messageID != "" {
		ref, ok, err := s.FindByMessageID(ctx, messageID)
		if err != nil {
			return mailbox.Ref{}, false, err
		}
		if ok {
			return ref, true, nil
		}
	}

	if stored.UID != 0 && stored.Mailbox == s.Mailbox() && stored.UIDValidity == s.UIDValidity() {
		return stored, true, nil
	}
	return mailbox.Ref{}, false, nil
}
