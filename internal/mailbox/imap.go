package mailbox

import (
	"context"
	"fmt"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// imapSession implements Session over a selected go-imap client.
type imapSession struct {
	client      *imapclient.Client
	mailbox     string
	uidValidity uint32
}

func (s *imapSession) Mailbox() string     { return s.mailbox }
func (s *imapSession) UIDValidity() uint32 { return s.uidValidity }

func (s *imapSession) ref(uid imap.UID) Ref {
	return Ref{Mailbox: s.mailbox, UIDValidity: s.uidValidity, UID: uint32(uid)}
}

// Search returns the UIDs matching c in ascending order.
func (s *imapSession) Search(ctx context.Context, c Criteria) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if !c.Since.IsZero() {
		criteria.Since = c.Since
	}
	if c.UnseenOnly {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", s.mailbox, err)
	}

	uids := data.AllUIDs()
	refs := make([]Ref, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, s.ref(uid))
	}
	return refs, nil
}

// FetchMeta returns arrival time and seen state for refs.
func (s *imapSession) FetchMeta(ctx context.Context, refs []Ref) ([]Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uidsOf(refs)...)
	fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
	})
	defer fetchCmd.Close()

	metas := make([]Meta, 0, len(refs))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		metas = append(metas, Meta{
			Ref:          s.ref(buf.UID),
			InternalDate: buf.InternalDate,
			Seen:         slices.Contains(buf.Flags, imap.FlagSeen),
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return metas, fmt.Errorf("fetching metadata: %w", err)
	}

	return metas, nil
}

// FetchRaw returns the full message without setting \Seen.
func (s *imapSession) FetchRaw(ctx context.Context, ref Ref) (*RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(ref.UID)), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", ref, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting %s: %w", ref, err)
	}

	raw := buf.FindBodySection(bodySection)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingStream, ref)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch %s: %w", ref, err)
	}

	return &RawMessage{
		Ref:          ref,
		InternalDate: buf.InternalDate,
		Bytes:        raw,
	}, nil
}

// MarkSeen adds \Seen to the message.
func (s *imapSession) MarkSeen(ctx context.Context, ref Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(ref.UID)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking %s seen: %w", ref, err)
	}
	return nil
}

// FindByMessageID searches the selected mailbox by Message-ID header and
// returns the newest match.
func (s *imapSession) FindByMessageID(ctx context.Context, messageID string) (Ref, bool, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, false, err
	}
	if messageID == "" {
		return Ref{}, false, nil
	}

	data, err := s.client.UIDSearch(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: messageID}},
	}, nil).Wait()
	if err != nil {
		return Ref{}, false, fmt.Errorf("searching message-id: %w", err)
	}

	uids := data.AllUIDs()
	if len(uids) == 0 {
		return Ref{}, false, nil
	}
	return s.ref(uids[len(uids)-1]), true, nil
}

func uidsOf(refs []Ref) []imap.UID {
	uids := make([]imap.UID, len(refs))
	for i, r := range refs {
		uids[i] = imap.UID(r.UID)
	}
	return uids
}
