package testutil

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/inbox-sync/internal/mailbox"
)

// RawEmail is a minimal RFC 5322 message builder for tests. Empty
// messageID omits the header.
type RawEmail struct {
	From      string
	To        string
	Subject   string
	MessageID string
	InReplyTo string
	Date      time.Time
	Body      string
	Headers   map[string]string
}

// Bytes renders the message.
func (r RawEmail) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", r.From)
	if r.To != "" {
		fmt.Fprintf(&b, "To: %s\r\n", r.To)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", r.Subject)
	if !r.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\r\n", r.Date.Format(time.RFC1123Z))
	}
	if r.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", r.MessageID)
	}
	if r.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: <%s>\r\n", r.InReplyTo)
	}
	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, r.Headers[k])
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(r.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// FakeMessage is one message held by a FakeMailbox.
type FakeMessage struct {
	UID          uint32
	InternalDate time.Time
	Raw          []byte
	Seen         bool
}

// FakeMailbox is an in-memory mailbox that satisfies the engine's
// session opener. Failures can be injected per UID.
type FakeMailbox struct {
	mu sync.Mutex

	name        string
	uidValidity uint32
	nextUID     uint32
	messages    []*FakeMessage

	// ConnectErr fails every WithSession call before fn runs.
	ConnectErr error
	// FetchErr fails FetchRaw for the given UIDs.
	FetchErr map[uint32]error
	// MarkSeenErr fails MarkSeen for the given UIDs.
	MarkSeenErr map[uint32]error
	// FetchDelay slows every FetchRaw, honouring the caller's context.
	FetchDelay time.Duration

	sessions int
	fetches  int
}

// NewFakeMailbox creates an empty mailbox named name.
func NewFakeMailbox(name string) *FakeMailbox {
	return &FakeMailbox{
		name:        name,
		uidValidity: 1,
		nextUID:     1,
		FetchErr:    make(map[uint32]error),
		MarkSeenErr: make(map[uint32]error),
	}
}

// Add appends a message and returns its UID.
func (f *FakeMailbox) Add(raw []byte, internalDate time.Time) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	uid := f.nextUID
	f.nextUID++
	f.messages = append(f.messages, &FakeMessage{UID: uid, InternalDate: internalDate, Raw: raw})
	return uid
}

// Renumber assigns fresh UIDs to every message and bumps UIDVALIDITY, as
// a server does after rebuilding its index.
func (f *FakeMailbox) Renumber() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uidValidity++
	f.nextUID += 100
	for _, m := range f.messages {
		m.UID = f.nextUID
		f.nextUID++
	}
}

// MarkAllUnseen clears \Seen on every message.
func (f *FakeMailbox) MarkAllUnseen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		m.Seen = false
	}
}

// Seen reports the \Seen flag of uid.
func (f *FakeMailbox) Seen(uid uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.UID == uid {
			return m.Seen
		}
	}
	return false
}

// Sessions counts opened sessions.
func (f *FakeMailbox) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

// Fetches counts FetchRaw calls.
func (f *FakeMailbox) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// UIDValidity returns the current UIDVALIDITY.
func (f *FakeMailbox) UIDValidity() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uidValidity
}

// Mailbox returns the mailbox name.
func (f *FakeMailbox) Mailbox() string { return f.name }

// WithSession runs fn against a session bound to the current
// UIDVALIDITY.
func (f *FakeMailbox) WithSession(ctx context.Context, timeout time.Duration, fn func(mailbox.Session) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if f.ConnectErr != nil {
		err := f.ConnectErr
		f.mu.Unlock()
		return err
	}
	f.sessions++
	validity := f.uidValidity
	f.mu.Unlock()

	return fn(&fakeSession{box: f, uidValidity: validity})
}

type fakeSession struct {
	box         *FakeMailbox
	uidValidity uint32
}

func (s *fakeSession) Mailbox() string     { return s.box.name }
func (s *fakeSession) UIDValidity() uint32 { return s.uidValidity }

func (s *fakeSession) ref(uid uint32) mailbox.Ref {
	return mailbox.Ref{Mailbox: s.box.name, UIDValidity: s.uidValidity, UID: uid}
}

func (s *fakeSession) find(ref mailbox.Ref) (*FakeMessage, error) {
	if ref.UIDValidity != s.box.uidValidity {
		return nil, fmt.Errorf("uid validity changed")
	}
	for _, m := range s.box.messages {
		if m.UID == ref.UID {
			return m, nil
		}
	}
	return nil, mailbox.ErrNotFound
}

func (s *fakeSession) Search(ctx context.Context, c mailbox.Criteria) ([]mailbox.Ref, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()

	// SEARCH SINCE compares dates only.
	sinceDay := time.Date(c.Since.Year(), c.Since.Month(), c.Since.Day(), 0, 0, 0, 0, time.UTC)

	var refs []mailbox.Ref
	for _, m := range s.box.messages {
		if c.UnseenOnly && m.Seen {
			continue
		}
		if !c.Since.IsZero() && m.InternalDate.Before(sinceDay) {
			continue
		}
		refs = append(refs, s.ref(m.UID))
	}
	return refs, nil
}

func (s *fakeSession) FetchMeta(ctx context.Context, refs []mailbox.Ref) ([]mailbox.Meta, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()

	metas := make([]mailbox.Meta, 0, len(refs))
	for _, r := range refs {
		m, err := s.find(r)
		if err != nil {
			continue
		}
		metas = append(metas, mailbox.Meta{Ref: r, InternalDate: m.InternalDate, Seen: m.Seen})
	}
	return metas, nil
}

func (s *fakeSession) FetchRaw(ctx context.Context, ref mailbox.Ref) (*mailbox.RawMessage, error) {
	if d := s.box.FetchDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.box.mu.Lock()
	defer s.box.mu.Unlock()

	s.box.fetches++
	if err := s.box.FetchErr[ref.UID]; err != nil {
		return nil, err
	}
	m, err := s.find(ref)
	if err != nil {
		return nil, err
	}
	return &mailbox.RawMessage{Ref: ref, InternalDate: m.InternalDate, Bytes: bytes.Clone(m.Raw)}, nil
}

func (s *fakeSession) MarkSeen(ctx context.Context, ref mailbox.Ref) error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()

	if err := s.box.MarkSeenErr[ref.UID]; err != nil {
		return err
	}
	m, err := s.find(ref)
	if err != nil {
		return err
	}
	m.Seen = true
	return nil
}

func (s *fakeSession) FindByMessageID(ctx context.Context, messageID string) (mailbox.Ref, bool, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()

	want := strings.Trim(messageID, "<>")
	for _, m := range s.box.messages {
		mr, err := mail.CreateReader(bytes.NewReader(m.Raw))
		if err != nil {
			continue
		}
		id, err := mr.Header.MessageID()
		_ = mr.Close()
		if err == nil && id == want {
			return s.ref(m.UID), true, nil
		}
	}
	return mailbox.Ref{}, false, nil
}
