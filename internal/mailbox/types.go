package mailbox

import (
	"context"
	"fmt"
	"time"
)

// Ref addresses a message inside one selected mailbox. A Ref is only
// meaningful while the mailbox reports the same UIDValidity; it is a
// refetch hint and never an identity.
type Ref struct {
	Mailbox     string
	UIDValidity uint32
	UID         uint32
}

func (r Ref) String() string {
	return fmt.Sprintf("%s;UIDVALIDITY=%d;UID=%d", r.Mailbox, r.UIDValidity, r.UID)
}

// Criteria selects candidate messages on the server.
type Criteria struct {
	// Since is a lower bound on the message date. IMAP compares whole days,
	// so callers filter Meta.InternalDate for finer precision.
	Since time.Time

	// UnseenOnly restricts the search to messages without \Seen.
	UnseenOnly bool
}

// Meta is the cheap per-message metadata used for planning.
type Meta struct {
	Ref          Ref
	InternalDate time.Time
	Seen         bool
}

// RawMessage is the full RFC 5322 content of a message plus the server's
// arrival time.
type RawMessage struct {
	Ref          Ref
	InternalDate time.Time
	Bytes        []byte
}

// Session is an authenticated connection with exactly one selected mailbox.
// A Session is valid only inside the callback passed to WithSession.
type Session interface {
	Mailbox() string
	UIDValidity() uint32
	Search(ctx context.Context, c Criteria) ([]Ref, error)
	FetchMeta(ctx context.Context, refs []Ref) ([]Meta, error)
	FetchRaw(ctx context.Context, ref Ref) (*RawMessage, error)
	MarkSeen(ctx context.Context, ref Ref) error
	FindByMessageID(ctx context.Context, messageID string) (Ref, bool, error)
}
