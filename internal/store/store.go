package store

import (
	"context"
	"time"

	"github.com/nhle/inbox-sync/internal/model"
)

// ListFilter controls paging for message listings.
type ListFilter struct {
	Mailbox     string
	IncludeAuto bool
	Limit       int
	Offset      int
}

// Classification is the verdict written back for a message.
type Classification struct {
	Intent    model.Intent
	Important bool
	Reason    string
	Via       string
}

// Draft is a cached reply draft.
type Draft struct {
	Text      string
	UpdatedAt time.Time
}

// Store defines the persistence interface for synced messages, their
// derived data, the audit log and the run leases.
type Store interface {
	// === Messages ===

	Insert(ctx context.Context, m *model.InboundMessage) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*model.InboundMessage, error)
	List(ctx context.Context, f ListFilter) ([]model.InboundMessage, error)
	Count(ctx context.Context, f ListFilter) (int, error)
	IntentCounts(ctx context.Context) (map[model.Intent]int, error)
	LatestReceivedAt(ctx context.Context, mailbox string) (time.Time, bool, error)
	AdvanceStatus(ctx context.Context, key string, to model.Status) (bool, error)

	// === Derived data ===

	SetClassification(ctx context.Context, key string, c Classification) error
	UnclassifiedKeys(ctx context.Context, limit int) ([]string, error)
	LoadBody(ctx context.Context, key string) (string, bool, error)
	SaveBody(ctx context.Context, key, body string) error
	LoadDraft(ctx context.Context, key string) (*Draft, error)
	SaveDraft(ctx context.Context, key, text string, at time.Time) error

	// === Legacy keys ===

	LegacyMessages(ctx context.Context, limit int) ([]model.InboundMessage, error)
	Rekey(ctx context.Context, oldKey, newKey string) error

	// === Audit log ===

	AppendEvent(ctx context.Context, e model.Event) error
	ListEvents(ctx context.Context, key string) ([]model.Event, error)

	// === Run leases ===

	AcquireLease(ctx context.Context, mailbox, owner string, now time.Time, minInterval, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, mailbox, owner string, now time.Time) error
}
