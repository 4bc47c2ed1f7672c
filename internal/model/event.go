package model

import "time"

// EventType identifies an entry in the append-only audit log.
type EventType string

const (
	EventReply       EventType = "reply"
	EventUnsubscribe EventType = "unsubscribe"
	EventClassified  EventType = "classified"
	EventSkippedAuto EventType = "skipped_auto"
)

// Event is one audit log entry. Events never participate in identity.
type Event struct {
	ID          string    `db:"id" json:"id"`
	Type        EventType `db:"type" json:"type"`
	IdentityKey string    `db:"identity_key" json:"identity_key"`
	Payload     string    `db:"payload" json:"payload"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ErrorClass names a category in the sync error taxonomy.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassConnection  ErrorClass = "connection"
	ClassTransient   ErrorClass = "transient"
	ClassClassifier  ErrorClass = "classifier"
	ClassConflict    ErrorClass = "conflict"
	ClassSchemaDrift ErrorClass = "schema_drift"
	ClassCanceled    ErrorClass = "canceled"
	ClassBudget      ErrorClass = "budget_exceeded"
)

// RunSummary is what a sync invocation reports back to its trigger.
// It carries counts and an error class, never raw protocol text.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Mailbox        string        `json:"mailbox"`
	Processed      int           `json:"processed"`
	Skipped        int           `json:"skipped"`
	Duplicates     int           `json:"duplicates"`
	Classified     int           `json:"classified"`
	Since          time.Time     `json:"since"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
	Throttled      bool          `json:"throttled"`
	Aborted        bool          `json:"aborted"`
	LastErrorClass ErrorClass    `json:"last_error_class,omitempty"`
}
