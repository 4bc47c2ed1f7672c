package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Direction records which way a stored message travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Intent is the coarse purpose assigned to an inbound message.
type Intent string

const (
	IntentUnsubscribe     Intent = "unsubscribe"
	IntentBookService     Intent = "book_service"
	IntentPriceQuestion   Intent = "price_question"
	IntentReschedule      Intent = "reschedule"
	IntentWrongContact    Intent = "wrong_contact"
	IntentAck             Intent = "ack"
	IntentGeneralQuestion Intent = "general_question"
)

// Intents lists every known intent in display order.
var Intents = []Intent{
	IntentUnsubscribe,
	IntentBookService,
	IntentPriceQuestion,
	IntentReschedule,
	IntentWrongContact,
	IntentAck,
	IntentGeneralQuestion,
}

// ParseIntent converts s into a known Intent.
func ParseIntent(s string) (Intent, bool) {
	for _, in := range Intents {
		if string(in) == s {
			return in, true
		}
	}
	return "", false
}

// Status tracks where a stored message is in its lifecycle.
type Status string

const (
	StatusNew         Status = "new"
	StatusHandled     Status = "handled"
	StatusSkippedAuto Status = "skipped_auto"
	StatusDuplicate   Status = "duplicate"
	StatusError       Status = "error"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusHandled, StatusSkippedAuto, StatusDuplicate, StatusError:
		return true
	}
	return false
}

// CanAdvance reports whether a message in status from may move to status to.
// Only new messages move, and only into a terminal status.
func CanAdvance(from, to Status) bool {
	return from == StatusNew && to.Terminal()
}

// Importance is a tri-state flag: a message is important, not important,
// or has not been classified yet. It maps to a nullable integer column.
type Importance int8

const (
	ImportanceUnknown Importance = iota
	ImportanceFalse
	ImportanceTrue
)

// ImportanceOf converts a classifier verdict into an Importance.
func ImportanceOf(important bool) Importance {
	if important {
		return ImportanceTrue
	}
	return ImportanceFalse
}

// Known reports whether the message has been classified.
func (i Importance) Known() bool { return i != ImportanceUnknown }

// Bool returns the verdict; false for unknown.
func (i Importance) Bool() bool { return i == ImportanceTrue }

func (i Importance) String() string {
	switch i {
	case ImportanceTrue:
		return "true"
	case ImportanceFalse:
		return "false"
	}
	return "unknown"
}

// Value implements driver.Valuer.
func (i Importance) Value() (driver.Value, error) {
	switch i {
	case ImportanceTrue:
		return int64(1), nil
	case ImportanceFalse:
		return int64(0), nil
	}
	return nil, nil
}

// Scan implements sql.Scanner.
func (i *Importance) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = ImportanceUnknown
	case int64:
		*i = ImportanceOf(v != 0)
	case bool:
		*i = ImportanceOf(v)
	default:
		return fmt.Errorf("scanning importance from %T", src)
	}
	return nil
}

// Classification sources.
const (
	ViaHeuristic = "heuristic"
	ViaRemote    = "remote"
)

// InboundMessage is one stored message. IdentityKey is the only identity;
// the remote fields are a refetch hint that is valid only while the
// mailbox keeps the same UIDVALIDITY.
type InboundMessage struct {
	IdentityKey       string     `db:"identity_key" json:"identity_key"`
	RemoteMailbox     string     `db:"remote_mailbox" json:"remote_mailbox"`
	RemoteUIDValidity uint32     `db:"remote_uid_validity" json:"-"`
	RemoteUID         uint32     `db:"remote_uid" json:"-"`
	MessageID         string     `db:"message_id" json:"message_id,omitempty"`
	FromAddr          string     `db:"from_addr" json:"from"`
	ToAddr            string     `db:"to_addr" json:"to"`
	Subject           string     `db:"subject" json:"subject"`
	Body              string     `db:"body" json:"-"`
	BodyLoaded        bool       `db:"body_loaded" json:"-"`
	ReceivedAt        time.Time  `db:"received_at" json:"received_at"`
	Direction         Direction  `db:"direction" json:"direction"`
	Intent            Intent     `db:"intent" json:"intent"`
	Important         Importance `db:"important" json:"-"`
	ImportanceReason  string     `db:"importance_reason" json:"importance_reason,omitempty"`
	ClassifiedVia     string     `db:"classified_via" json:"classified_via,omitempty"`
	ThreadKey         string     `db:"thread_key" json:"thread_key"`
	InReplyTo         string     `db:"in_reply_to" json:"in_reply_to,omitempty"`
	References        string     `db:"msg_references" json:"-"`
	DraftReply        *string    `db:"draft_reply" json:"draft_reply,omitempty"`
	DraftUpdatedAt    *time.Time `db:"draft_updated_at" json:"draft_updated_at,omitempty"`
	Status            Status     `db:"status" json:"status"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// ImportantJSON renders the tri-state for API responses: nil when unknown.
func (m InboundMessage) ImportantJSON() *bool {
	if !m.Important.Known() {
		return nil
	}
	v := m.Important.Bool()
	return &v
}
