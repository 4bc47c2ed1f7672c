// Package parse turns raw RFC 5322 messages into normalized records.
package parse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/inbox-sync/internal/mailbox"
)

// maxPartBytes caps how much of a single text part is read.
const maxPartBytes = 1 << 20

// ParseError reports a message that could not be normalized. The message
// is skipped for this run.
type ParseError struct {
	Ref    mailbox.Ref
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %s: %v", e.Ref, e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err (or any error in its chain) is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Envelope holds the header fields of one message, decoded and validated
// once at the parse boundary.
type Envelope struct {
	// MessageID has its angle brackets removed; empty when absent.
	MessageID  string
	InReplyTo  string
	References []string
	From       string
	To         string
	Subject    string

	// Date is zero when the header is missing or unparsable.
	Date time.Time

	// ProviderID is the first non-empty configured provider header.
	ProviderID string

	// AutoSubmitted is true when Auto-Submitted marks the message as
	// machine generated.
	AutoSubmitted bool
}

// Normalized is a parsed message ready for identity resolution.
type Normalized struct {
	Envelope

	Ref        mailbox.Ref
	Body       string
	ReceivedAt time.Time
	ThreadKey  string
	AutoReply  bool
}

// Parser converts raw messages into Normalized records.
type Parser struct {
	providerHeaders []string
}

// New creates a Parser that consults providerHeaders, in order, for a
// provider-assigned stable id.
func New(providerHeaders []string) *Parser {
	return &Parser{providerHeaders: providerHeaders}
}

// Parse normalizes raw. Received time falls back from the Date header to
// the server arrival time and then to now. A missing stream or an
// unreadable header or body yields a *ParseError.
func (p *Parser) Parse(raw *mailbox.RawMessage, now time.Time) (*Normalized, error) {
	if raw == nil || len(raw.Bytes) == 0 {
		var ref mailbox.Ref
		if raw != nil {
			ref = raw.Ref
		}
		return nil, &ParseError{Ref: ref, Reason: "empty stream", Err: mailbox.ErrMissingStream}
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw.Bytes))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &ParseError{Ref: raw.Ref, Reason: "reading header", Err: err}
	}
	defer mr.Close()

	env := p.envelope(mr.Header)

	body, err := readBody(mr)
	if err != nil {
		return nil, &ParseError{Ref: raw.Ref, Reason: "reading body", Err: err}
	}

	// The Date header is set by the sender. It never moves the received
	// time past the server's arrival stamp, which the checkpoint relies on.
	received := env.Date
	if received.IsZero() || (!raw.InternalDate.IsZero() && received.After(raw.InternalDate)) {
		received = raw.InternalDate
	}
	if received.IsZero() {
		received = now
	}

	return &Normalized{
		Envelope:   env,
		Ref:        raw.Ref,
		Body:       body,
		ReceivedAt: received.UTC(),
		ThreadKey:  ThreadKey(env.InReplyTo, env.References, env.Subject),
		AutoReply:  env.AutoSubmitted || IsAutoReply(env.Subject),
	}, nil
}

func (p *Parser) envelope(h mail.Header) Envelope {
	var env Envelope

	if id, err := h.MessageID(); err == nil && id != "" {
		env.MessageID = id
	} else {
		env.MessageID = trimMsgID(h.Get("Message-Id"))
	}

	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		env.InReplyTo = ids[0]
	} else {
		env.InReplyTo = trimMsgID(h.Get("In-Reply-To"))
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		env.References = refs
	}

	env.From = firstAddress(h, "From")
	env.To = addressList(h, "To")
	if env.To == "" {
		env.To = addressList(h, "Delivered-To")
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	env.Subject = strings.Join(strings.Fields(subject), " ")

	if d, err := h.Date(); err == nil {
		env.Date = d
	}

	for _, key := range p.providerHeaders {
		if v := strings.TrimSpace(h.Get(key)); v != "" {
			env.ProviderID = v
			break
		}
	}

	as := strings.ToLower(strings.TrimSpace(h.Get("Auto-Submitted")))
	env.AutoSubmitted = as != "" && as != "no"

	return env
}

func firstAddress(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return strings.TrimSpace(h.Get(key))
}

func addressList(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(h.Get(key))
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Address
	}
	return strings.Join(out, ", ")
}

// readBody returns the first text/plain part, or the first text/html part
// converted to text when no plain part exists.
func readBody(mr *mail.Reader) (string, error) {
	var plain, htmlBody string
	var havePlain, haveHTML bool

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !(message.IsUnknownCharset(err) && part != nil) {
			if havePlain || haveHTML {
				break
			}
			return "", err
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		if contentType != "text/plain" && contentType != "text/html" {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			return "", err
		}

		switch {
		case contentType == "text/plain" && !havePlain:
			plain, havePlain = string(data), true
		case contentType == "text/html" && !haveHTML:
			htmlBody, haveHTML = string(data), true
		}
	}

	if havePlain && strings.TrimSpace(plain) != "" {
		return strings.TrimSpace(plain), nil
	}
	if haveHTML {
		return htmlToText(htmlBody), nil
	}
	return strings.TrimSpace(plain), nil
}
