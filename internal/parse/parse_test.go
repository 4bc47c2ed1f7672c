package parse_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/mailbox"
	"github.com/nhle/inbox-sync/internal/parse"
)

var testRef = mailbox.Ref{Mailbox: "INBOX", UIDValidity: 3, UID: 42}

func raw(lines ...string) *mailbox.RawMessage {
	return &mailbox.RawMessage{
		Ref:   testRef,
		Bytes: []byte(strings.Join(lines, "\r\n")),
	}
}

func TestParse_PlainText(t *testing.T) {
	p := parse.New([]string{"X-Provider-Id"})
	msg := raw(
		"From: Jane Doe <Jane@Example.net>",
		"To: shop@example.com, owner@example.com",
		"Subject: =?UTF-8?Q?Quote_for_caf=C3=A9?=",
		"Message-ID: <abc123@example.net>",
		"In-Reply-To: <root@example.com>",
		"References: <first@example.com> <root@example.com>",
		"Date: Tue, 13 Oct 2026 10:15:00 +0200",
		"X-Provider-Id: prov-1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"  How much for a hull cleaning?  ",
	)

	n, err := p.Parse(msg, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "abc123@example.net", n.MessageID)
	assert.Equal(t, "Jane@Example.net", n.From)
	assert.Equal(t, "shop@example.com, owner@example.com", n.To)
	assert.Equal(t, "Quote for café", n.Subject)
	assert.Equal(t, "root@example.com", n.InReplyTo)
	assert.Equal(t, []string{"first@example.com", "root@example.com"}, n.References)
	assert.Equal(t, "prov-1", n.ProviderID)
	assert.Equal(t, "How much for a hull cleaning?", n.Body)
	assert.Equal(t, time.Date(2026, 10, 13, 8, 15, 0, 0, time.UTC), n.ReceivedAt)
	assert.Equal(t, "root@example.com", n.ThreadKey)
	assert.Equal(t, testRef, n.Ref)
	assert.False(t, n.AutoReply)
}

func TestParse_HTMLFallback(t *testing.T) {
	msg := raw(
		"From: a@example.net",
		"Subject: Booking",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><head><style>p{color:red}</style></head><body><p>Can I <b>book</b> Friday?</p><script>x()</script><div>Thanks &amp; regards</div></body></html>",
		"--b1--",
		"",
	)

	n, err := parse.New(nil).Parse(msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Can I book Friday?\nThanks & regards", n.Body)
}

func TestParse_PrefersPlainOverHTML(t *testing.T) {
	msg := raw(
		"From: a@example.net",
		"Subject: Hi",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain version",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html version</p>",
		"--b1--",
		"",
	)

	n, err := parse.New(nil).Parse(msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "plain version", n.Body)
}

func TestParse_ReceivedAtFallbacks(t *testing.T) {
	internal := time.Date(2026, 10, 10, 7, 0, 0, 0, time.UTC)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	noDate := raw("From: a@example.net", "Subject: x", "", "body")
	noDate.InternalDate = internal
	n, err := parse.New(nil).Parse(noDate, now)
	require.NoError(t, err)
	assert.Equal(t, internal, n.ReceivedAt)

	n, err = parse.New(nil).Parse(raw("From: a@example.net", "Subject: x", "", "body"), now)
	require.NoError(t, err)
	assert.Equal(t, now, n.ReceivedAt)
}

func TestParse_ReceivedAtNeverAfterArrival(t *testing.T) {
	arrived := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	now := arrived.Add(time.Hour)

	tests := []struct {
		name string
		date string
		want time.Time
	}{
		{"sender clock fast", "Sun, 18 Oct 2026 10:03:00 +0000", arrived},
		{"ordinary delivery delay", "Sun, 18 Oct 2026 08:55:00 +0000", arrived.Add(-5 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := raw("From: a@example.net", "Date: "+tt.date, "Subject: x", "", "body")
			msg.InternalDate = arrived
			n, err := parse.New(nil).Parse(msg, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.ReceivedAt)
		})
	}
}

func TestParse_DeliveredToFallback(t *testing.T) {
	n, err := parse.New(nil).Parse(raw(
		"From: a@example.net",
		"Delivered-To: shop@example.com",
		"Subject: x",
		"",
		"body",
	), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "shop@example.com", n.To)
}

func TestParse_AutoReply(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"bounce subject", []string{"From: mailer-daemon@example.com", "Subject: Mail Delivery Subsystem failure", "", "x"}},
		{"out of office", []string{"From: a@example.net", "Subject: Out of Office: back Monday", "", "x"}},
		{"auto-submitted header", []string{"From: a@example.net", "Subject: Re: quote", "Auto-Submitted: auto-replied", "", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := parse.New(nil).Parse(raw(tt.lines...), time.Now())
			require.NoError(t, err)
			assert.True(t, n.AutoReply)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := parse.New(nil).Parse(&mailbox.RawMessage{Ref: testRef}, time.Now())
	require.Error(t, err)
	assert.True(t, parse.IsParseError(err))
	assert.ErrorIs(t, err, mailbox.ErrMissingStream)

	_, err = parse.New(nil).Parse(nil, time.Now())
	assert.True(t, parse.IsParseError(err))

	corrupt := raw(
		"From: a@example.net",
		"Subject: x",
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: base64",
		"",
		"!!!! not base64 !!!!",
	)
	_, err = parse.New(nil).Parse(corrupt, time.Now())
	require.Error(t, err)
	assert.True(t, parse.IsParseError(err))
}

func TestParse_MissingMessageID(t *testing.T) {
	n, err := parse.New(nil).Parse(raw("From: a@example.net", "Subject: Hello", "", "body"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, n.MessageID)
	assert.Equal(t, "hello", n.ThreadKey)
}
