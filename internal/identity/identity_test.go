package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/inbox-sync/internal/identity"
	"github.com/nhle/inbox-sync/internal/mailbox"
	"github.com/nhle/inbox-sync/internal/parse"
)

func normalized(messageID, providerID, from, subject string, at time.Time, ref mailbox.Ref) *parse.Normalized {
	return &parse.Normalized{
		Envelope: parse.Envelope{
			MessageID:  messageID,
			ProviderID: providerID,
			From:       from,
			Subject:    subject,
		},
		ReceivedAt: at,
		Ref:        ref,
	}
}

func TestResolve_Precedence(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		messageID  string
		providerID string
		wantSource identity.Source
		wantValue  string
	}{
		{"message id", "<Abc@Example.NET>", "prov-1", identity.SourceMessageID, "mid:Abc@example.net"},
		{"malformed message id falls to provider", "not an id", "prov-1", identity.SourceProvider, "pid:prov-1"},
		{"missing everything uses composite", "", "", identity.SourceComposite, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := identity.Resolve(normalized(tt.messageID, tt.providerID, "a@example.net", "Quote", at, mailbox.Ref{}))
			assert.Equal(t, tt.wantSource, k.Source)
			if tt.wantValue != "" {
				assert.Equal(t, tt.wantValue, k.Value)
			} else {
				assert.True(t, strings.HasPrefix(k.Value, "cmp:"))
			}
		})
	}
}

func TestResolve_StableAcrossReconnect(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	first := mailbox.Ref{Mailbox: "INBOX", UIDValidity: 100, UID: 5}
	second := mailbox.Ref{Mailbox: "INBOX", UIDValidity: 200, UID: 77}

	for _, mid := range []string{"<abc@example.net>", ""} {
		a := identity.Resolve(normalized(mid, "", "A@Example.net", "Quote", at, first))
		b := identity.Resolve(normalized(mid, "", "a@example.net", "Quote", at.Add(400*time.Millisecond), second))
		assert.Equal(t, a, b, "message id %q", mid)
	}
}

func TestComposite_DiffersOnFields(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	base := identity.Composite("a@example.net", "Quote", at)

	assert.NotEqual(t, base, identity.Composite("b@example.net", "Quote", at))
	assert.NotEqual(t, base, identity.Composite("a@example.net", "Quote 2", at))
	assert.NotEqual(t, base, identity.Composite("a@example.net", "Quote", at.Add(time.Second)))
	assert.NotEqual(t, identity.Composite("ab", "c", at), identity.Composite("a", "bc", at))
}

func TestNormalizeMessageID(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"<x@Y.com>", "x@y.com", true},
		{" Local.Part@host ", "Local.Part@host", true},
		{"", "", false},
		{"no-at-sign", "", false},
		{"@host", "", false},
		{"user@", "", false},
		{"has space@host", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := identity.NormalizeMessageID(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsDerived(t *testing.T) {
	assert.True(t, identity.IsDerived("mid:a@b"))
	assert.True(t, identity.IsDerived("cmp:abcd"))
	assert.False(t, identity.IsDerived("a@b"))
	assert.False(t, identity.IsDerived("INBOX:42"))
}

func TestDerive_MatchesResolve(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n := &parse.Normalized{
		Envelope:   parse.Envelope{From: "ana@example.com", Subject: "Quote"},
		ReceivedAt: at,
	}

	assert.Equal(t, identity.Resolve(n), identity.Derive("", "", "ana@example.com", "Quote", at))
	assert.Equal(t, "mid:x@example.com", identity.Derive("<x@EXAMPLE.com>", "", "", "", time.Time{}).Value)
}
