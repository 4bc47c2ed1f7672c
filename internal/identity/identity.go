// Package identity derives the stable idempotency key of a message.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/nhle/inbox-sync/internal/parse"
)

// Source records which input a key was derived from.
type Source string

const (
	SourceMessageID Source = "mid"
	SourceProvider  Source = "pid"
	SourceComposite Source = "cmp"
)

// Key is a message identity. Value is prefixed with its source so keys
// from different sources can never collide.
type Key struct {
	Value  string
	Source Source
}

func (k Key) String() string { return k.Value }

// Resolve derives the key for n: a well-formed Message-ID, else the
// provider stable id, else a hash over sender, subject and received
// time. The session UID never contributes, so the key survives
// reconnects and UIDVALIDITY changes.
func Resolve(n *parse.Normalized) Key {
	return Derive(n.MessageID, n.ProviderID, n.From, n.Subject, n.ReceivedAt)
}

// Derive applies the key precedence to individual fields. It is used for
// stored rows whose keys predate the source prefixes.
func Derive(messageID, providerID, from, subject string, receivedAt time.Time) Key {
	if id, ok := NormalizeMessageID(messageID); ok {
		return Key{Value: string(SourceMessageID) + ":" + id, Source: SourceMessageID}
	}
	if pid := strings.TrimSpace(providerID); pid != "" {
		return Key{Value: string(SourceProvider) + ":" + pid, Source: SourceProvider}
	}
	return Key{
		Value:  string(SourceComposite) + ":" + Composite(from, subject, receivedAt),
		Source: SourceComposite,
	}
}

// Composite hashes the fallback identity fields. Received time is
// truncated to the second so sub-second jitter between fetches does not
// change the key.
func Composite(from, subject string, receivedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(from))))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(subject)))
	h.Write([]byte{0})
	h.Write([]byte(receivedAt.UTC().Truncate(time.Second).Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeMessageID validates id as local@domain, strips angle brackets
// and lower-cases the domain. Malformed ids report false.
func NormalizeMessageID(id string) (string, bool) {
	id = strings.Trim(strings.TrimSpace(id), "<>")
	if id == "" || strings.ContainsAny(id, " \t\r\n<>") {
		return "", false
	}
	at := strings.LastIndexByte(id, '@')
	if at <= 0 || at == len(id)-1 {
		return "", false
	}
	return id[:at] + "@" + strings.ToLower(id[at+1:]), true
}

// IsDerived reports whether key carries a known source prefix. Keys
// written before prefixes existed report false.
func IsDerived(key string) bool {
	for _, s := range []Source{SourceMessageID, SourceProvider, SourceComposite} {
		if strings.HasPrefix(key, string(s)+":") {
			return true
		}
	}
	return false
}
