package parse

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// replyPrefix matches any run of leading reply/forward markers.
var replyPrefix = regexp.MustCompile(`(?i)^(\s*(re|fwd|fw)\s*:\s*)+`)

var (
	// autoReplySubject matches vacation responder subjects anywhere.
	autoReplySubject = regexp.MustCompile(`(?i)(auto-?reply|automatic reply|out of (the )?office)`)

	// bounceSubject matches bounce generator subjects. They lead the
	// subject, so customer mail that merely mentions delivery is kept.
	bounceSubject = regexp.MustCompile(
		`(?i)^\s*(delivery status notification|mail delivery (failed|failure|subsystem)|undeliverable( mail)?\s*:|returned mail\s*:)`,
	)
)

// ThreadKey groups messages into conversations. In-Reply-To wins, then
// the last References entry, then the normalized subject.
func ThreadKey(inReplyTo string, references []string, subject string) string {
	if id := trimMsgID(inReplyTo); id != "" {
		return id
	}
	for i := len(references) - 1; i >= 0; i-- {
		if id := trimMsgID(references[i]); id != "" {
			return id
		}
	}
	return NormalizeSubject(subject)
}

// NormalizeSubject strips leading reply/forward prefixes, collapses
// whitespace and lower-cases the result, so "Re: Re: Quote", "RE:Quote"
// and "Quote" all yield "quote".
func NormalizeSubject(subject string) string {
	s := norm.NFKC.String(subject)
	s = replyPrefix.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// IsAutoReply reports whether subject looks machine generated.
func IsAutoReply(subject string) bool {
	return autoReplySubject.MatchString(subject) || bounceSubject.MatchString(subject)
}

func trimMsgID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
