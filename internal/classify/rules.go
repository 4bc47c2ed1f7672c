package classify

import (
	"regexp"
	"strings"

	"github.com/nhle/inbox-sync/internal/model"
)

type intentRule struct {
	intent  model.Intent
	pattern *regexp.Regexp
}

// intentRules is evaluated top to bottom and the first match wins.
// reschedule precedes book_service because every reschedule request also
// mentions booking words.
var intentRules = []intentRule{
	{model.IntentUnsubscribe, regexp.MustCompile(`(?i)\b(stop|unsubscribe|remove me|opt[- ]?out|no longer)\b`)},
	{model.IntentReschedule, regexp.MustCompile(`(?i)\b(re-?schedule|re-?book|different time|another day|push (it )?back)\b`)},
	{model.IntentBookService, regexp.MustCompile(`(?i)\b(schedule|book|booking|appointment|available|availability|slot)\b`)},
	{model.IntentPriceQuestion, regexp.MustCompile(`(?i)\b(price|pricing|cost|costs|quote|estimate)\b`)},
	{model.IntentWrongContact, regexp.MustCompile(`(?i)\b(wrong (number|person|email)|not me|who is this)\b`)},
	{model.IntentAck, regexp.MustCompile(`(?i)\b(thank|thanks|thank you|appreciate)\b`)},
}

// MatchIntent returns the intent of the first rule matching text, or
// general_question when none does.
func MatchIntent(text string) model.Intent {
	for _, r := range intentRules {
		if r.pattern.MatchString(text) {
			return r.intent
		}
	}
	return model.IntentGeneralQuestion
}

// importanceKeywords raise the importance score when present.
var importanceKeywords = []string{
	"urgent", "asap", "immediately", "quote", "estimate", "invoice",
	"payment", "schedule", "booking", "install", "service", "warranty",
	"support", "callback",
}

const (
	subjectWeight = 2
	bodyWeight    = 1
	senderWeight  = 1
)

// score returns the importance score and the keywords that produced it.
// Subject hits weigh more than body hits; each keyword counts once per
// field. A configured sender domain adds one more point.
func score(in Input, importantSenders []string) (int, []string) {
	subject := strings.ToLower(in.Subject)
	body := strings.ToLower(in.Body)

	total := 0
	var hits []string
	for _, kw := range importanceKeywords {
		matched := false
		if strings.Contains(subject, kw) {
			total += subjectWeight
			matched = true
		}
		if strings.Contains(body, kw) {
			total += bodyWeight
			matched = true
		}
		if matched {
			hits = append(hits, kw)
		}
	}

	from := strings.ToLower(in.From)
	for _, s := range importantSenders {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && strings.Contains(from, s) {
			total += senderWeight
			hits = append(hits, "sender:"+s)
			break
		}
	}

	return total, hits
}
