package draft

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/inbox-sync/internal/llm"
)

const maxBodyChars = 4000

// LLMGenerator drafts replies with a remote model.
type LLMGenerator struct {
	completer llm.Completer
	business  string
	signature string
	maxTokens int
}

// NewLLMGenerator creates a generator speaking for business. signature,
// when set, names who the reply is written for.
func NewLLMGenerator(c llm.Completer, business, signature string, maxTokens int) *LLMGenerator {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &LLMGenerator{completer: c, business: business, signature: signature, maxTokens: maxTokens}
}

func (g *LLMGenerator) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You draft email replies for %s.", g.business)
	if g.signature != "" {
		fmt.Fprintf(&b, " Write in the voice of %s: professional but friendly.", g.signature)
	}
	b.WriteString(`
- Prioritize inquiries about bookings, follow-ups or service needs.
- If it is about scheduling, offer to set up a time.
- If it is spam or not relevant, answer exactly "no reply needed".
- Be concise. Use only what is in the email.`)
	return b.String()
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (string, error) {
	body := req.Body
	if r := []rune(body); len(r) > maxBodyChars {
		body = string(r[:maxBodyChars])
	}

	out, err := g.completer.Complete(ctx, llm.Request{
		System:      g.systemPrompt(),
		Prompt:      fmt.Sprintf("From: %s\nSubject: %s\nMessage:\n%s\n\nWrite a suggested reply to review.", req.Sender, req.Subject, body),
		MaxTokens:   g.maxTokens,
		Temperature: 0.5,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}
