// Package llm provides text completion against remote language models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Request is one single-turn completion.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer returns the model's text answer for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty model response")

// APIError is a non-success answer from a model endpoint.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
}

// Options configures a Completer built by New.
type Options struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	Region    string
	MaxTokens int
}

// New builds the Completer for opts.Provider. An empty provider returns
// nil, meaning remote calls are disabled.
func New(ctx context.Context, opts Options) (Completer, error) {
	switch opts.Provider {
	case "":
		return nil, nil
	case "anthropic":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropic(opts.APIKey, opts.Model, opts.BaseURL, &http.Client{}), nil
	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAI(opts.APIKey, opts.Model, opts.BaseURL, &http.Client{}), nil
	case "bedrock":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return NewBedrock(bedrockruntime.NewFromConfig(awsCfg), opts.Model), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", opts.Provider)
}

// WithTimeout bounds every call to c by d.
func WithTimeout(c Completer, d time.Duration) Completer {
	if c == nil || d <= 0 {
		return c
	}
	return timeoutCompleter{next: c, timeout: d}
}

type timeoutCompleter struct {
	next    Completer
	timeout time.Duration
}

func (t timeoutCompleter) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, req)
}
