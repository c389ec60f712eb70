// Package llm streams review critiques from the Anthropic Messages API.
// It is an alternative backend to the local Ollama endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/guardian/internal/models"
)

const (
	DefaultModel     = "claude-haiku-4-5-20251001"
	DefaultTimeout   = 120 * time.Second
	defaultMaxTokens = 4096
)

// Client wraps the Anthropic API for streamed reviews.
type Client struct {
	api     *anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

// NewClient creates an LLM client with the given API key and model.
// Extra request options (base URL, retries) are passed to the SDK.
func NewClient(apiKey, model string, timeout time.Duration, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:     &client,
		model:   anthropic.Model(model),
		timeout: timeout,
	}
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return string(c.model) }

// Stream sends prompt as a single user message and yields text deltas as
// they arrive. Failures end the sequence with one terminal fragment.
func (c *Client) Stream(ctx context.Context, prompt string) iter.Seq[models.Fragment] {
	return func(yield func(models.Fragment) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		stream := c.api.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: defaultMaxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		defer func() { _ = stream.Close() }()

		received := false
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			received = true
			if !yield(models.Fragment{Text: text.Text}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			yield(c.classify(ctx, err))
			return
		}
		if !received {
			yield(models.Fragment{
				Failure: models.FailureEmpty,
				Text:    fmt.Sprintf("\nError: no response received from %s.\n", c.model),
			})
		}
	}
}

func (c *Client) classify(ctx context.Context, err error) models.Fragment {
	var apiErr *anthropic.Error
	var opErr *net.OpError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return models.Fragment{
			Failure: models.FailureTimeout,
			Text:    fmt.Sprintf("\nError: Anthropic request timed out (%s).\n", c.timeout),
		}
	case errors.As(err, &apiErr):
		return models.Fragment{
			Failure: models.FailureTransport,
			Text:    fmt.Sprintf("\nError: Anthropic API returned HTTP %d: %v\n", apiErr.StatusCode, err),
		}
	case errors.Is(err, syscall.ECONNREFUSED), errors.As(err, &opErr) && opErr.Op == "dial":
		return models.Fragment{
			Failure: models.FailureRefused,
			Text:    fmt.Sprintf("\nError: cannot connect to the Anthropic API: %v\n", err),
		}
	}
	return models.Fragment{
		Failure: models.FailureTransport,
		Text:    fmt.Sprintf("\nError: Anthropic request failed: %v\n", err),
	}
}
