// Client - retrying wrapper around providers.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxAttempts bounds how many times a single completion is tried.
const DefaultMaxAttempts = 3

// Client wraps a Provider with retry on transient failures. Every attempt
// against the underlying provider, successful or not, is reported through
// the OnAttempt hook before the call is made.
type Client struct {
	provider    Provider
	maxAttempts int

	// OnAttempt, if set, is invoked once per provider attempt.
	OnAttempt func()
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider, maxAttempts: DefaultMaxAttempts}
}

// NewClientWithAttempts creates a client with a custom attempt limit.
// attempts below 1 are clamped to 1.
func NewClientWithAttempts(provider Provider, attempts int) *Client {
	if attempts < 1 {
		attempts = 1
	}
	return &Client{provider: provider, maxAttempts: attempts}
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// WithAttemptHook returns a copy of the client whose attempts are reported
// through fn. The receiver is left untouched, so one client can serve
// concurrent callers that each need their own counter.
func (c *Client) WithAttemptHook(fn func()) *Client {
	cp := *c
	cp.OnAttempt = fn
	return &cp
}

// Chat sends a completion request and returns just the content.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	completion, err := c.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

// Complete sends a completion request, retrying transient failures with
// exponential backoff.
func (c *Client) Complete(ctx context.Context, messages []Message) (Completion, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if c.OnAttempt != nil {
			c.OnAttempt()
		}

		completion, err := c.provider.Complete(ctx, messages)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Completion{}, ctx.Err()
		}
		if !isTransient(err) {
			return Completion{}, err
		}
	}

	return Completion{}, fmt.Errorf("%s completion failed after %d attempts: %w",
		c.provider.Name(), c.maxAttempts, lastErr)
}

// calculateBackoff returns the backoff duration for the given attempt.
func calculateBackoff(attempt int) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// isTransient determines if an error is worth retrying.
func isTransient(err error) bool {
	errLower := strings.ToLower(err.Error())

	// Auth and request-shape failures never heal on retry
	nonRetryable := []string{"invalid api key", "unauthorized", "authentication", "not found", "invalid request"}
	for _, s := range nonRetryable {
		if strings.Contains(errLower, s) {
			return false
		}
	}

	retryable := []string{"timeout", "connection", "network", "rate limit", "429", "500", "502", "503", "overloaded"}
	for _, s := range retryable {
		if strings.Contains(errLower, s) {
			return true
		}
	}

	return false
}
