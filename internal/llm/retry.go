package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Default backoff parameters for the retrying client.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// OnRetryFunc is invoked before each backoff sleep with the zero-based
// attempt index and the computed delay. It is instrumentation only and
// must not affect control flow.
type OnRetryFunc func(attempt int, delay time.Duration)

// RetryOption configures a RetryingClient.
type RetryOption func(*RetryingClient)

// WithMaxRetries sets the number of additional attempts after the
// first failure. Total attempts = maxRetries + 1.
func WithMaxRetries(n int) RetryOption {
	return func(c *RetryingClient) { c.maxRetries = n }
}

// WithBaseDelay sets the delay before the first retry. It doubles on
// each subsequent retry.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *RetryingClient) { c.baseDelay = d }
}

// WithMaxDelay caps the exponential backoff.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(c *RetryingClient) { c.maxDelay = d }
}

// WithOnRetry registers an observer called before each backoff sleep.
func WithOnRetry(fn OnRetryFunc) RetryOption {
	return func(c *RetryingClient) { c.onRetry = fn }
}

// WithRetryLogger sets the logger for retry warnings.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(c *RetryingClient) { c.logger = l }
}

// withSleep overrides the sleep function. Test hook.
func withSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(c *RetryingClient) { c.sleep = fn }
}

// RetryingClient wraps a Client and retries Chat on HTTP 429 with
// exponential backoff. All other failures propagate immediately.
//
// Streaming requests are delegated without retry: once a streamed
// response begins it is stateful and partially consumed, so replaying
// it could duplicate or corrupt output.
//
// The inner client is resolved lazily on first use so that credential
// validation performed during resolution is deferred until an actual
// request is attempted. This allows wiring the agent before credentials
// are known to be valid.
type RetryingClient struct {
	resolve func() (Client, error)

	mu    sync.Mutex
	inner Client

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	onRetry    OnRetryFunc
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// NewRetryingClient wraps the client produced by resolve with 429
// backoff. resolve is called at most once, on the first request.
func NewRetryingClient(resolve func() (Client, error), opts ...RetryOption) *RetryingClient {
	c := &RetryingClient{
		resolve:    resolve,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		sleep:      sleepCtx,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Wrap is a convenience constructor for an already-resolved client.
func Wrap(inner Client, opts ...RetryOption) *RetryingClient {
	return NewRetryingClient(func() (Client, error) { return inner, nil }, opts...)
}

// client returns the inner client, resolving it on first call.
func (c *RetryingClient) client() (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		inner, err := c.resolve()
		if err != nil {
			return nil, err
		}
		c.inner = inner
	}
	return c.inner, nil
}

// Chat sends a chat request, retrying on 429 up to maxRetries times.
// The delay starts at baseDelay and doubles after each retry, capped
// at maxDelay. Non-429 errors and exhausted retries propagate the
// inner client's error unchanged.
func (c *RetryingClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	inner, err := c.client()
	if err != nil {
		return nil, err
	}

	delay := c.baseDelay
	for attempt := 0; ; attempt++ {
		resp, err := inner.Chat(ctx, model, messages, tools)
		if err == nil {
			return resp, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRateLimited() || attempt >= c.maxRetries {
			return nil, err
		}

		c.logger.Warn("rate limited, backing off",
			"attempt", attempt+1,
			"max_attempts", c.maxRetries+1,
			"delay", delay,
		)
		if c.onRetry != nil {
			c.onRetry(attempt, delay)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = min(delay*2, c.maxDelay)
	}
}

// ChatStream delegates directly to the inner client. No retry: a
// partially consumed stream cannot be safely replayed.
func (c *RetryingClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	inner, err := c.client()
	if err != nil {
		return nil, err
	}
	return inner.ChatStream(ctx, model, messages, tools, callback)
}

// Ping delegates to the inner client.
func (c *RetryingClient) Ping(ctx context.Context) error {
	inner, err := c.client()
	if err != nil {
		return err
	}
	return inner.Ping(ctx)
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
