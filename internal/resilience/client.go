package resilience

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// AttemptObserver is called once per physical attempt, including retries.
// Exactly one of resp and err is non-nil.
type AttemptObserver func(req *http.Request, resp *http.Response, err error)

// Client is a long-lived, connection-pooled HTTP client that transparently
// retries transient failures. It is safe for concurrent use and should be
// created once per process.
type Client struct {
	retrying *retryablehttp.Client
	standard *http.Client
	policy   Policy
}

type clientOptions struct {
	policy    Policy
	logger    *slog.Logger
	timeout   time.Duration
	transport http.RoundTripper
	observer  AttemptObserver
}

// Option configures a Client.
type Option func(*clientOptions)

// WithPolicy sets the retry policy. The default is DefaultPolicy().
func WithPolicy(policy Policy) Option {
	return func(o *clientOptions) {
		o.policy = policy
	}
}

// WithLogger sets the logger used for per-attempt debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithTimeout bounds each individual attempt. Zero disables the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// WithTransport replaces the pooled transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

// WithAttemptObserver registers a callback invoked after every attempt.
func WithAttemptObserver(fn AttemptObserver) Option {
	return func(o *clientOptions) {
		o.observer = fn
	}
}

// NewClient builds a retrying client. With no options it uses DefaultPolicy
// over a pooled transport serving both http and https.
func NewClient(opts ...Option) (*Client, error) {
	o := &clientOptions{
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	transport := o.transport
	if transport == nil {
		transport = newPooledTransport()
	}
	if o.observer != nil {
		transport = &observedTransport{next: transport, observe: o.observer}
	}

	policy := o.policy
	rc := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   o.timeout,
		},
		RetryMax:     policy.MaxAttempts - 1,
		RetryWaitMin: policy.BackoffBase,
		RetryWaitMax: policy.MaxBackoff,
		CheckRetry:   policy.CheckRetry,
		Backoff:      policy.Backoff,
		// Surface the last response or error once attempts are exhausted.
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	if o.logger != nil {
		rc.Logger = o.logger
	}

	return &Client{
		retrying: rc,
		standard: rc.StandardClient(),
		policy:   policy,
	}, nil
}

// Do sends req, retrying per the policy. The request body is buffered so it can be replayed.
// On exhaustion the last response (with its body unread) or the last error is returned.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("prepare retryable request: %w", err)
	}
	return c.retrying.Do(rreq)
}

// StandardClient returns an *http.Client whose transport applies the same retry policy.
func (c *Client) StandardClient() *http.Client {
	return c.standard
}

// Policy returns the retry policy in effect.
func (c *Client) Policy() Policy {
	return c.policy
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.retrying.HTTPClient.CloseIdleConnections()
}

func newPooledTransport() *http.Transport {
	t := cleanhttp.DefaultPooledTransport()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 10
	t.IdleConnTimeout = 90 * time.Second
	return t
}

type observedTransport struct {
	next    http.RoundTripper
	observe AttemptObserver
}

func (t *observedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	t.observe(req, resp, err)
	return resp, err
}

// CloseIdleConnections forwards to the wrapped transport so http.Client can release the pool.
func (t *observedTransport) CloseIdleConnections() {
	if closer, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}
