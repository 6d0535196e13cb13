// Package resilience provides the outbound retry policy for upstream model calls.
// Transient failures (connection errors and a fixed set of status codes) are
// retried with exponential backoff; everything else is surfaced on the first
// attempt.
package resilience

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	gwerrors "github.com/blueberrycongee/abgate/pkg/errors"
)

// Policy controls how many times a request is attempted and how long to wait between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// BackoffBase is the wait before the first retry. Each later retry doubles it.
	BackoffBase time.Duration
	// MaxBackoff caps a single wait. Zero means uncapped.
	MaxBackoff time.Duration
	// RetryStatuses lists the response status codes that trigger a retry.
	RetryStatuses []int
}

// DefaultPolicy returns 3 attempts with 1s, 2s, 4s exponential backoff on
// 429, 500, 502, 503 and 504.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		MaxBackoff:    30 * time.Second,
		RetryStatuses: append([]int(nil), gwerrors.DefaultRetryStatuses...),
	}
}

// Validate checks the policy for errors.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("backoff base cannot be negative")
	}
	if p.MaxBackoff < 0 {
		return fmt.Errorf("max backoff cannot be negative")
	}
	for _, code := range p.RetryStatuses {
		if code < 400 || code > 599 {
			return fmt.Errorf("retry status %d is not an error status", code)
		}
	}
	return nil
}

// ShouldRetryStatus reports whether a response with statusCode is retried.
func (p Policy) ShouldRetryStatus(statusCode int) bool {
	for _, code := range p.RetryStatuses {
		if code == statusCode {
			return true
		}
	}
	return false
}

// Delay returns the wait before retry number retry (0 for the first retry).
func (p Policy) Delay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	mult := math.Pow(2, float64(retry)) * float64(p.BackoffBase)
	wait := time.Duration(mult)
	if float64(wait) != mult || wait < 0 {
		// overflow
		wait = time.Duration(math.MaxInt64)
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}

// CheckRetry classifies an attempt for retryablehttp. Connection-level errors
// are retried unless they are known to be permanent; responses are retried only
// when their status is in RetryStatuses.
func (p Policy) CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// DefaultRetryPolicy knows which transport errors are permanent
		// (bad scheme, too many redirects, untrusted certificate).
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp == nil {
		return false, nil
	}
	return p.ShouldRetryStatus(resp.StatusCode), nil
}

// Backoff implements retryablehttp.Backoff. A numeric Retry-After header on 429
// and 503 responses replaces the computed delay, still capped by MaxBackoff.
func (p Policy) Backoff(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if wait, ok := retryAfter(resp); ok {
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			return p.MaxBackoff
		}
		return wait
	}
	return p.Delay(attemptNum)
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
