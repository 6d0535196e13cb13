// Package httputil provides helpers for reading HTTP payloads safely.
package httputil

import (
	"errors"
	"io"
)

const (
	// DefaultMaxResponseBodyBytes caps upstream response bodies to 10MB.
	DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024

	// maxDrainBytes bounds how much of an unread body is discarded so the
	// connection can go back to the pool.
	maxDrainBytes int64 = 64 * 1024
)

var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns ErrResponseBodyTooLarge when exceeded.
// The truncated prefix is returned alongside the error.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], ErrResponseBodyTooLarge
	}
	return body, nil
}

// DrainAndClose discards a bounded remainder of body and closes it.
func DrainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, body, maxDrainBytes)
	_ = body.Close()
}
