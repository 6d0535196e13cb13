package httputil

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadLimitedBody(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("ReadLimitedBody() error = %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
}

func TestReadLimitedBody_TooLarge(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("hello world"), 5)
	if !errors.Is(err, ErrResponseBodyTooLarge) {
		t.Fatalf("error = %v, want ErrResponseBodyTooLarge", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want truncated prefix", body)
	}
}

func TestReadLimitedBody_NoLimit(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader(strings.Repeat("x", 1000)), 0)
	if err != nil {
		t.Fatalf("ReadLimitedBody() error = %v", err)
	}
	if len(body) != 1000 {
		t.Fatalf("len(body) = %d, want 1000", len(body))
	}
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestDrainAndClose(t *testing.T) {
	body := &closeTracker{Reader: strings.NewReader("leftover")}
	DrainAndClose(body)
	if !body.closed {
		t.Fatal("expected body to be closed")
	}
	DrainAndClose(nil)
}
