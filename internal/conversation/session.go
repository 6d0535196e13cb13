package conversation

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HeaderSessionID carries the conversation session id in both directions.
const HeaderSessionID = "X-Session-ID"

// NewSessionID returns a random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// SessionIDFromRequest returns the request's session id in canonical form.
// A missing or malformed header yields a fresh id and generated=true.
func SessionIDFromRequest(r *http.Request) (id string, generated bool) {
	raw := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	if raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			return parsed.String(), false
		}
	}
	return NewSessionID(), true
}
