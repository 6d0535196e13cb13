package observability

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// maxLoggedBodyLen bounds upstream bodies copied into log records.
const maxLoggedBodyLen = 512

// Redactor masks credentials and personal data before they reach logs.
// It is safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor creates a redactor with the default patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}
	r.MustAddPattern(`Bearer\s+[a-zA-Z0-9\-_\.~+/=]+`, "Bearer [REDACTED]")
	r.MustAddPattern(`(?i)authorization:\s*(?:(?:bearer|basic)\s+)?[^\s]+`, "Authorization: [REDACTED]")
	r.MustAddPattern(`sk-[a-zA-Z0-9\-_]{20,}`, "[REDACTED_API_KEY]")
	r.MustAddPattern(`\b[a-f0-9]{32,}\b`, "[REDACTED_API_KEY]")
	r.MustAddPattern(`(?i)(password|passwd|pwd)=[^\s&]+`, "$1=[REDACTED]")
	r.MustAddPattern(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "[REDACTED_EMAIL]")
	return r
}

// AddPattern adds a redaction pattern. Invalid patterns return an error.
func (r *Redactor) AddPattern(pattern, replacement string) error {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, &redactPattern{regex: regex, replacement: replacement})
	r.mu.Unlock()
	return nil
}

// MustAddPattern is AddPattern for patterns known at compile time.
func (r *Redactor) MustAddPattern(pattern, replacement string) {
	if err := r.AddPattern(pattern, replacement); err != nil {
		panic(err)
	}
}

// AddSecret redacts an exact secret value wherever it appears.
func (r *Redactor) AddSecret(secret string) {
	if len(secret) < 4 {
		return
	}
	r.MustAddPattern(regexp.QuoteMeta(secret), "[REDACTED]")
}

// Redact applies all patterns to input.
func (r *Redactor) Redact(input string) string {
	if r == nil {
		return input
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := input
	for _, p := range r.patterns {
		result = p.regex.ReplaceAllString(result, p.replacement)
	}
	return result
}

// RedactBody redacts an upstream response body and truncates it for logging.
func (r *Redactor) RedactBody(body []byte) string {
	s := string(body)
	if len(s) > maxLoggedBodyLen {
		cut := maxLoggedBodyLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "...(truncated)"
	}
	return r.Redact(s)
}

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
	"x-auth-token":  true,
	"cookie":        true,
	"set-cookie":    true,
}

// RedactHeaders returns a copy of headers with credential headers masked.
func (r *Redactor) RedactHeaders(headers http.Header) http.Header {
	result := make(http.Header, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			result[k] = []string{"[REDACTED]"}
			continue
		}
		result[k] = append([]string(nil), v...)
	}
	return result
}
