// Package testutil provides a mock chat-completion upstream for tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Method  string
	Path    string
	Body    []byte
	Headers http.Header
	Time    time.Time
}

// MockMessage is a chat message as the upstream sees it.
type MockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MockRequest is the decoded body of a chat-completion request.
type MockRequest struct {
	Model    string        `json:"model"`
	Messages []MockMessage `json:"messages"`
}

// MockResponse defines one scripted reply.
type MockResponse struct {
	Content    string
	StatusCode int
	// RawBody is written verbatim instead of a chat-completion envelope.
	RawBody    string
	RetryAfter int
	Delay      time.Duration
	// NoChoices returns a well-formed envelope with an empty choices array.
	NoChoices bool
}

// MockUpstream simulates a Venice-style chat-completion API.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []RecordedRequest

	queue []MockResponse
	// fixed is returned once the queue drains; nil means answer normally.
	fixed *MockResponse
	// answer computes the reply content from the last user message.
	answer func(MockRequest) string
}

// NewMockUpstream starts a mock upstream. By default it answers "4" to
// "What is 2+2?" and echoes any other final prompt.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{answer: defaultAnswer}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the server base URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Endpoint returns the chat-completion endpoint URL.
func (m *MockUpstream) Endpoint() string {
	return m.server.URL + "/api/v1/chat/completions"
}

// Close shuts down the server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Requests returns all recorded requests.
func (m *MockUpstream) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of chat-completion requests received.
func (m *MockUpstream) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest decodes the most recent request body.
func (m *MockUpstream) LastRequest() (MockRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return MockRequest{}, false
	}
	var req MockRequest
	if err := json.Unmarshal(m.requests[len(m.requests)-1].Body, &req); err != nil {
		return MockRequest{}, false
	}
	return req, true
}

// QueueResponse adds a one-shot response.
func (m *MockUpstream) QueueResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
}

// SetStatus makes every request fail with status and body until Reset.
func (m *MockUpstream) SetStatus(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed = &MockResponse{StatusCode: status, RawBody: body}
}

// SetAnswer replaces the content function used for successful replies.
func (m *MockUpstream) SetAnswer(fn func(MockRequest) string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answer = fn
}

// Reset clears recorded requests and scripted behavior.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
	m.fixed = nil
	m.answer = defaultAnswer
}

func (m *MockUpstream) next() (*MockResponse, func(MockRequest) string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return &resp, m.answer
	}
	return m.fixed, m.answer
}

func (m *MockUpstream) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body) //nolint:errcheck // test code
	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Body:    body,
		Headers: r.Header.Clone(),
		Time:    time.Now(),
	})
	m.mu.Unlock()

	var req MockRequest
	_ = json.Unmarshal(body, &req) //nolint:errcheck // test code

	scripted, answer := m.next()
	content := answer(req)
	status := http.StatusOK
	if scripted != nil {
		if scripted.Delay > 0 {
			select {
			case <-time.After(scripted.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if scripted.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(scripted.RetryAfter))
		}
		if scripted.StatusCode != 0 {
			status = scripted.StatusCode
		}
		if scripted.RawBody != "" || status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, scripted.RawBody) //nolint:errcheck // test code
			return
		}
		if scripted.Content != "" {
			content = scripted.Content
		}
	}

	choices := []map[string]any{{
		"index":         0,
		"message":       map[string]any{"role": "assistant", "content": content},
		"finish_reason": "stop",
	}}
	if scripted != nil && scripted.NoChoices {
		choices = []map[string]any{}
	}

	promptTokens := len(body)/4 + 1
	completionTokens := len(content)/4 + 1
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test code
		"id":      "chatcmpl-mock-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": choices,
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	})
}

func defaultAnswer(req MockRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	last := strings.TrimSpace(req.Messages[len(req.Messages)-1].Content)
	if last == "What is 2+2?" {
		return "4"
	}
	return "echo: " + last
}
