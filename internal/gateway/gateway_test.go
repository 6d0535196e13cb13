package gateway

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/abgate/internal/resilience"
	gwerrors "github.com/blueberrycongee/abgate/pkg/errors"
	"github.com/blueberrycongee/abgate/pkg/types"
	"github.com/blueberrycongee/abgate/tests/testutil"
)

const testAPIKey = "venice-test-key-0001"

func newTestGateway(t *testing.T, endpoint string, opts ...Option) *Gateway {
	t.Helper()
	client, err := resilience.NewClient(resilience.WithPolicy(resilience.Policy{
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		RetryStatuses: gwerrors.DefaultRetryStatuses,
	}))
	require.NoError(t, err)
	t.Cleanup(client.CloseIdleConnections)

	g, err := New(client, Config{Name: "venice", Endpoint: endpoint, APIKey: testAPIKey}, opts...)
	require.NoError(t, err)
	return g
}

func newMock(t *testing.T) *testutil.MockUpstream {
	t.Helper()
	m := testutil.NewMockUpstream()
	t.Cleanup(m.Close)
	return m
}

func requireGatewayError(t *testing.T, err error) *gwerrors.GatewayError {
	t.Helper()
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok, "expected *GatewayError, got %T", err)
	return gwErr
}

func TestAsk_Success(t *testing.T) {
	mock := newMock(t)
	g := newTestGateway(t, mock.Endpoint())

	answer, err := g.Ask(context.Background(), "llama-3.3-70b", nil, "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", answer.Content)
	assert.Equal(t, types.RoleAssistant, answer.Message.Role)
	assert.Equal(t, "llama-3.3-70b", answer.Model)
	assert.Positive(t, answer.Usage.TotalTokens)
	assert.Equal(t, 1, mock.CallCount())
}

func TestAsk_RequestShape(t *testing.T) {
	mock := newMock(t)
	g := newTestGateway(t, mock.Endpoint())

	_, err := g.Ask(context.Background(), "mistral-31-24b", nil, "What is 2+2?")
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	got := reqs[0]
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/v1/chat/completions", got.Path)
	assert.Equal(t, "Bearer "+testAPIKey, got.Headers.Get("Authorization"))
	assert.Equal(t, "application/json", got.Headers.Get("Content-Type"))
	assert.JSONEq(t,
		`{"messages":[{"role":"user","content":"What is 2+2?"}],"model":"mistral-31-24b"}`,
		string(got.Body))
	assert.True(t, strings.HasPrefix(string(got.Body), `{"messages":`), "messages precede model")
}

func TestAsk_HistoryPrecedesPrompt(t *testing.T) {
	mock := newMock(t)
	g := newTestGateway(t, mock.Endpoint())

	history := []types.ChatMessage{
		types.UserMessage("What is 2+2?"),
		{Role: types.RoleAssistant, Content: "4"},
	}
	_, err := g.Ask(context.Background(), "llama-3.3-70b", history, "And doubled?")
	require.NoError(t, err)

	req, ok := mock.LastRequest()
	require.True(t, ok)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "And doubled?", req.Messages[2].Content)
	assert.Equal(t, "user", req.Messages[2].Role)
	assert.Len(t, history, 2, "caller history is not modified")
}

func TestAsk_ServerErrorAfterRetries(t *testing.T) {
	mock := newMock(t)
	mock.SetStatus(http.StatusInternalServerError, "Internal Server Error")
	g := newTestGateway(t, mock.Endpoint())

	_, err := g.Ask(context.Background(), "llama-3.3-70b", nil, "What is 2+2?")
	gwErr := requireGatewayError(t, err)

	assert.Equal(t, http.StatusInternalServerError, gwErr.StatusCode)
	assert.Equal(t, "Trouble answering your question: Internal Server Error", gwErr.Message)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, "llama-3.3-70b", gwErr.Variant)
	assert.Equal(t, 3, mock.CallCount())
}

func TestAsk_UnauthorizedIsNotRetried(t *testing.T) {
	mock := newMock(t)
	mock.SetStatus(http.StatusUnauthorized, `{"error":"invalid api key"}`)
	g := newTestGateway(t, mock.Endpoint())

	_, err := g.Ask(context.Background(), "llama-3.3-70b", nil, "What is 2+2?")
	gwErr := requireGatewayError(t, err)

	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
	assert.Equal(t, gwerrors.TypeAuthentication, gwErr.Type)
	assert.Contains(t, gwErr.Message, "invalid api key")
	assert.Equal(t, 1, mock.CallCount())
}

func TestAsk_RecoversFromTransientFailure(t *testing.T) {
	mock := newMock(t)
	mock.QueueResponse(testutil.MockResponse{StatusCode: http.StatusServiceUnavailable})
	mock.QueueResponse(testutil.MockResponse{StatusCode: http.StatusTooManyRequests})
	g := newTestGateway(t, mock.Endpoint())

	answer, err := g.Ask(context.Background(), "llama-3.3-70b", nil, "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", answer.Content)
	assert.Equal(t, 3, mock.CallCount())
}

func TestAsk_InvalidResponses(t *testing.T) {
	tests := []struct {
		name string
		resp testutil.MockResponse
	}{
		{"not json", testutil.MockResponse{StatusCode: http.StatusOK, RawBody: "<html>oops</html>"}},
		{"empty choices", testutil.MockResponse{NoChoices: true}},
		{"missing choices", testutil.MockResponse{StatusCode: http.StatusOK, RawBody: `{"id":"x"}`}},
		{"choice without message", testutil.MockResponse{StatusCode: http.StatusOK, RawBody: `{"choices":[{}]}`}},
		{"message without content", testutil.MockResponse{StatusCode: http.StatusOK, RawBody: `{"choices":[{"message":{}}]}`}},
		{"null content", testutil.MockResponse{StatusCode: http.StatusOK, RawBody: `{"choices":[{"message":{"content":null}}]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.QueueResponse(tt.resp)
			g := newTestGateway(t, mock.Endpoint())

			_, err := g.Ask(context.Background(), "llama-3.3-70b", nil, "What is 2+2?")
			gwErr := requireGatewayError(t, err)
			assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
			assert.Equal(t, gwerrors.TypeInvalidUpstreamResp, gwErr.Type)
			assert.Equal(t, 1, mock.CallCount())
		})
	}
}

func TestAsk_ResponseTooLarge(t *testing.T) {
	mock := newMock(t)
	client, err := resilience.NewClient()
	require.NoError(t, err)
	g, err := New(client, Config{Endpoint: mock.Endpoint(), APIKey: testAPIKey, MaxResponseBytes: 16})
	require.NoError(t, err)

	_, err = g.Ask(context.Background(), "llama-3.3-70b", nil, "What is 2+2?")
	gwErr := requireGatewayError(t, err)
	assert.Equal(t, gwerrors.TypeInvalidUpstreamResp, gwErr.Type)
}

func TestAsk_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()
	g := newTestGateway(t, endpoint)

	_, err := g.Ask(context.Background(), "llama-3.3-70b", nil, "What is 2+2?")
	gwErr := requireGatewayError(t, err)
	assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
	assert.Equal(t, gwerrors.TypeUpstreamConnection, gwErr.Type)
}

func TestAsk_Timeout(t *testing.T) {
	mock := newMock(t)
	mock.QueueResponse(testutil.MockResponse{Delay: 2 * time.Second})
	g := newTestGateway(t, mock.Endpoint())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Ask(ctx, "llama-3.3-70b", nil, "What is 2+2?")
	gwErr := requireGatewayError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, gwErr.StatusCode)
	assert.Equal(t, gwerrors.TypeTimeout, gwErr.Type)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAsk_LogsAreRedacted(t *testing.T) {
	mock := newMock(t)
	mock.SetStatus(http.StatusBadRequest, "bad key "+testAPIKey)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	g := newTestGateway(t, mock.Endpoint(), WithLogger(logger))

	_, err := g.Ask(context.Background(), "llama-3.3-70b", nil, "What is 2+2?")
	require.Error(t, err)

	assert.Contains(t, buf.String(), "upstream returned error status")
	assert.NotContains(t, buf.String(), testAPIKey)
}

func TestNew_Defaults(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)

	client, err := resilience.NewClient()
	require.NoError(t, err)
	g, err := New(client, Config{})
	require.NoError(t, err)
	assert.Equal(t, "venice", g.Name())
	assert.Equal(t, DefaultEndpoint, g.cfg.Endpoint)
}
