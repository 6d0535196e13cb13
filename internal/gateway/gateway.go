// Package gateway calls the upstream chat-completion API for one assigned
// experiment variant and translates every failure into a GatewayError.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/abgate/internal/httputil"
	"github.com/blueberrycongee/abgate/internal/metrics"
	"github.com/blueberrycongee/abgate/internal/observability"
	gwerrors "github.com/blueberrycongee/abgate/pkg/errors"
	"github.com/blueberrycongee/abgate/pkg/types"
)

// DefaultEndpoint is the Venice chat-completion endpoint.
const DefaultEndpoint = "https://api.venice.ai/api/v1/chat/completions"

// troublePrefix starts the message of every non-200 upstream error.
const troublePrefix = "Trouble answering your question: "

// Doer sends HTTP requests. *resilience.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes the upstream.
type Config struct {
	// Name labels the upstream in errors, logs and metrics.
	Name     string
	Endpoint string
	APIKey   string
	// MaxResponseBytes caps the upstream body. Zero means httputil.DefaultMaxResponseBodyBytes.
	MaxResponseBytes int64
}

// Answer is a successful upstream reply.
type Answer struct {
	Content string
	Message types.ChatMessage
	Model   string
	Usage   types.Usage
}

// Gateway is safe for concurrent use.
type Gateway struct {
	client   Doer
	cfg      Config
	logger   *slog.Logger
	redactor *observability.Redactor
	tracer   trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the fallback logger used when the request context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithRedactor sets the redactor applied to logged upstream bodies.
func WithRedactor(r *observability.Redactor) Option {
	return func(g *Gateway) {
		g.redactor = r
	}
}

// WithTracer sets the tracer for upstream spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// New creates a Gateway that sends requests through client.
func New(client Doer, cfg Config, opts ...Option) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("gateway: http client is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Name == "" {
		cfg.Name = "venice"
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = httputil.DefaultMaxResponseBodyBytes
	}

	g := &Gateway{
		client: client,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(observability.TracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.redactor == nil {
		g.redactor = observability.NewRedactor()
	}
	g.redactor.AddSecret(cfg.APIKey)
	return g, nil
}

// Name returns the upstream label.
func (g *Gateway) Name() string {
	return g.cfg.Name
}

// Ask sends history followed by prompt as a user message to variant and
// returns the first choice. history is not modified.
func (g *Gateway) Ask(ctx context.Context, variant string, history []types.ChatMessage, prompt string) (*Answer, error) {
	messages := append(types.CloneMessages(history, 1), types.UserMessage(prompt))

	ctx, span := observability.StartUpstreamSpan(ctx, g.tracer, observability.UpstreamSpanAttributes{
		Upstream: g.cfg.Name,
		Variant:  variant,
		Messages: len(messages),
	})
	defer span.End()

	start := time.Now()
	answer, status, err := g.do(ctx, variant, messages)
	metrics.RecordUpstream(g.cfg.Name, variant, status, time.Since(start))
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.RecordUsage(span, status, answer.Usage.PromptTokens, answer.Usage.CompletionTokens)
	metrics.RecordTokens(g.cfg.Name, variant, answer.Usage.PromptTokens, answer.Usage.CompletionTokens)
	return answer, nil
}

// do returns the final upstream status (0 if none was received) with the result.
func (g *Gateway) do(ctx context.Context, variant string, messages []types.ChatMessage) (*Answer, int, error) {
	logger := observability.LoggerFromContext(ctx, g.logger).With("upstream", g.cfg.Name, "variant", variant)

	body, err := json.Marshal(types.ChatRequest{Messages: messages, Model: variant})
	if err != nil {
		return nil, 0, gwerrors.NewInternalError(fmt.Sprintf("marshal upstream request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, gwerrors.NewInternalError(fmt.Sprintf("create upstream request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if resp != nil {
			httputil.DrainAndClose(resp.Body)
		}
		logger.Warn("upstream request failed", "error", err)
		return nil, 0, g.translateTransportError(ctx, variant, err)
	}
	defer httputil.DrainAndClose(resp.Body)

	respBody, readErr := httputil.ReadLimitedBody(resp.Body, g.cfg.MaxResponseBytes)

	if resp.StatusCode != http.StatusOK {
		logger.Warn("upstream returned error status",
			"status", resp.StatusCode,
			"body", g.redactor.RedactBody(respBody),
		)
		message := troublePrefix + strings.TrimSpace(string(respBody))
		return nil, resp.StatusCode, gwerrors.NewUpstreamError(g.cfg.Name, variant, resp.StatusCode, message)
	}

	if readErr != nil {
		if errors.Is(readErr, httputil.ErrResponseBodyTooLarge) {
			return nil, resp.StatusCode, gwerrors.NewInvalidResponseError(g.cfg.Name, variant,
				fmt.Sprintf("upstream response exceeds %d bytes", g.cfg.MaxResponseBytes))
		}
		logger.Warn("reading upstream response failed", "error", readErr)
		return nil, resp.StatusCode, g.translateTransportError(ctx, variant, readErr)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		logger.Warn("upstream response is not valid JSON", "error", err, "body", g.redactor.RedactBody(respBody))
		return nil, resp.StatusCode, gwerrors.NewInvalidResponseError(g.cfg.Name, variant, "upstream response is not valid JSON")
	}
	msg, ok := chatResp.FirstMessage()
	if !ok {
		logger.Warn("upstream response has no choices", "body", g.redactor.RedactBody(respBody))
		return nil, resp.StatusCode, gwerrors.NewInvalidResponseError(g.cfg.Name, variant, "upstream response has no choices")
	}
	content, ok := msg.Text()
	if !ok {
		logger.Warn("upstream response has no message content", "body", g.redactor.RedactBody(respBody))
		return nil, resp.StatusCode, gwerrors.NewInvalidResponseError(g.cfg.Name, variant, "upstream response has no message content")
	}

	answer := &Answer{
		Content: content,
		Message: types.ChatMessage{Role: types.RoleAssistant, Content: content},
		Model:   chatResp.Model,
	}
	if chatResp.Usage != nil {
		answer.Usage = *chatResp.Usage
	}
	return answer, resp.StatusCode, nil
}

func (g *Gateway) translateTransportError(ctx context.Context, variant string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return gwerrors.NewTimeoutError(g.cfg.Name, variant, "upstream request timed out")
	case errors.As(err, &netErr) && netErr.Timeout():
		return gwerrors.NewTimeoutError(g.cfg.Name, variant, "upstream request timed out")
	case errors.Is(err, context.Canceled):
		return gwerrors.NewConnectionError(g.cfg.Name, variant, "upstream request canceled")
	default:
		return gwerrors.NewConnectionError(g.cfg.Name, variant, "cannot reach upstream: "+g.redactor.Redact(err.Error()))
	}
}
