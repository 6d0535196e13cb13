package main

import (
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/abgate/internal/config"
	"github.com/blueberrycongee/abgate/internal/experiment"
	"github.com/blueberrycongee/abgate/internal/metrics"
	"github.com/blueberrycongee/abgate/internal/observability"
)

// buildMiddlewareStack wraps handlers, outermost first, with request ids,
// tracing, CORS, HTTP metrics and variant assignment.
func buildMiddlewareStack(cfg *config.Config, assigner *experiment.Assigner, tracer trace.Tracer, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if assigner == nil {
		return nil, errors.New("assigner is required")
	}

	requestID := observability.RequestIDMiddleware(logger)
	tracing := observability.TracingMiddleware(tracer)
	httpMetrics := metrics.Middleware(routeLabels(cfg))
	assignment := experiment.Middleware(assigner, cfg.Experiments.SkipPaths)

	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		handler := assignment(next)
		handler = httpMetrics(handler)
		handler = corsMiddleware(cfg.CORS, handler)
		handler = tracing(handler)
		handler = requestID(handler)
		return handler
	}, nil
}
