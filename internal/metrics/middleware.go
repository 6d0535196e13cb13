package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RecordAssignment counts one variant assignment.
func RecordAssignment(variant, outcome string, poolSize int) {
	VariantAssignments.WithLabelValues(sanitizeModelLabel(variant), outcome).Inc()
	ExperimentPoolSize.Set(float64(poolSize))
}

// RecordAttempt counts one upstream HTTP attempt. statusCode 0 means a transport error.
func RecordAttempt(upstream string, statusCode int) {
	result := "error"
	if statusCode > 0 {
		result = strconv.Itoa(statusCode)
	}
	UpstreamAttempts.WithLabelValues(upstream, result).Inc()
}

// RecordUpstream records the final outcome of a gateway call.
func RecordUpstream(upstream, model string, statusCode int, latency time.Duration) {
	model = sanitizeModelLabel(model)
	UpstreamRequests.WithLabelValues(upstream, model, strconv.Itoa(statusCode)).Inc()
	UpstreamLatency.WithLabelValues(upstream, model).Observe(latency.Seconds())
}

// RecordTokens records token usage metrics.
func RecordTokens(upstream, model string, inputTokens, outputTokens int) {
	model = sanitizeModelLabel(model)
	if inputTokens > 0 {
		UpstreamTokens.WithLabelValues(upstream, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		UpstreamTokens.WithLabelValues(upstream, model, "output").Add(float64(outputTokens))
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records inbound request counts and latency. routes maps known
// paths to their label; anything else is labelled "other" to bound cardinality.
func Middleware(routes []string) func(http.Handler) http.Handler {
	known := make(map[string]bool, len(routes))
	for _, r := range routes {
		known[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			route := "other"
			if known[r.URL.Path] {
				route = r.URL.Path
			}
			HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(recorder.statusCode)).Inc()
			HTTPRequestLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

const maxModelLabelLen = 64

func sanitizeModelLabel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return "none"
	}

	var b strings.Builder
	b.Grow(min(len(model), maxModelLabelLen))
	for _, r := range model {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' || r == '/' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
