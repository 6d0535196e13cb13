package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blueberrycongee/abgate/internal/config"
)

type fakeDataHandler struct{}

func (fakeDataHandler) Root(http.ResponseWriter, *http.Request)        {}
func (fakeDataHandler) HealthCheck(http.ResponseWriter, *http.Request) {}
func (fakeDataHandler) AskQuestion(http.ResponseWriter, *http.Request) {}
func (fakeDataHandler) IngestImage(http.ResponseWriter, *http.Request) {}
func (fakeDataHandler) TestDB(http.ResponseWriter, *http.Request)      {}

func TestBuildMux_RegistersRoutes(t *testing.T) {
	cfg := config.DefaultConfig()

	mux, err := buildMux(cfg, fakeDataHandler{})
	if err != nil {
		t.Fatalf("buildMux() error = %v", err)
	}

	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/", "GET /{$}"},
		{http.MethodGet, "/health", "GET /health"},
		{http.MethodPost, "/ask_question", "POST /ask_question"},
		{http.MethodPost, "/ingest_img", "POST /ingest_img"},
		{http.MethodGet, "/test-db", "GET /test-db"},
		{http.MethodGet, "/metrics", "GET /metrics"},
	}
	for _, tt := range tests {
		if got := routePattern(mux, tt.method, tt.path); got != tt.want {
			t.Errorf("%s %s: pattern = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}

	if got := routePattern(mux, http.MethodGet, "/unknown"); got != "" {
		t.Errorf("unknown path matched %q", got)
	}
}

func TestBuildMux_MetricsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false

	mux, err := buildMux(cfg, fakeDataHandler{})
	if err != nil {
		t.Fatalf("buildMux() error = %v", err)
	}
	if got := routePattern(mux, http.MethodGet, "/metrics"); got != "" {
		t.Fatalf("metrics route registered while disabled: %q", got)
	}
}

func TestBuildMux_RequiresConfig(t *testing.T) {
	if _, err := buildMux(nil, fakeDataHandler{}); err != errNilConfig {
		t.Fatalf("buildMux(nil) error = %v, want %v", err, errNilConfig)
	}
}

func routePattern(mux *http.ServeMux, method, path string) string {
	req := httptest.NewRequest(method, path, nil)
	_, pattern := mux.Handler(req)
	return pattern
}
