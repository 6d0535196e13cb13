package main

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/abgate/internal/config"
)

type dataHandler interface {
	Root(http.ResponseWriter, *http.Request)
	HealthCheck(http.ResponseWriter, *http.Request)
	AskQuestion(http.ResponseWriter, *http.Request)
	IngestImage(http.ResponseWriter, *http.Request)
	TestDB(http.ResponseWriter, *http.Request)
}

var errNilConfig = errors.New("config is required")

// routeLabels are the paths reported individually by the HTTP metrics.
func routeLabels(cfg *config.Config) []string {
	routes := []string{"/", "/health", "/ask_question", "/ingest_img", "/test-db"}
	if cfg != nil && cfg.Metrics.Enabled {
		routes = append(routes, cfg.Metrics.Path)
	}
	return routes
}

func buildMux(cfg *config.Config, handler dataHandler) (*http.ServeMux, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handler.Root)
	mux.HandleFunc("GET /health", handler.HealthCheck)
	mux.HandleFunc("POST /ask_question", handler.AskQuestion)
	mux.HandleFunc("POST /ingest_img", handler.IngestImage)
	mux.HandleFunc("GET /test-db", handler.TestDB)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}
	return mux, nil
}
