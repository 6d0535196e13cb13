// Package api provides the inbound HTTP handlers of the gateway.
package api //nolint:revive // package name is intentional

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/blueberrycongee/abgate/internal/conversation"
	"github.com/blueberrycongee/abgate/internal/experiment"
	"github.com/blueberrycongee/abgate/internal/gateway"
	"github.com/blueberrycongee/abgate/internal/observability"
	gwerrors "github.com/blueberrycongee/abgate/pkg/errors"
	"github.com/blueberrycongee/abgate/pkg/types"
)

// Asker answers a prompt with a given variant.
type Asker interface {
	Ask(ctx context.Context, variant string, history []types.ChatMessage, prompt string) (*gateway.Answer, error)
}

// VersionQuerier reports the database server version.
type VersionQuerier interface {
	Version(ctx context.Context) (string, error)
}

// Config contains configuration for Handler.
type Config struct {
	MaxUploadBytes int64
	// Sessions keeps per-session history. Nil makes every request stateless.
	Sessions *conversation.Store
	// DB backs GET /test-db. Nil reports the database as not configured.
	DB VersionQuerier
}

// Handler serves the public endpoints.
type Handler struct {
	asker          Asker
	sessions       *conversation.Store
	db             VersionQuerier
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewHandler creates a Handler.
func NewHandler(asker Asker, logger *slog.Logger, cfg Config) (*Handler, error) {
	if asker == nil {
		return nil, errors.New("api: asker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		asker:          asker,
		sessions:       cfg.Sessions,
		db:             cfg.DB,
		logger:         logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}, nil
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log(r), http.StatusOK, map[string]string{"message": WelcomeMessage})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log(r), http.StatusOK, map[string]string{"status": "healthy"})
}

// AskQuestion handles POST /ask_question. The prompt comes from the form
// field "prompt" and the variant from the assignment attached by the
// experiment middleware.
func (h *Handler) AskQuestion(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := parseForm(r, h.maxUploadBytes); err != nil {
		writeError(w, logger, gwerrors.NewInvalidRequestError("invalid form body: "+err.Error()))
		return
	}
	prompt := r.PostFormValue("prompt")
	if strings.TrimSpace(prompt) == "" {
		writeError(w, logger, gwerrors.NewInvalidRequestError("prompt is required"))
		return
	}

	variant, err := variantFor(r.Context())
	if err != nil {
		logger.Warn("no experiment variant for request", "error", err)
		writeError(w, logger, err)
		return
	}
	w.Header().Set(HeaderVariant, variant)

	var (
		sessionID  string
		newSession bool
		history    []types.ChatMessage
	)
	if h.sessions != nil {
		sessionID, newSession = conversation.SessionIDFromRequest(r)
		w.Header().Set(conversation.HeaderSessionID, sessionID)
		history = h.sessions.History(sessionID)
	}

	answer, err := h.asker.Ask(r.Context(), variant, history, prompt)
	if err != nil {
		logger.Error("upstream call failed", "variant", variant, "error", err)
		writeError(w, logger, err)
		return
	}

	switch {
	case h.sessions == nil:
	case newSession:
		h.sessions.Start(sessionID, types.UserMessage(prompt), answer.Message)
	default:
		h.sessions.Append(sessionID, types.UserMessage(prompt), answer.Message)
	}

	logger.Debug("question answered",
		"variant", variant,
		"prompt_tokens", answer.Usage.PromptTokens,
		"completion_tokens", answer.Usage.CompletionTokens,
	)
	writeJSON(w, logger, http.StatusOK, map[string]string{"response": answer.Content})
}

// IngestImage handles POST /ingest_img. The upload is not stored; its
// metadata is echoed back.
func (h *Handler) IngestImage(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, logger, gwerrors.NewInvalidRequestError("multipart body with a file field is required"))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, logger, gwerrors.NewInvalidRequestError("file is required"))
		return
	}
	_ = file.Close()

	writeJSON(w, logger, http.StatusOK, map[string]string{
		"filename":     header.Filename,
		"content_type": header.Header.Get("Content-Type"),
	})
}

// TestDB handles GET /test-db. Failures are reported in the body with 200.
func (h *Handler) TestDB(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)
	if h.db == nil {
		writeJSON(w, logger, http.StatusOK, map[string]string{
			"status":  "error",
			"message": "database is not configured",
		})
		return
	}

	version, err := h.db.Version(r.Context())
	if err != nil {
		logger.Warn("database check failed", "error", err)
		writeJSON(w, logger, http.StatusOK, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, logger, http.StatusOK, map[string]string{
		"status":  "connected",
		"version": version,
	})
}

func (h *Handler) log(r *http.Request) *slog.Logger {
	return observability.LoggerFromContext(r.Context(), h.logger)
}

// variantFor turns the request's assignment into a variant or a 503.
func variantFor(ctx context.Context) (string, error) {
	assignment, ok := experiment.AssignmentFromContext(ctx)
	if !ok {
		return "", gwerrors.NewAssignmentUnavailableError("request was not assigned to an experiment")
	}
	if !assignment.Ok() {
		if errors.Is(assignment.Err, experiment.ErrEmptyPool) {
			return "", gwerrors.NewAssignmentUnavailableError("no experiment variant available: experiment pool is empty")
		}
		return "", gwerrors.NewAssignmentUnavailableError("no experiment variant available: experiment store unavailable")
	}
	return assignment.Variant, nil
}

func parseForm(r *http.Request, maxMemory int64) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(maxMemory)
	}
	return r.ParseForm()
}
