package api //nolint:revive // package name is intentional

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	gwerrors "github.com/blueberrycongee/abgate/pkg/errors"
)

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// writeError renders err as an ErrorResponse. Errors that are not a
// *GatewayError become a 500 without leaking their text.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		logger.Error("unhandled error", "error", err)
		gwErr = gwerrors.NewInternalError("internal server error")
	}

	status := gwErr.HTTPStatusCode()
	writeJSON(w, logger, status, ErrorResponse{
		Error: ErrorDetail{
			Message: gwErr.Message,
			Type:    gwErr.Type,
			Code:    strconv.Itoa(status),
		},
	})
}
