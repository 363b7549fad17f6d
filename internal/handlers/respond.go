package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taskpulse/backend/internal/models"
)

type errorBody struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Violations []models.Violation `json:"violations,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeServiceError maps a service-layer error onto the API error
// taxonomy. Unknown errors are logged and masked as internal.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
			Code:       models.CodeValidationError,
			Message:    ve.Error(),
			Violations: ve.Violations,
		}})
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, models.CodeResourceNotFound, "resource not found")
	case errors.Is(err, models.ErrDuplicate):
		writeError(w, http.StatusConflict, models.CodeDuplicateKey, "duplicate key")
	default:
		logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, models.CodeInternalError, "internal error")
	}
}
