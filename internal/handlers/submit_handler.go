package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/taskpulse/backend/internal/middleware"
	"github.com/taskpulse/backend/internal/models"
	"github.com/taskpulse/backend/internal/services"
)

// maxSubmitBody caps a single batch submission at 10 MiB.
const maxSubmitBody = 10 << 20

// Submitter is the subset of the reconciler needed by the handler.
type Submitter interface {
	Submit(ctx context.Context, batch *services.SubmitBatch, key *models.APIKey) (*services.SubmitResult, error)
}

// SubmitHandler serves POST /v1/submit.
type SubmitHandler struct {
	Reconciler Submitter
	Validator  *services.Validator
	Logger     *slog.Logger
}

type submitResponse struct {
	Success bool `json:"success"`
	Created int  `json:"created"`
	Updated int  `json:"updated"`
}

// Submit handles POST /v1/submit: a full-queue snapshot upsert.
func (h *SubmitHandler) Submit(w http.ResponseWriter, r *http.Request) {
	key := middleware.KeyFromCtx(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "authentication required")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "could not read request body")
		return
	}

	// Structural pass first so malformed bodies fail with field paths
	// instead of a decode error.
	if err := h.Validator.CheckShape(raw); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}

	var batch services.SubmitBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "invalid JSON: "+err.Error())
		return
	}

	if !key.Authorized(batch.ProjectID) {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "API key is not valid for this project")
		return
	}

	result, err := h.Reconciler.Submit(r.Context(), &batch, key)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Success: true,
		Created: result.Created,
		Updated: result.Updated,
	})
}
