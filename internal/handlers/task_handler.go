package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskpulse/backend/internal/middleware"
	"github.com/taskpulse/backend/internal/models"
	"github.com/taskpulse/backend/internal/services"
)

// TaskOps is the subset of the task service needed by the handler.
type TaskOps interface {
	Edit(ctx context.Context, projectID, queueID, taskID string, edit models.TaskEdit) (*models.Task, error)
	SetStatus(ctx context.Context, projectID, queueID, taskID string, change services.StatusChange, key *models.APIKey, hostname string) (*models.Task, error)
	AppendMessage(ctx context.Context, projectID, queueID, taskID string, msg models.Message) (*models.Task, error)
	AppendLog(ctx context.Context, projectID, queueID, taskID string, entry models.LogEntry) (*models.Task, error)
	Move(ctx context.Context, projectID, fromQueueID, toQueueID, taskID string) (*models.Task, error)
	Release(ctx context.Context, projectID, queueID string, taskIDs []string, releasedBy string) (int, error)
	Create(ctx context.Context, projectID string, p services.CreateParams) (*models.Task, error)
}

// TaskHandler serves the task mutation endpoints. Task identifiers
// travel in request bodies rather than URL paths so ids with slashes or
// dots never fight the router.
type TaskHandler struct {
	Service TaskOps
	Logger  *slog.Logger
}

// taskRef addresses one task. An empty queue_id means the flat store.
type taskRef struct {
	ProjectID string `json:"project_id"`
	QueueID   string `json:"queue_id,omitempty"`
	TaskID    string `json:"task_id"`
}

func (ref taskRef) check() []models.Violation {
	var v []models.Violation
	if ref.ProjectID == "" {
		v = append(v, models.Violation{Field: "project_id", Message: "is required"})
	}
	if ref.TaskID == "" {
		v = append(v, models.Violation{Field: "task_id", Message: "is required"})
	}
	return v
}

// authRef decodes the body into dst, then checks the embedded taskRef
// and the caller's project authorization. Returns false after writing
// the error response.
func (h *TaskHandler) authRef(w http.ResponseWriter, r *http.Request, dst any, ref *taskRef) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "invalid JSON: "+err.Error())
		return false
	}
	if v := ref.check(); len(v) > 0 {
		writeServiceError(w, h.Logger, &models.ValidationError{Violations: v})
		return false
	}
	key := middleware.KeyFromCtx(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "authentication required")
		return false
	}
	if !key.Authorized(ref.ProjectID) {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "API key is not valid for this project")
		return false
	}
	return true
}

// --- PUT /v1/tasks ---

type editTaskRequest struct {
	taskRef
	models.TaskEdit
}

// Edit handles PUT /v1/tasks.
func (h *TaskHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editTaskRequest
	if !h.authRef(w, r, &req, &req.taskRef) {
		return
	}
	task, err := h.Service.Edit(r.Context(), req.ProjectID, req.QueueID, req.TaskID, req.TaskEdit)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/status ---

type statusRequest struct {
	taskRef
	Status       string `json:"status"`
	Report       string `json:"report,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   *int64 `json:"duration_ms,omitempty"`
	Hostname     string `json:"hostname,omitempty"`
}

// SetStatus handles POST /v1/tasks/status.
func (h *TaskHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.authRef(w, r, &req, &req.taskRef) {
		return
	}
	change := services.StatusChange{
		Status:       req.Status,
		Report:       req.Report,
		ErrorMessage: req.ErrorMessage,
		DurationMS:   req.DurationMS,
	}
	key := middleware.KeyFromCtx(r.Context())
	task, err := h.Service.SetStatus(r.Context(), req.ProjectID, req.QueueID, req.TaskID, change, key, req.Hostname)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/messages ---

type messageRequest struct {
	taskRef
	Role      string `json:"role"`
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// AppendMessage handles POST /v1/tasks/messages.
func (h *TaskHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.authRef(w, r, &req, &req.taskRef) {
		return
	}
	msg := models.Message{Role: req.Role, Content: req.Content, SessionID: req.SessionID}
	task, err := h.Service.AppendMessage(r.Context(), req.ProjectID, req.QueueID, req.TaskID, msg)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/logs ---

type logRequest struct {
	taskRef
	Content string `json:"content"`
}

// AppendLog handles POST /v1/tasks/logs.
func (h *TaskHandler) AppendLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if !h.authRef(w, r, &req, &req.taskRef) {
		return
	}
	task, err := h.Service.AppendLog(r.Context(), req.ProjectID, req.QueueID, req.TaskID, models.LogEntry{Content: req.Content})
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/move ---

type moveRequest struct {
	ProjectID   string `json:"project_id"`
	TaskID      string `json:"task_id"`
	FromQueueID string `json:"from_queue_id,omitempty"`
	ToQueueID   string `json:"to_queue_id,omitempty"`
}

// Move handles POST /v1/tasks/move.
func (h *TaskHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "invalid JSON: "+err.Error())
		return
	}
	ref := taskRef{ProjectID: req.ProjectID, TaskID: req.TaskID}
	if v := ref.check(); len(v) > 0 {
		writeServiceError(w, h.Logger, &models.ValidationError{Violations: v})
		return
	}
	key := middleware.KeyFromCtx(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "authentication required")
		return
	}
	if !key.Authorized(req.ProjectID) {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "API key is not valid for this project")
		return
	}
	task, err := h.Service.Move(r.Context(), req.ProjectID, req.FromQueueID, req.ToQueueID, req.TaskID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /v1/tasks/release ---

type releaseRequest struct {
	ProjectID string   `json:"project_id"`
	QueueID   string   `json:"queue_id,omitempty"`
	TaskIDs   []string `json:"task_ids"`
}

type releaseResponse struct {
	Released int `json:"released"`
}

// Release handles POST /v1/tasks/release.
func (h *TaskHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "invalid JSON: "+err.Error())
		return
	}
	var violations []models.Violation
	if req.ProjectID == "" {
		violations = append(violations, models.Violation{Field: "project_id", Message: "is required"})
	}
	if len(req.TaskIDs) == 0 {
		violations = append(violations, models.Violation{Field: "task_ids", Message: "must not be empty"})
	}
	if len(violations) > 0 {
		writeServiceError(w, h.Logger, &models.ValidationError{Violations: violations})
		return
	}
	key := middleware.KeyFromCtx(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "authentication required")
		return
	}
	if !key.Authorized(req.ProjectID) {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "API key is not valid for this project")
		return
	}
	n, err := h.Service.Release(r.Context(), req.ProjectID, req.QueueID, req.TaskIDs, key.ClaimantName())
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResponse{Released: n})
}

// --- POST /v1/projects/{projectID}/tasks ---

type createTaskRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Prompt    string          `json:"prompt,omitempty"`
	SpecFile  []string        `json:"spec_file,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Priority  models.Priority `json:"priority,omitzero"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Create handles POST /v1/projects/{projectID}/tasks: server-side
// creation of a pull-eligible flat task.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	key := middleware.KeyFromCtx(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "authentication required")
		return
	}
	if !key.Authorized(projectID) {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "API key is not valid for this project")
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationError, "invalid JSON: "+err.Error())
		return
	}
	task, err := h.Service.Create(r.Context(), projectID, services.CreateParams{
		ID:        req.ID,
		Name:      req.Name,
		Prompt:    req.Prompt,
		SpecFile:  req.SpecFile,
		Tags:      req.Tags,
		Priority:  req.Priority,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}
