package dashboard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/taskpulse/backend/internal/models"
	"github.com/taskpulse/backend/internal/repository"
)

// Handler serves the read-only dashboard API under /api/v1.
type Handler struct {
	projectR *repository.ProjectRepo
	queueR   *repository.QueueRepo
	taskR    *repository.TaskRepo
	statsR   *repository.StatsRepo
	log      *slog.Logger
}

func NewHandler(
	projectR *repository.ProjectRepo,
	queueR *repository.QueueRepo,
	taskR *repository.TaskRepo,
	statsR *repository.StatsRepo,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		projectR: projectR,
		queueR:   queueR,
		taskR:    taskR,
		statsR:   statsR,
		log:      log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, what+" not found", http.StatusNotFound)
		return
	}
	h.log.Error("dashboard read failed", "what", what, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// GET /api/v1/projects
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projectR.List(r.Context())
	if err != nil {
		h.fail(w, err, "projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

// GET /api/v1/projects/{projectID}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.projectR.GetByID(r.Context(), r.PathValue("projectID"))
	if err != nil {
		h.fail(w, err, "project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/v1/projects/{projectID}/queues
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.queueR.ListByProject(r.Context(), r.PathValue("projectID"))
	if err != nil {
		h.fail(w, err, "queues")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": queues, "count": len(queues)})
}

// GET /api/v1/projects/{projectID}/queues/{queueID}
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := h.queueR.Get(r.Context(), r.PathValue("projectID"), r.PathValue("queueID"))
	if err != nil {
		h.fail(w, err, "queue")
		return
	}
	for i := range q.Tasks {
		reverseLogs(&q.Tasks[i])
	}
	writeJSON(w, http.StatusOK, q)
}

// GET /api/v1/projects/{projectID}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.taskR.ListByProject(r.Context(), r.PathValue("projectID"))
	if err != nil {
		h.fail(w, err, "tasks")
		return
	}
	for i := range tasks {
		reverseLogs(&tasks[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// GET /api/v1/stats/daily?date=&scope=
func (h *Handler) GetDailyStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = models.ScopeSystem
	}
	s, err := h.statsR.GetDaily(r.Context(), date, scope)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// A day with no executions reads as zeros, not a 404.
			writeJSON(w, http.StatusOK, models.NewDailyStats(date, scope))
			return
		}
		h.fail(w, err, "daily stats")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GET /api/v1/stats/executions?project_id=&limit=
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.statsR.ListExecutions(r.Context(), r.URL.Query().Get("project_id"), limit)
	if err != nil {
		h.fail(w, err, "executions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": recs, "count": len(recs)})
}

// reverseLogs flips a task's log entries to newest-first for display.
func reverseLogs(t *models.Task) {
	logs := t.Logs
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
}
