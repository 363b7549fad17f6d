package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taskpulse/backend/internal/middleware"
	"github.com/taskpulse/backend/internal/models"
	"github.com/taskpulse/backend/internal/services"
)

// PullHandler serves the claim endpoints. Queue pulls go through the
// embedded store's scheduler, project-wide pulls through the flat one.
type PullHandler struct {
	Queue  *services.Scheduler
	Flat   *services.Scheduler
	Logger *slog.Logger
}

type pullResponse struct {
	Tasks    []models.Task `json:"tasks"`
	Count    int           `json:"count"`
	PulledAt time.Time     `json:"pulled_at"`
}

// PullQueue handles GET /v1/projects/{projectID}/queues/{queueID}/tasks/pull.
func (h *PullHandler) PullQueue(w http.ResponseWriter, r *http.Request) {
	h.pull(w, r, h.Queue, r.PathValue("queueID"))
}

// PullProject handles GET /v1/projects/{projectID}/tasks/pull.
func (h *PullHandler) PullProject(w http.ResponseWriter, r *http.Request) {
	h.pull(w, r, h.Flat, "")
}

func (h *PullHandler) pull(w http.ResponseWriter, r *http.Request, sched *services.Scheduler, queueID string) {
	key := middleware.KeyFromCtx(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "authentication required")
		return
	}
	projectID := r.PathValue("projectID")
	if !key.Authorized(projectID) {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidAPIKey, "API key is not valid for this project")
		return
	}

	f, err := parsePullFilter(r, projectID, queueID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}

	tasks, pulledAt, err := sched.Pull(r.Context(), f, key.ClaimantName())
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, pullResponse{Tasks: tasks, Count: len(tasks), PulledAt: pulledAt})
}

func parsePullFilter(r *http.Request, projectID, queueID string) (models.PullFilter, error) {
	q := r.URL.Query()
	f := models.PullFilter{
		ProjectID: projectID,
		QueueID:   queueID,
		Status:    q.Get("status"),
	}
	var violations []models.Violation

	if tags := q.Get("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Tags = append(f.Tags, t)
			}
		}
	}

	parseTime := func(param string, dst **time.Time) {
		v := q.Get(param)
		if v == "" {
			return
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			violations = append(violations, models.Violation{Field: param, Message: "must be an RFC 3339 timestamp"})
			return
		}
		*dst = &ts
	}
	parseTime("created_after", &f.CreatedAfter)
	parseTime("created_before", &f.CreatedBefore)
	parseTime("modified_after", &f.ModifiedAfter)
	parseTime("modified_before", &f.ModifiedBefore)
	// since is the documented alias clients use for incremental pulls.
	if f.ModifiedAfter == nil {
		parseTime("since", &f.ModifiedAfter)
	}

	if p := q.Get("priority"); p != "" {
		pr, ok := parsePriority(p)
		if !ok {
			violations = append(violations, models.Violation{Field: "priority", Message: "must be high, medium, low or an integer between 1 and 10"})
		} else {
			f.Priority = &pr
		}
	}

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			violations = append(violations, models.Violation{Field: "limit", Message: "must be a positive integer"})
		} else {
			f.Limit = n
		}
	}

	if len(violations) > 0 {
		return f, &models.ValidationError{Violations: violations}
	}
	return f, nil
}

func parsePriority(s string) (models.Priority, bool) {
	var p models.Priority
	if n, err := strconv.Atoi(s); err == nil {
		p.Num = n
	} else {
		p.Label = s
	}
	return p, !p.IsZero() && p.Valid()
}
