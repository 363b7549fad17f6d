package main

import (
	"log/slog"
	"net/http"

	"github.com/taskpulse/backend/internal/handlers"
	"github.com/taskpulse/backend/internal/middleware"
	"github.com/taskpulse/backend/internal/repository"
	"github.com/taskpulse/backend/internal/services"
)

// RegisterV1Routes adds the /v1/ ingestion and claim endpoints to the
// given mux. Middleware chain: APIKeyAuth -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	projectRepo *repository.ProjectRepo,
	queueRepo *repository.QueueRepo,
	taskRepo *repository.TaskRepo,
	apiKeyRepo *repository.APIKeyRepo,
	validator *services.Validator,
	stats services.StatRecorder,
	logger *slog.Logger,
) {
	reconciler := services.NewReconciler(projectRepo, queueRepo, validator, stats, logger)
	taskSvc := services.NewTaskService(queueRepo, taskRepo, projectRepo, stats, logger)

	sh := &handlers.SubmitHandler{Reconciler: reconciler, Validator: validator, Logger: logger}
	ph := &handlers.PullHandler{
		Queue:  services.NewScheduler(queueRepo, logger),
		Flat:   services.NewScheduler(taskRepo, logger),
		Logger: logger,
	}
	th := &handlers.TaskHandler{Service: taskSvc, Logger: logger}

	auth := middleware.APIKeyAuth(apiKeyRepo)

	post := func(pattern string, h http.HandlerFunc) {
		mux.Handle("POST "+pattern, auth(h))
	}

	post("/v1/submit", sh.Submit)
	mux.Handle("GET /v1/projects/{projectID}/queues/{queueID}/tasks/pull", auth(http.HandlerFunc(ph.PullQueue)))
	mux.Handle("GET /v1/projects/{projectID}/tasks/pull", auth(http.HandlerFunc(ph.PullProject)))
	post("/v1/projects/{projectID}/tasks", th.Create)
	mux.Handle("PUT /v1/tasks", auth(http.HandlerFunc(th.Edit)))
	post("/v1/tasks/status", th.SetStatus)
	post("/v1/tasks/messages", th.AppendMessage)
	post("/v1/tasks/logs", th.AppendLog)
	post("/v1/tasks/move", th.Move)
	post("/v1/tasks/release", th.Release)
}
