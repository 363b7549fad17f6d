package router

import (
	"net/http"

	"github.com/taskpulse/backend/internal/dashboard"
)

// New returns an http.Handler that serves the read-only dashboard API
// under /api/v1.
func New(dashHandler *dashboard.Handler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"
	mux.HandleFunc("GET "+base+"/projects", dashHandler.ListProjects)
	mux.HandleFunc("GET "+base+"/projects/{projectID}", dashHandler.GetProject)
	mux.HandleFunc("GET "+base+"/projects/{projectID}/queues", dashHandler.ListQueues)
	mux.HandleFunc("GET "+base+"/projects/{projectID}/queues/{queueID}", dashHandler.GetQueue)
	mux.HandleFunc("GET "+base+"/projects/{projectID}/tasks", dashHandler.ListTasks)
	mux.HandleFunc("GET "+base+"/stats/daily", dashHandler.GetDailyStats)
	mux.HandleFunc("GET "+base+"/stats/executions", dashHandler.ListExecutions)
	return mux
}
