package models

import "time"

// ClientInfo identifies the producing client's environment. When a
// submission carries a client_info object, each sub-field is overwritten
// independently; an omitted object leaves prior values untouched.
type ClientInfo struct {
	Username string `json:"username,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Project groups queues and flat tasks under a client-chosen identifier.
// Created on first submission; never hard-deleted by the core.
type Project struct {
	ProjectID  string     `json:"project_id"`
	Name       string     `json:"name"`
	ClientInfo ClientInfo `json:"client_info"`
	LastTaskAt *time.Time `json:"last_task_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Queue is the embedded task store: one document per (project, queue)
// pair holding the ordered task list. Submissions replace the task array
// wholesale; the reconciler decides per task what survives.
type Queue struct {
	ProjectID  string         `json:"project_id"`
	QueueID    string         `json:"queue_id"`
	Name       string         `json:"name"`
	Meta       map[string]any `json:"meta,omitempty"`
	Tasks      []Task         `json:"tasks"`
	LastTaskAt time.Time      `json:"last_task_at"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// FindTask returns the embedded task with the given id, or nil.
func (q *Queue) FindTask(id string) *Task {
	for i := range q.Tasks {
		if q.Tasks[i].ID == id {
			return &q.Tasks[i]
		}
	}
	return nil
}
