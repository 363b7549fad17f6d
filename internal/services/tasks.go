package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskpulse/backend/internal/models"
)

// TaskStore is the storage surface shared by the two task
// representations. The embedded backend keys on (project, queue, id);
// the flat backend ignores queueID.
type TaskStore interface {
	GetTask(ctx context.Context, projectID, queueID, taskID string) (*models.Task, error)
	SaveTask(ctx context.Context, projectID, queueID string, t *models.Task) error
	AppendToTask(ctx context.Context, projectID, queueID, taskID, field string, entry any, now time.Time) (*models.Task, error)
	InsertTask(ctx context.Context, projectID, queueID string, t *models.Task) error
	RemoveTask(ctx context.Context, projectID, queueID, taskID string) error
}

// TaskService implements the single-task operations (edit, status,
// message/log append, move, release, server-side create) once against
// TaskStore, specialized only by which backend a queue id selects.
type TaskService struct {
	Queues   TaskStore
	Flat     TaskStore
	Projects ProjectStore
	Stats    StatRecorder
	Now      func() time.Time
	Logger   *slog.Logger
}

func NewTaskService(queues, flat TaskStore, projects ProjectStore, stats StatRecorder, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		Queues:   queues,
		Flat:     flat,
		Projects: projects,
		Stats:    stats,
		Now:      time.Now,
		Logger:   logger,
	}
}

// store selects the backend: a named queue means the embedded store,
// otherwise the flat per-project store.
func (s *TaskService) store(queueID string) TaskStore {
	if queueID == "" {
		return s.Flat
	}
	return s.Queues
}

// Get returns one task.
func (s *TaskService) Get(ctx context.Context, projectID, queueID, taskID string) (*models.Task, error) {
	return s.store(queueID).GetTask(ctx, projectID, queueID, taskID)
}

// Edit applies a partial update. Editing a claimed task always clears
// the claim: whatever the claimant pulled no longer exists as pulled.
func (s *TaskService) Edit(ctx context.Context, projectID, queueID, taskID string, edit models.TaskEdit) (*models.Task, error) {
	if edit.Status != nil && !models.ValidStatuses[*edit.Status] {
		return nil, &models.ValidationError{Violations: []models.Violation{
			{Field: "status", Message: "unknown status"},
		}}
	}
	if edit.Priority != nil && !edit.Priority.Valid() {
		return nil, &models.ValidationError{Violations: []models.Violation{
			{Field: "priority", Message: "must be high, medium, low or an integer between 1 and 10"},
		}}
	}
	st := s.store(queueID)
	task, err := st.GetTask(ctx, projectID, queueID, taskID)
	if err != nil {
		return nil, err
	}
	edit.Apply(task, s.Now().UTC())
	if err := st.SaveTask(ctx, projectID, queueID, task); err != nil {
		return nil, err
	}
	s.touch(ctx, projectID)
	return task, nil
}

// StatusChange is the body of a status transition request.
type StatusChange struct {
	Status       string
	Report       string
	ErrorMessage string
	DurationMS   *int64
}

// SetStatus records a status transition and triggers aggregation when
// the transition is executional. The claim lock is left untouched.
func (s *TaskService) SetStatus(ctx context.Context, projectID, queueID, taskID string, change StatusChange, key *models.APIKey, hostname string) (*models.Task, error) {
	if !models.ValidStatuses[change.Status] {
		return nil, &models.ValidationError{Violations: []models.Violation{
			{Field: "status", Message: "unknown status"},
		}}
	}
	st := s.store(queueID)
	task, err := st.GetTask(ctx, projectID, queueID, taskID)
	if err != nil {
		return nil, err
	}
	prev := task.Status
	now := s.Now().UTC()
	task.Status = change.Status
	if change.Report != "" {
		task.Report = change.Report
	}
	task.UpdatedAt = now
	task.ServerModifiedAt = now
	if err := st.SaveTask(ctx, projectID, queueID, task); err != nil {
		return nil, err
	}
	s.touch(ctx, projectID)

	s.Stats.RecordAsync(ctx, ExecutionEvent{
		ProjectID:      projectID,
		QueueID:        queueID,
		TaskID:         taskID,
		PreviousStatus: prev,
		NewStatus:      change.Status,
		ErrorMessage:   change.ErrorMessage,
		DurationMS:     change.DurationMS,
		ClientHostname: hostname,
		APIKeyName:     key.ClaimantName(),
		OccurredAt:     now,
	})
	return task, nil
}

// AppendMessage appends one conversation turn.
func (s *TaskService) AppendMessage(ctx context.Context, projectID, queueID, taskID string, msg models.Message) (*models.Task, error) {
	role := strings.ToUpper(msg.Role)
	if role != models.MessageRoleUser && role != models.MessageRoleAssistant {
		return nil, &models.ValidationError{Violations: []models.Violation{
			{Field: "role", Message: "must be user or assistant"},
		}}
	}
	if msg.Content == "" || overLong(msg.Content, MaxContentLen) {
		return nil, &models.ValidationError{Violations: []models.Violation{
			{Field: "content", Message: fmt.Sprintf("is required and at most %d characters", MaxContentLen)},
		}}
	}
	msg.Role = role
	msg.CreatedAt = s.Now().UTC()
	return s.store(queueID).AppendToTask(ctx, projectID, queueID, taskID, "messages", msg, msg.CreatedAt)
}

// AppendLog appends one log entry. Entries are stored in append order;
// the dashboard read path renders them newest-first.
func (s *TaskService) AppendLog(ctx context.Context, projectID, queueID, taskID string, entry models.LogEntry) (*models.Task, error) {
	if entry.Content == "" || overLong(entry.Content, MaxContentLen) {
		return nil, &models.ValidationError{Violations: []models.Violation{
			{Field: "content", Message: fmt.Sprintf("is required and at most %d characters", MaxContentLen)},
		}}
	}
	entry.CreatedAt = s.Now().UTC()
	return s.store(queueID).AppendToTask(ctx, projectID, queueID, taskID, "logs", entry, entry.CreatedAt)
}

// Move relocates a task between the flat store and a named queue, or
// between two queues, preserving claim state, pull history, messages and
// logs. The destination must not already hold the id.
func (s *TaskService) Move(ctx context.Context, projectID, fromQueueID, toQueueID, taskID string) (*models.Task, error) {
	if fromQueueID == toQueueID {
		return nil, &models.ValidationError{Violations: []models.Violation{
			{Field: "to_queue_id", Message: "source and destination are the same"},
		}}
	}
	src, dst := s.store(fromQueueID), s.store(toQueueID)

	task, err := src.GetTask(ctx, projectID, fromQueueID, taskID)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	task.UpdatedAt = now
	task.ServerModifiedAt = now

	if err := dst.InsertTask(ctx, projectID, toQueueID, task); err != nil {
		return nil, err
	}
	if err := src.RemoveTask(ctx, projectID, fromQueueID, taskID); err != nil {
		// The task now exists in both places; a retried move converges
		// once the duplicate-destination insert is made idempotent by
		// this removal.
		s.Logger.Error("move: remove from source failed",
			"project_id", projectID, "queue_id", fromQueueID, "task_id", taskID, "error", err)
		return nil, err
	}
	s.touch(ctx, projectID)
	return task, nil
}

// Release clears the claim lock on each addressed task and completes the
// open pull-history entry. Returns how many tasks were actually released.
func (s *TaskService) Release(ctx context.Context, projectID, queueID string, taskIDs []string, releasedBy string) (int, error) {
	st := s.store(queueID)
	now := s.Now().UTC()
	released := 0
	for _, id := range taskIDs {
		task, err := st.GetTask(ctx, projectID, queueID, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return released, err
		}
		if !task.Claimed() {
			continue
		}
		task.PulledAt = nil
		task.PulledBy = ""
		if n := len(task.PullHistory); n > 0 && task.PullHistory[n-1].ReleasedAt == nil {
			task.PullHistory[n-1].ReleasedAt = &now
			task.PullHistory[n-1].ReleasedBy = releasedBy
		}
		task.UpdatedAt = now
		task.ServerModifiedAt = now
		if err := st.SaveTask(ctx, projectID, queueID, task); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// CreateParams describes a server-side task creation.
type CreateParams struct {
	ID        string
	Name      string
	Prompt    string
	SpecFile  []string
	Tags      []string
	Priority  models.Priority
	ExpiresAt *time.Time
}

// Create adds a server-sourced flat task intended for pull consumption.
func (s *TaskService) Create(ctx context.Context, projectID string, p CreateParams) (*models.Task, error) {
	var violations []models.Violation
	if p.ID == "" || overLong(p.ID, MaxIDLen) {
		violations = append(violations, models.Violation{Field: "id", Message: fmt.Sprintf("is required and at most %d characters", MaxIDLen)})
	}
	if p.Name == "" || overLong(p.Name, MaxNameLen) {
		violations = append(violations, models.Violation{Field: "name", Message: fmt.Sprintf("is required and at most %d characters", MaxNameLen)})
	}
	if !p.Priority.Valid() {
		violations = append(violations, models.Violation{Field: "priority", Message: "must be high, medium, low or an integer between 1 and 10"})
	}
	if len(violations) > 0 {
		return nil, &models.ValidationError{Violations: violations}
	}

	now := s.Now().UTC()
	task := &models.Task{
		ID:               p.ID,
		Name:             p.Name,
		Prompt:           p.Prompt,
		SpecFile:         p.SpecFile,
		Status:           models.TaskStatusPending,
		Tags:             p.Tags,
		Priority:         p.Priority,
		Source:           models.TaskSourceServer,
		ExpiresAt:        p.ExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
		ServerModifiedAt: now,
	}
	// First server-side creation may precede any submission; the project
	// has to exist for the watermark and the dashboard listings.
	if _, err := s.Projects.Upsert(ctx, projectID, projectID, nil); err != nil {
		return nil, fmt.Errorf("upsert project: %w", err)
	}
	if err := s.Flat.InsertTask(ctx, projectID, "", task); err != nil {
		return nil, err
	}
	s.touch(ctx, projectID)
	return task, nil
}

func (s *TaskService) touch(ctx context.Context, projectID string) {
	if err := s.Projects.TouchLastTask(ctx, projectID, s.Now().UTC()); err != nil {
		s.Logger.Warn("bump project watermark failed", "project_id", projectID, "error", err)
	}
}
