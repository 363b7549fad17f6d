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

// ProjectStore is the project repository surface the reconciler needs.
type ProjectStore interface {
	Upsert(ctx context.Context, projectID, name string, clientInfo *models.ClientInfo) (*models.Project, error)
	TouchLastTask(ctx context.Context, projectID string, at time.Time) error
}

// QueueStore is the embedded-queue repository surface the reconciler needs.
type QueueStore interface {
	Get(ctx context.Context, projectID, queueID string) (*models.Queue, error)
	Upsert(ctx context.Context, q *models.Queue) error
}

// SubmitResult reports the coarse created/updated split of a batch: all
// tasks count as created when the queue did not previously exist,
// otherwise as updated. It is not a per-task diff.
type SubmitResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Reconciler accepts full batch submissions and performs the idempotent
// upsert: validate everything first, upsert the project, rebuild the
// queue's task array wholesale, and preserve server-side conversation
// history when a producer replays an unchanged terminal task.
type Reconciler struct {
	Projects  ProjectStore
	Queues    QueueStore
	Validator *Validator
	Stats     StatRecorder
	Now       func() time.Time
	Logger    *slog.Logger
}

func NewReconciler(projects ProjectStore, queues QueueStore, validator *Validator, stats StatRecorder, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		Projects:  projects,
		Queues:    queues,
		Validator: validator,
		Stats:     stats,
		Now:       time.Now,
		Logger:    logger,
	}
}

// Submit applies one batch. The steps are individually idempotent rather
// than wrapped in a cross-document transaction: a retry of the whole
// request converges to the same stored state.
func (r *Reconciler) Submit(ctx context.Context, batch *SubmitBatch, key *models.APIKey) (*SubmitResult, error) {
	if err := r.Validator.ValidateSubmit(batch); err != nil {
		return nil, err
	}
	now := r.Now().UTC()

	project, err := r.Projects.Upsert(ctx, batch.ProjectID, batch.ProjectName, batch.ClientInfo)
	if err != nil {
		return nil, fmt.Errorf("upsert project: %w", err)
	}

	// The stored queue must be read before the new array is built: the
	// preservation rule and the stat triggers both key on what was there.
	existing, err := r.Queues.Get(ctx, batch.ProjectID, batch.QueueID)
	existed := true
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("read queue: %w", err)
		}
		existed = false
		existing = &models.Queue{}
	}

	tasks := make([]models.Task, 0, len(batch.Tasks))
	var events []ExecutionEvent
	for _, in := range batch.Tasks {
		stored := existing.FindTask(in.ID)
		task := r.buildTask(in, stored, now)
		tasks = append(tasks, task)

		if stored != nil && stored.Status == models.TaskStatusPending && models.IsTerminal(task.Status) {
			events = append(events, ExecutionEvent{
				ProjectID:      batch.ProjectID,
				QueueID:        batch.QueueID,
				TaskID:         task.ID,
				PreviousStatus: stored.Status,
				NewStatus:      task.Status,
				ErrorMessage:   task.Report,
				ClientHostname: project.ClientInfo.Hostname,
				APIKeyName:     key.ClaimantName(),
				OccurredAt:     now,
			})
		}
	}

	queue := &models.Queue{
		ProjectID:  batch.ProjectID,
		QueueID:    batch.QueueID,
		Name:       batch.QueueName,
		Meta:       batch.Meta,
		Tasks:      tasks,
		LastTaskAt: now,
	}
	if err := r.Queues.Upsert(ctx, queue); err != nil {
		return nil, fmt.Errorf("upsert queue: %w", err)
	}

	if err := r.Projects.TouchLastTask(ctx, batch.ProjectID, now); err != nil {
		// The queue write already landed; a retry converges.
		r.Logger.Warn("bump project watermark failed", "project_id", batch.ProjectID, "error", err)
	}

	// Aggregation is fire-and-forget; failures never roll back the batch.
	for _, e := range events {
		r.Stats.RecordAsync(ctx, e)
	}

	result := &SubmitResult{}
	if existed {
		result.Updated = len(tasks)
	} else {
		result.Created = len(tasks)
	}
	return result, nil
}

// buildTask constructs the stored form of one submitted task. When the
// producer replays a terminal task whose stored status is identical, the
// stored messages and logs survive: history appended server-side after
// the terminal state was first recorded must not be erased by an
// at-least-once resubmission. Any other combination takes the submitted
// messages/logs wholesale.
func (r *Reconciler) buildTask(in SubmitTask, stored *models.Task, now time.Time) models.Task {
	task := models.Task{
		ID:               in.ID,
		Name:             in.Name,
		Prompt:           in.Prompt,
		SpecFile:         in.SpecFile,
		Status:           in.Status,
		Report:           in.Report,
		Tags:             in.Tags,
		Priority:         in.Priority,
		Source:           models.TaskSourceClient,
		CreatedAt:        now,
		UpdatedAt:        now,
		ServerModifiedAt: now,
	}
	if stored != nil {
		task.CreatedAt = stored.CreatedAt
		task.ServerModifiedAt = stored.ServerModifiedAt
		task.PullHistory = stored.PullHistory
		// A resubmission always clears the claim lock, even when the
		// task was pulled in between: submission trumps claim.
	}

	preserve := stored != nil && models.IsTerminal(in.Status) && stored.Status == in.Status
	if preserve {
		task.Messages = stored.Messages
		task.Logs = stored.Logs
		return task
	}

	if len(in.Messages) > 0 {
		task.Messages = make([]models.Message, len(in.Messages))
		for i, m := range in.Messages {
			task.Messages[i] = models.Message{
				Role:      strings.ToUpper(m.Role),
				Content:   m.Content,
				SessionID: m.SessionID,
				CreatedAt: now,
			}
		}
	}
	if len(in.Logs) > 0 {
		task.Logs = make([]models.LogEntry, len(in.Logs))
		for i, l := range in.Logs {
			task.Logs[i] = models.LogEntry{Content: l.Content, CreatedAt: now}
		}
	}
	return task
}
