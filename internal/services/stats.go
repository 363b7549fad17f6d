package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskpulse/backend/internal/models"
)

// ExecutionEvent describes a single task status transition plus the
// attribution the aggregator records. Only executional transitions
// (pending to done/error) count; everything else is ignored.
type ExecutionEvent struct {
	ProjectID      string `json:"project_id"`
	QueueID        string `json:"queue_id,omitempty"`
	TaskID         string `json:"task_id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	ErrorMessage   string `json:"error_message,omitempty"`
	DurationMS     *int64 `json:"duration_ms,omitempty"`
	ClientHostname string `json:"client_hostname,omitempty"`
	APIKeyName     string `json:"api_key_name,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Executional reports whether this transition counts as one execution:
// the previous recorded status was pending and the new one is terminal.
func (e ExecutionEvent) Executional() bool {
	return e.PreviousStatus == models.TaskStatusPending && models.IsTerminal(e.NewStatus)
}

// StatRecorder triggers asynchronous aggregation. Implementations must
// never surface failures to the caller of the triggering status change.
type StatRecorder interface {
	RecordAsync(ctx context.Context, e ExecutionEvent)
}

// StatStore persists daily counter documents and audit rows.
type StatStore interface {
	GetDaily(ctx context.Context, date, scope string) (*models.DailyStats, error)
	SaveDaily(ctx context.Context, s *models.DailyStats) error
	InsertExecution(ctx context.Context, rec *models.ExecutionRecord) error
}

// Aggregator turns executional status transitions into an immutable
// audit row plus increments on the project-scoped and system-wide daily
// counters. Increments are read-modify-write and may race under
// concurrency; the counters feed dashboards, not billing, so
// approximate-but-available wins over linearizable.
type Aggregator struct {
	Store  StatStore
	Logger *slog.Logger
}

func NewAggregator(store StatStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{Store: store, Logger: logger}
}

// Record processes one event. Non-executional events are a no-op.
func (a *Aggregator) Record(ctx context.Context, e ExecutionEvent) error {
	if !e.Executional() {
		return nil
	}
	at := e.OccurredAt.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	rec := &models.ExecutionRecord{
		ID:             uuid.New(),
		Date:           at.Format("2006-01-02"),
		Hour:           at.Hour(),
		ProjectID:      e.ProjectID,
		QueueID:        e.QueueID,
		TaskID:         e.TaskID,
		Result:         models.ExecutionSuccess,
		DurationMS:     e.DurationMS,
		ClientHostname: e.ClientHostname,
		APIKeyName:     e.APIKeyName,
		CreatedAt:      at,
	}
	if e.NewStatus == models.TaskStatusError {
		rec.Result = models.ExecutionFailure
		rec.ErrorType = CategorizeError(e.ErrorMessage)
		rec.ErrorMessage = e.ErrorMessage
	}

	if err := a.Store.InsertExecution(ctx, rec); err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}

	for _, scope := range []string{e.ProjectID, models.ScopeSystem} {
		if err := a.increment(ctx, rec, scope); err != nil {
			return fmt.Errorf("increment %s counters: %w", scope, err)
		}
	}
	return nil
}

func (a *Aggregator) increment(ctx context.Context, rec *models.ExecutionRecord, scope string) error {
	stats, err := a.Store.GetDaily(ctx, rec.Date, scope)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		stats = models.NewDailyStats(rec.Date, scope)
	}
	stats.Count(rec)
	stats.UpdatedAt = time.Now().UTC()
	return a.Store.SaveDaily(ctx, stats)
}

// CategorizeError buckets an error message by keyword match.
func CategorizeError(msg string) string {
	if msg == "" {
		return models.ErrorTypeUnknown
	}
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "timeout") || strings.Contains(m, "timed out") || strings.Contains(m, "deadline"):
		return models.ErrorTypeTimeout
	case strings.Contains(m, "network") || strings.Contains(m, "connection") || strings.Contains(m, "dns") || strings.Contains(m, "unreachable"):
		return models.ErrorTypeNetwork
	case strings.Contains(m, "invalid") || strings.Contains(m, "validation") || strings.Contains(m, "schema") || strings.Contains(m, "malformed"):
		return models.ErrorTypeValidation
	case strings.Contains(m, "permission") || strings.Contains(m, "denied") || strings.Contains(m, "forbidden") || strings.Contains(m, "unauthorized"):
		return models.ErrorTypePermission
	case strings.Contains(m, "not found") || strings.Contains(m, "404") || strings.Contains(m, "missing"):
		return models.ErrorTypeNotFound
	default:
		return models.ErrorTypeOther
	}
}
