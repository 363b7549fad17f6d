package jobs

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/taskpulse/backend/internal/services"
)

// RecordExecutionArgs carries one status-transition event into the
// background aggregation job.
type RecordExecutionArgs struct {
	Event services.ExecutionEvent `json:"event"`
}

func (RecordExecutionArgs) Kind() string { return "record_execution" }

// RecordExecutionWorker folds one execution event into the daily stats.
type RecordExecutionWorker struct {
	river.WorkerDefaults[RecordExecutionArgs]
	aggregator *services.Aggregator
}

func NewRecordExecutionWorker(agg *services.Aggregator) *RecordExecutionWorker {
	return &RecordExecutionWorker{aggregator: agg}
}

func (w *RecordExecutionWorker) Work(ctx context.Context, job *river.Job[RecordExecutionArgs]) error {
	return w.aggregator.Record(ctx, job.Args.Event)
}

// InsertRecordExecutionFunc enqueues a RecordExecution job. Provided by
// main as a closure over river.Client.Insert.
type InsertRecordExecutionFunc func(ctx context.Context, args RecordExecutionArgs) error

// Enqueuer implements services.StatRecorder by inserting a River job per
// executional event. Enqueue failures are logged and swallowed: a lost
// counter increment must never fail the status change that produced it.
type Enqueuer struct {
	insert InsertRecordExecutionFunc
	logger *slog.Logger
}

func NewEnqueuer(insert InsertRecordExecutionFunc, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{insert: insert, logger: logger}
}

func (e *Enqueuer) RecordAsync(ctx context.Context, ev services.ExecutionEvent) {
	if !ev.Executional() {
		return
	}
	if err := e.insert(ctx, RecordExecutionArgs{Event: ev}); err != nil {
		e.logger.Error("failed to enqueue execution record",
			"project_id", ev.ProjectID, "task_id", ev.TaskID, "error", err)
	}
}
