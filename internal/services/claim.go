package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/taskpulse/backend/internal/models"
)

// TaskSource is one claimable pool of tasks: an embedded queue or a
// project's flat store. Claim must re-assert unclaimed and undeleted in
// the same atomic operation that takes the lock; ok=false reports a lost
// race, not an error.
type TaskSource interface {
	Tasks(ctx context.Context, projectID, queueID string) ([]models.Task, error)
	Claim(ctx context.Context, projectID, queueID, taskID, claimant string, now time.Time) (*models.Task, bool, error)
}

// TopClaimer is implemented by sources that can claim their best-ranked
// eligible task in a single operation. The scheduler prefers it over the
// snapshot-then-claim loop when available.
type TopClaimer interface {
	ClaimTop(ctx context.Context, f models.PullFilter, claimant string, now time.Time) (*models.Task, bool, error)
}

// Scheduler selects, orders and atomically claims eligible pending tasks
// for one pull request. There are no locks and no retries: a candidate
// lost to a concurrent claimant is skipped silently and the client is
// expected to re-poll.
type Scheduler struct {
	Source TaskSource
	Now    func() time.Time
	Logger *slog.Logger
}

func NewScheduler(source TaskSource, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{Source: source, Now: time.Now, Logger: logger}
}

// Pull claims up to f.Limit eligible tasks and returns them in claim
// order along with the pull timestamp stamped on each claim.
func (s *Scheduler) Pull(ctx context.Context, f models.PullFilter, claimant string) ([]models.Task, time.Time, error) {
	f.Normalize()
	now := s.Now().UTC()

	if tc, ok := s.Source.(TopClaimer); ok {
		tasks, err := s.pullTop(ctx, tc, f, claimant, now)
		return tasks, now, err
	}

	// Snapshot the eligible candidates in claim order, then claim one by
	// one. Each claim re-checks its own precondition, so candidates taken
	// by a concurrent request since the read drop out here.
	all, err := s.Source.Tasks(ctx, f.ProjectID, f.QueueID)
	if err != nil {
		return nil, now, err
	}
	candidates := make([]*models.Task, 0, len(all))
	for i := range all {
		if f.Matches(&all[i], now) {
			candidates = append(candidates, &all[i])
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return models.ClaimBefore(candidates[i], candidates[j])
	})

	claimed := make([]models.Task, 0, min(len(candidates), f.Limit))
	for _, c := range candidates {
		if len(claimed) >= f.Limit {
			break
		}
		t, ok, err := s.Source.Claim(ctx, f.ProjectID, f.QueueID, c.ID, claimant, now)
		if err != nil {
			return nil, now, err
		}
		if !ok {
			s.Logger.Debug("claim lost race, skipping",
				"project_id", f.ProjectID, "queue_id", f.QueueID, "task_id", c.ID)
			continue
		}
		claimed = append(claimed, *t)
	}
	return claimed, now, nil
}

// pullTop repeats claim-the-top-match until the limit is reached or the
// pool is exhausted.
func (s *Scheduler) pullTop(ctx context.Context, tc TopClaimer, f models.PullFilter, claimant string, now time.Time) ([]models.Task, error) {
	claimed := make([]models.Task, 0, f.Limit)
	for len(claimed) < f.Limit {
		t, ok, err := tc.ClaimTop(ctx, f, claimant, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		claimed = append(claimed, *t)
	}
	return claimed, nil
}
