package models

import "time"

// Pull request limits.
const (
	DefaultPullLimit = 100
	MaxPullLimit     = 1000
)

// PullFilter constrains a claim request. Zero-value fields are
// unconstrained. An empty QueueID addresses the flat per-project store.
type PullFilter struct {
	ProjectID string
	QueueID   string

	Status         string
	Tags           []string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	ModifiedAfter  *time.Time
	ModifiedBefore *time.Time
	Priority       *Priority
	Limit          int
}

// Normalize applies the default and maximum limit.
func (f *PullFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultPullLimit
	}
	if f.Limit > MaxPullLimit {
		f.Limit = MaxPullLimit
	}
}

// Matches reports whether the task is eligible for this pull as of now:
// server-sourced, unclaimed, live, unexpired, and passing every supplied
// constraint.
func (f *PullFilter) Matches(t *Task, now time.Time) bool {
	if t.Source != TaskSourceServer {
		return false
	}
	if t.Claimed() || t.DeletedAt != nil || t.Expired(now) {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if len(f.Tags) > 0 && !anyTag(t.Tags, f.Tags) {
		return false
	}
	if f.CreatedAfter != nil && !t.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !t.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.ModifiedAfter != nil && !t.ServerModifiedAt.After(*f.ModifiedAfter) {
		return false
	}
	if f.ModifiedBefore != nil && !t.ServerModifiedAt.Before(*f.ModifiedBefore) {
		return false
	}
	if f.Priority != nil && !t.Priority.Equal(*f.Priority) {
		return false
	}
	return true
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// ClaimBefore orders tasks for claiming: priority rank descending, then
// oldest created first.
func ClaimBefore(a, b *Task) bool {
	ra, rb := a.Priority.Rank(), b.Priority.Rank()
	if ra != rb {
		return ra > rb
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
