package models

import (
	"sort"
	"testing"
	"time"
)

func serverTask(id string) Task {
	return Task{
		ID:        id,
		Name:      id,
		Status:    TaskStatusPending,
		Source:    TaskSourceServer,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPullFilterMatchesEligibility(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &PullFilter{ProjectID: "p1"}

	ok := serverTask("t1")
	if !f.Matches(&ok, now) {
		t.Fatal("plain server-sourced pending task must match")
	}

	client := serverTask("t2")
	client.Source = TaskSourceClient
	if f.Matches(&client, now) {
		t.Error("client-sourced tasks must never be eligible")
	}

	claimed := serverTask("t3")
	claimed.PulledAt = &now
	if f.Matches(&claimed, now) {
		t.Error("claimed tasks must be excluded")
	}

	deleted := serverTask("t4")
	deleted.DeletedAt = &now
	if f.Matches(&deleted, now) {
		t.Error("soft-deleted tasks must be excluded")
	}

	expired := serverTask("t5")
	past := now.Add(-time.Minute)
	expired.ExpiresAt = &past
	if f.Matches(&expired, now) {
		t.Error("expired tasks must be excluded")
	}
}

func TestPullFilterMatchesConstraints(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	task := serverTask("t1")
	task.Tags = []string{"node", "urgent"}
	task.ServerModifiedAt = now.Add(-time.Hour)

	byStatus := &PullFilter{Status: TaskStatusDone}
	if byStatus.Matches(&task, now) {
		t.Error("status filter must exclude non-matching status")
	}

	byTags := &PullFilter{Tags: []string{"python", "urgent"}}
	if !byTags.Matches(&task, now) {
		t.Error("tag filter is any-of; one shared tag must match")
	}
	noTags := &PullFilter{Tags: []string{"python"}}
	if noTags.Matches(&task, now) {
		t.Error("no shared tag must not match")
	}

	early := now.Add(-2 * time.Hour)
	since := &PullFilter{ModifiedAfter: &early}
	if !since.Matches(&task, now) {
		t.Error("modified_after before the watermark must match")
	}
	late := now
	sinceLate := &PullFilter{ModifiedAfter: &late}
	if sinceLate.Matches(&task, now) {
		t.Error("modified_after past the watermark must not match")
	}

	pr := Priority{Label: PriorityHigh}
	byPriority := &PullFilter{Priority: &pr}
	if byPriority.Matches(&task, now) {
		t.Error("priority filter must require the exact representation")
	}
	task.Priority = Priority{Label: PriorityHigh}
	if !byPriority.Matches(&task, now) {
		t.Error("matching priority must pass")
	}
	numPr := Priority{Num: 3}
	byNum := &PullFilter{Priority: &numPr}
	if byNum.Matches(&task, now) {
		t.Error("numeric 3 must not match label high even though ranks agree")
	}
}

func TestClaimBeforeOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mk := func(id string, p Priority, created time.Time) *Task {
		t := serverTask(id)
		t.Priority = p
		t.CreatedAt = created
		return &t
	}

	high := mk("high", Priority{Label: PriorityHigh}, base.Add(time.Hour))
	medium := mk("medium", Priority{Label: PriorityMedium}, base)
	low := mk("low", Priority{Label: PriorityLow}, base)
	oldNone := mk("old-none", Priority{}, base)
	newNone := mk("new-none", Priority{}, base.Add(time.Minute))
	num7 := mk("num7", Priority{Num: 7}, base.Add(2*time.Hour))

	tasks := []*Task{newNone, low, num7, oldNone, medium, high}
	sort.SliceStable(tasks, func(i, j int) bool { return ClaimBefore(tasks[i], tasks[j]) })

	want := []string{"num7", "high", "medium", "low", "old-none", "new-none"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("position %d: got %s, want %s (full order: %v)", i, tasks[i].ID, id, ids(tasks))
		}
	}
}

func ids(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestPullFilterNormalize(t *testing.T) {
	f := &PullFilter{}
	f.Normalize()
	if f.Limit != DefaultPullLimit {
		t.Errorf("default limit: got %d, want %d", f.Limit, DefaultPullLimit)
	}
	f = &PullFilter{Limit: 5000}
	f.Normalize()
	if f.Limit != MaxPullLimit {
		t.Errorf("max limit: got %d, want %d", f.Limit, MaxPullLimit)
	}
}
