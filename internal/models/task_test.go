package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPriorityUnmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want Priority
	}{
		{`"high"`, Priority{Label: "high"}},
		{`"HIGH"`, Priority{Label: "high"}},
		{`"medium"`, Priority{Label: "medium"}},
		{`7`, Priority{Num: 7}},
		{`null`, Priority{}},
		{`""`, Priority{}},
	}
	for _, c := range cases {
		var p Priority
		if err := json.Unmarshal([]byte(c.in), &p); err != nil {
			t.Fatalf("unmarshal %s: %v", c.in, err)
		}
		if !p.Equal(c.want) {
			t.Errorf("unmarshal %s: got %+v, want %+v", c.in, p, c.want)
		}
	}

	var p Priority
	if err := json.Unmarshal([]byte(`{"level":"high"}`), &p); err == nil {
		t.Error("expected error for object priority")
	}
}

func TestPriorityMarshal(t *testing.T) {
	cases := []struct {
		in   Priority
		want string
	}{
		{Priority{Label: "low"}, `"low"`},
		{Priority{Num: 4}, `4`},
		{Priority{}, `null`},
	}
	for _, c := range cases {
		got, err := json.Marshal(c.in)
		if err != nil {
			t.Fatalf("marshal %+v: %v", c.in, err)
		}
		if string(got) != c.want {
			t.Errorf("marshal %+v: got %s, want %s", c.in, got, c.want)
		}
	}
}

func TestPriorityRank(t *testing.T) {
	cases := []struct {
		p    Priority
		want int
	}{
		{Priority{Label: PriorityHigh}, 3},
		{Priority{Label: PriorityMedium}, 2},
		{Priority{Label: PriorityLow}, 1},
		{Priority{Num: 7}, 7},
		{Priority{Num: 1}, 1},
		{Priority{}, 0},
	}
	for _, c := range cases {
		if got := c.p.Rank(); got != c.want {
			t.Errorf("rank of %+v: got %d, want %d", c.p, got, c.want)
		}
	}
}

func TestPriorityValid(t *testing.T) {
	valid := []Priority{{}, {Label: "high"}, {Label: "medium"}, {Label: "low"}, {Num: 1}, {Num: 10}}
	for _, p := range valid {
		if !p.Valid() {
			t.Errorf("%+v should be valid", p)
		}
	}
	invalid := []Priority{{Label: "urgent"}, {Num: 11}, {Num: -1}, {Label: "high", Num: 3}}
	for _, p := range invalid {
		if p.Valid() {
			t.Errorf("%+v should be invalid", p)
		}
	}
}

func TestTaskEditApplyClearsClaim(t *testing.T) {
	pulled := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	task := &Task{
		ID:       "t1",
		Name:     "old",
		Status:   TaskStatusPending,
		PulledAt: &pulled,
		PulledBy: "agent-7",
	}
	now := pulled.Add(time.Minute)
	name := "new"
	TaskEdit{Name: &name}.Apply(task, now)

	if task.Name != "new" {
		t.Errorf("name not applied: %q", task.Name)
	}
	if task.PulledAt != nil || task.PulledBy != "" {
		t.Error("edit must clear the claim lock")
	}
	if !task.UpdatedAt.Equal(now) || !task.ServerModifiedAt.Equal(now) {
		t.Error("edit must bump updated_at and server_modified_at")
	}
}

func TestTaskEditApplyPartial(t *testing.T) {
	task := &Task{ID: "t1", Name: "keep", Prompt: "keep", Status: TaskStatusPending}
	status := TaskStatusCancelled
	TaskEdit{Status: &status}.Apply(task, time.Now())

	if task.Name != "keep" || task.Prompt != "keep" {
		t.Error("nil edit fields must be left untouched")
	}
	if task.Status != TaskStatusCancelled {
		t.Errorf("status not applied: %q", task.Status)
	}
}

func TestTaskExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if (&Task{}).Expired(now) {
		t.Error("task without expiry must not be expired")
	}
	if !(&Task{ExpiresAt: &past}).Expired(now) {
		t.Error("past expiry must read expired")
	}
	if !(&Task{ExpiresAt: &now}).Expired(now) {
		t.Error("expiry exactly now must read expired")
	}
	if (&Task{ExpiresAt: &future}).Expired(now) {
		t.Error("future expiry must not read expired")
	}
}
