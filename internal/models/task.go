package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Task status enum. Producing clients only ever submit pending/done/error;
// running and cancelled are assigned server-side on the pull pathway.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusDone      = "done"
	TaskStatusError     = "error"
	TaskStatusCancelled = "cancelled"
)

// Task source: who created the task. Only server-sourced tasks are
// eligible for pulling.
const (
	TaskSourceClient = "client"
	TaskSourceServer = "server"
)

// Message roles are stored uppercase regardless of submitted casing.
const (
	MessageRoleUser      = "USER"
	MessageRoleAssistant = "ASSISTANT"
)

// SubmittableStatuses are the statuses a batch submission may assert.
var SubmittableStatuses = map[string]bool{
	TaskStatusPending: true,
	TaskStatusDone:    true,
	TaskStatusError:   true,
}

// ValidStatuses covers every status the server itself may set.
var ValidStatuses = map[string]bool{
	TaskStatusPending:   true,
	TaskStatusRunning:   true,
	TaskStatusDone:      true,
	TaskStatusError:     true,
	TaskStatusCancelled: true,
}

// IsTerminal reports whether status is done or error, the states the
// reconciler's history-preservation rule applies to.
func IsTerminal(status string) bool {
	return status == TaskStatusDone || status == TaskStatusError
}

// Priority holds one of two mutually exclusive representations: a named
// level (high/medium/low) or an integer 1-10. The two spaces are never
// normalized against each other; Rank puts both on a single comparison
// scale for claim ordering.
type Priority struct {
	Label string
	Num   int
}

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var priorityRanks = map[string]int{
	PriorityHigh:   3,
	PriorityMedium: 2,
	PriorityLow:    1,
}

// IsZero reports whether no priority was set.
func (p Priority) IsZero() bool { return p.Label == "" && p.Num == 0 }

// Valid reports whether the priority is unset, a known label, or an
// integer in 1-10.
func (p Priority) Valid() bool {
	if p.Label != "" && p.Num != 0 {
		return false
	}
	if p.Label != "" {
		_, ok := priorityRanks[p.Label]
		return ok
	}
	return p.Num >= 0 && p.Num <= 10
}

// Rank maps the priority onto the claim-ordering scale: named levels rank
// high=3, medium=2, low=1; numeric priorities rank as their own value;
// absent ranks 0. Higher rank claims first.
func (p Priority) Rank() int {
	if p.Label != "" {
		return priorityRanks[p.Label]
	}
	return p.Num
}

// Equal reports whether two priorities carry the same representation and value.
func (p Priority) Equal(o Priority) bool { return p.Label == o.Label && p.Num == o.Num }

func (p Priority) MarshalJSON() ([]byte, error) {
	if p.Label != "" {
		return json.Marshal(p.Label)
	}
	if p.Num != 0 {
		return json.Marshal(p.Num)
	}
	return []byte("null"), nil
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*p = Priority{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var label string
		if err := json.Unmarshal(b, &label); err != nil {
			return err
		}
		*p = Priority{Label: strings.ToLower(label)}
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("priority must be a string or an integer: %w", err)
	}
	*p = Priority{Num: n}
	return nil
}

// Message is one conversation turn. Stored ascending by creation time.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is one free-text log line. Stored ascending; the dashboard
// read path renders newest-first.
type LogEntry struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PullRecord is one entry of a task's append-only claim audit trail. It
// is never consulted by the locking algorithm, only shown on dashboards.
type PullRecord struct {
	PulledAt   time.Time  `json:"pulled_at"`
	PulledBy   string     `json:"pulled_by"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	ReleasedBy string     `json:"released_by,omitempty"`
}

// Task is the logical work item. It has two physical representations:
// embedded in a queue document's task array, or a flat per-project row.
// The JSON field names double as the embedded storage format.
type Task struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Prompt   string   `json:"prompt,omitempty"`
	SpecFile []string `json:"spec_file,omitempty"`
	Status   string   `json:"status"`
	Report   string   `json:"report,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Source   string   `json:"source"`
	Priority Priority `json:"priority,omitzero"`

	PulledAt  *time.Time `json:"pulled_at,omitempty"`
	PulledBy  string     `json:"pulled_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	PullHistory []PullRecord `json:"pull_history,omitempty"`
	Messages    []Message    `json:"messages,omitempty"`
	Logs        []LogEntry   `json:"logs,omitempty"`

	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ServerModifiedAt time.Time `json:"server_modified_at"`
}

// Claimed reports whether the task currently holds a claim lock.
func (t *Task) Claimed() bool { return t.PulledAt != nil }

// Expired reports whether the task's expiry has passed as of now.
func (t *Task) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// TaskEdit is a partial task update. Nil fields are left untouched.
// Applying any edit invalidates an existing claim.
type TaskEdit struct {
	Name      *string    `json:"name,omitempty"`
	Prompt    *string    `json:"prompt,omitempty"`
	SpecFile  []string   `json:"spec_file,omitempty"`
	Status    *string    `json:"status,omitempty"`
	Report    *string    `json:"report,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Priority  *Priority  `json:"priority,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Apply copies the non-nil edit fields onto the task and stamps the
// server-modification watermark. The claim lock is always cleared: an
// edit invalidates whatever the claimant thought it was holding.
func (e TaskEdit) Apply(t *Task, now time.Time) {
	if e.Name != nil {
		t.Name = *e.Name
	}
	if e.Prompt != nil {
		t.Prompt = *e.Prompt
	}
	if e.SpecFile != nil {
		t.SpecFile = e.SpecFile
	}
	if e.Status != nil {
		t.Status = *e.Status
	}
	if e.Report != nil {
		t.Report = *e.Report
	}
	if e.Tags != nil {
		t.Tags = e.Tags
	}
	if e.Priority != nil {
		t.Priority = *e.Priority
	}
	if e.ExpiresAt != nil {
		t.ExpiresAt = e.ExpiresAt
	}
	t.PulledAt = nil
	t.PulledBy = ""
	t.UpdatedAt = now
	t.ServerModifiedAt = now
}
