package services

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/taskpulse/backend/internal/models"
)

// Field limits for batch submissions.
const (
	MaxIDLen       = 255
	MaxNameLen     = 1000
	MaxContentLen  = 100000
	MaxReportLen   = 500
	MaxSpecFileLen = 500
)

// overLong reports whether s exceeds max. Limits are character counts,
// not bytes, so multibyte content is measured in runes.
func overLong(s string, max int) bool {
	return utf8.RuneCountInString(s) > max
}

//go:embed schemas/submit.v1.json
var schemaFS embed.FS

// SubmitMessage is one conversation turn as submitted by a producer.
// Role is accepted case-insensitively and stored uppercase.
type SubmitMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// SubmitLog is one log line as submitted.
type SubmitLog struct {
	Content string `json:"content"`
}

// SubmitTask is one task in a batch submission.
type SubmitTask struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Prompt   string          `json:"prompt,omitempty"`
	SpecFile []string        `json:"spec_file,omitempty"`
	Status   string          `json:"status"`
	Report   string          `json:"report,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	Priority models.Priority `json:"priority,omitzero"`
	Messages []SubmitMessage `json:"messages,omitempty"`
	Logs     []SubmitLog     `json:"logs,omitempty"`
}

// SubmitBatch is the full body of a POST /v1/submit request.
type SubmitBatch struct {
	ProjectID   string             `json:"project_id"`
	ProjectName string             `json:"project_name"`
	QueueID     string             `json:"queue_id"`
	QueueName   string             `json:"queue_name"`
	ClientInfo  *models.ClientInfo `json:"client_info,omitempty"`
	Meta        map[string]any     `json:"meta,omitempty"`
	Tasks       []SubmitTask       `json:"tasks"`
}

// Validator checks batch submissions: a structural JSON Schema pass on
// the raw body, then field-level limit checks that collect every
// violation. Validation always runs before any mutation.
type Validator struct {
	submitSchema *jsonschema.Schema
}

// NewValidator compiles the embedded submission schema.
func NewValidator() (*Validator, error) {
	raw, err := schemaFS.ReadFile("schemas/submit.v1.json")
	if err != nil {
		return nil, fmt.Errorf("read submit schema: %w", err)
	}
	schema, err := jsonschema.CompileString("submit.v1.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile submit schema: %w", err)
	}
	return &Validator{submitSchema: schema}, nil
}

// CheckShape validates the raw request body against the submission
// schema. Type-level mistakes (tasks not an array, id not a string) are
// rejected here before decoding.
func (v *Validator) CheckShape(raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return &models.ValidationError{Violations: []models.Violation{
			{Field: "body", Message: "invalid JSON"},
		}}
	}
	if err := v.submitSchema.Validate(doc); err != nil {
		return &models.ValidationError{Violations: schemaViolations(err)}
	}
	return nil
}

func schemaViolations(err error) []models.Violation {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []models.Violation{{Field: "body", Message: err.Error()}}
	}
	var out []models.Violation
	for _, leaf := range ve.BasicOutput().Errors {
		if leaf.Error == "" || strings.HasPrefix(leaf.Error, "doesn't validate with") {
			continue
		}
		field := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if field == "" {
			field = "body"
		}
		out = append(out, models.Violation{Field: strings.ReplaceAll(field, "/", "."), Message: leaf.Error})
	}
	if len(out) == 0 {
		out = []models.Violation{{Field: "body", Message: ve.Message}}
	}
	return out
}

// ValidateSubmit collects every field-level violation in the batch. A
// non-nil return is always a *models.ValidationError; nothing may be
// persisted when it is non-nil.
func (v *Validator) ValidateSubmit(b *SubmitBatch) error {
	var violations []models.Violation
	add := func(field, format string, args ...any) {
		violations = append(violations, models.Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	checkRequired := func(field, value string, max int) {
		if value == "" {
			add(field, "is required")
		} else if overLong(value, max) {
			add(field, "must be at most %d characters", max)
		}
	}

	checkRequired("project_id", b.ProjectID, MaxIDLen)
	checkRequired("project_name", b.ProjectName, MaxNameLen)
	checkRequired("queue_id", b.QueueID, MaxIDLen)
	checkRequired("queue_name", b.QueueName, MaxNameLen)

	seen := make(map[string]bool, len(b.Tasks))
	for i, t := range b.Tasks {
		prefix := fmt.Sprintf("tasks[%d]", i)

		checkRequired(prefix+".id", t.ID, MaxIDLen)
		if t.ID != "" {
			if seen[t.ID] {
				add(prefix+".id", "duplicate task id %q in batch", t.ID)
			}
			seen[t.ID] = true
		}
		checkRequired(prefix+".name", t.Name, MaxNameLen)
		if overLong(t.Prompt, MaxContentLen) {
			add(prefix+".prompt", "must be at most %d characters", MaxContentLen)
		}
		if !models.SubmittableStatuses[t.Status] {
			add(prefix+".status", "must be one of pending, done, error")
		}
		if overLong(t.Report, MaxReportLen) {
			add(prefix+".report", "must be at most %d characters", MaxReportLen)
		}
		if !t.Priority.Valid() {
			add(prefix+".priority", "must be high, medium, low or an integer between 1 and 10")
		}

		seenFiles := make(map[string]bool, len(t.SpecFile))
		for j, f := range t.SpecFile {
			ff := fmt.Sprintf("%s.spec_file[%d]", prefix, j)
			if f == "" {
				add(ff, "must not be empty")
				continue
			}
			if overLong(f, MaxSpecFileLen) {
				add(ff, "must be at most %d characters", MaxSpecFileLen)
			}
			if seenFiles[f] {
				add(ff, "duplicate spec_file entry %q", f)
			}
			seenFiles[f] = true
		}

		for j, m := range t.Messages {
			mf := fmt.Sprintf("%s.messages[%d]", prefix, j)
			role := strings.ToUpper(m.Role)
			if role != models.MessageRoleUser && role != models.MessageRoleAssistant {
				add(mf+".role", "must be user or assistant")
			}
			if m.Content == "" {
				add(mf+".content", "is required")
			} else if overLong(m.Content, MaxContentLen) {
				add(mf+".content", "must be at most %d characters", MaxContentLen)
			}
		}

		for j, l := range t.Logs {
			lf := fmt.Sprintf("%s.logs[%d]", prefix, j)
			if l.Content == "" {
				add(lf+".content", "is required")
			} else if overLong(l.Content, MaxContentLen) {
				add(lf+".content", "must be at most %d characters", MaxContentLen)
			}
		}
	}

	if len(violations) > 0 {
		return &models.ValidationError{Violations: violations}
	}
	return nil
}
