package models

import (
	"time"

	"github.com/google/uuid"
)

// ScopeSystem is the daily-stats scope covering every project.
const ScopeSystem = "system"

// Execution results recorded by the aggregator.
const (
	ExecutionSuccess = "success"
	ExecutionFailure = "failure"
)

// Error categories produced by keyword matching on the reported error.
const (
	ErrorTypeTimeout    = "timeout"
	ErrorTypeNetwork    = "network"
	ErrorTypeValidation = "validation"
	ErrorTypePermission = "permission"
	ErrorTypeNotFound   = "not_found"
	ErrorTypeOther      = "other"
	ErrorTypeUnknown    = "unknown"
)

// Triple is a total/success/failure execution counter.
type Triple struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// Add counts one execution.
func (t *Triple) Add(success bool) {
	t.Total++
	if success {
		t.Success++
	} else {
		t.Failure++
	}
}

// DurationSummary is a running rollup of execution durations; the average
// is recomputed on every update.
type DurationSummary struct {
	SumMS int64   `json:"sum_ms"`
	Count int64   `json:"count"`
	MinMS int64   `json:"min_ms"`
	MaxMS int64   `json:"max_ms"`
	AvgMS float64 `json:"avg_ms"`
}

// Add folds one duration into the summary.
func (d *DurationSummary) Add(ms int64) {
	d.SumMS += ms
	d.Count++
	if d.Count == 1 || ms < d.MinMS {
		d.MinMS = ms
	}
	if ms > d.MaxMS {
		d.MaxMS = ms
	}
	d.AvgMS = float64(d.SumMS) / float64(d.Count)
}

// DailyStats is one rolling counter document, keyed by day and scope
// (a project id, or ScopeSystem). Increments are read-modify-write and
// may race; the counters are dashboard-grade, not billing-grade.
type DailyStats struct {
	Date       string             `json:"date"` // YYYY-MM-DD
	Scope      string             `json:"scope"`
	Execution  Triple             `json:"execution"`
	ByQueue    map[string]*Triple `json:"by_queue"`
	ByHour     map[int]*Triple    `json:"by_hour"`
	ByHostname map[string]*Triple `json:"by_hostname"`
	ByAPIKey   map[string]*Triple `json:"by_api_key"`
	Errors     map[string]int64   `json:"errors"`
	Duration   DurationSummary    `json:"duration"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// NewDailyStats returns an empty counter document for the day and scope.
func NewDailyStats(date, scope string) *DailyStats {
	return &DailyStats{
		Date:       date,
		Scope:      scope,
		ByQueue:    make(map[string]*Triple),
		ByHour:     make(map[int]*Triple),
		ByHostname: make(map[string]*Triple),
		ByAPIKey:   make(map[string]*Triple),
		Errors:     make(map[string]int64),
	}
}

func bump(m map[string]*Triple, key string, success bool) {
	if key == "" {
		return
	}
	t := m[key]
	if t == nil {
		t = &Triple{}
		m[key] = t
	}
	t.Add(success)
}

// Count folds one execution record into the counters.
func (s *DailyStats) Count(rec *ExecutionRecord) {
	success := rec.Result == ExecutionSuccess
	s.Execution.Add(success)
	bump(s.ByQueue, rec.QueueID, success)
	bump(s.ByHostname, rec.ClientHostname, success)
	bump(s.ByAPIKey, rec.APIKeyName, success)
	h := s.ByHour[rec.Hour]
	if h == nil {
		h = &Triple{}
		s.ByHour[rec.Hour] = h
	}
	h.Add(success)
	if !success {
		s.Errors[rec.ErrorType]++
	}
	if rec.DurationMS != nil {
		s.Duration.Add(*rec.DurationMS)
	}
}

// ExecutionRecord is one immutable audit-log row, written once per
// executional status transition (pending to done/error).
type ExecutionRecord struct {
	ID             uuid.UUID `json:"id"`
	Date           string    `json:"date"`
	Hour           int       `json:"hour"`
	ProjectID      string    `json:"project_id"`
	QueueID        string    `json:"queue_id,omitempty"`
	TaskID         string    `json:"task_id"`
	Result         string    `json:"result"`
	ErrorType      string    `json:"error_type,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	DurationMS     *int64    `json:"duration_ms,omitempty"`
	ClientHostname string    `json:"client_hostname,omitempty"`
	APIKeyName     string    `json:"api_key_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
