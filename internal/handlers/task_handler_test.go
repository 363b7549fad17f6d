package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskpulse/backend/internal/models"
	"github.com/taskpulse/backend/internal/services"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// mockTaskOps records the last call made to each operation.
type mockTaskOps struct {
	task *models.Task
	err  error

	editedQueue  string
	edit         models.TaskEdit
	change       services.StatusChange
	moved        [3]string
	releasedIDs  []string
	releasedBy   string
	createParams services.CreateParams
}

func (m *mockTaskOps) Edit(_ context.Context, _, queueID, _ string, edit models.TaskEdit) (*models.Task, error) {
	m.editedQueue, m.edit = queueID, edit
	return m.task, m.err
}

func (m *mockTaskOps) SetStatus(_ context.Context, _, _, _ string, change services.StatusChange, _ *models.APIKey, _ string) (*models.Task, error) {
	m.change = change
	return m.task, m.err
}

func (m *mockTaskOps) AppendMessage(_ context.Context, _, _, _ string, _ models.Message) (*models.Task, error) {
	return m.task, m.err
}

func (m *mockTaskOps) AppendLog(_ context.Context, _, _, _ string, _ models.LogEntry) (*models.Task, error) {
	return m.task, m.err
}

func (m *mockTaskOps) Move(_ context.Context, projectID, fromQueueID, toQueueID, _ string) (*models.Task, error) {
	m.moved = [3]string{projectID, fromQueueID, toQueueID}
	return m.task, m.err
}

func (m *mockTaskOps) Release(_ context.Context, _, _ string, taskIDs []string, releasedBy string) (int, error) {
	m.releasedIDs, m.releasedBy = taskIDs, releasedBy
	return len(taskIDs), m.err
}

func (m *mockTaskOps) Create(_ context.Context, _ string, p services.CreateParams) (*models.Task, error) {
	m.createParams = p
	return m.task, m.err
}

func newTaskHandler(ops *mockTaskOps) *TaskHandler {
	return &TaskHandler{Service: ops, Logger: testLogger()}
}

var sampleTask = &models.Task{ID: "t1", Name: "one", Status: models.TaskStatusPending}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEditDecodesRefAndPatch(t *testing.T) {
	ops := &mockTaskOps{task: sampleTask}
	h := newTaskHandler(ops)
	body := `{"project_id": "proj", "queue_id": "q1", "task_id": "t1", "name": "renamed", "priority": 5}`
	rec := httptest.NewRecorder()
	h.Edit(rec, authedRequest(http.MethodPut, "/v1/tasks", body, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (body %s)", rec.Code, rec.Body)
	}
	if ops.editedQueue != "q1" {
		t.Errorf("queue: %q", ops.editedQueue)
	}
	if ops.edit.Name == nil || *ops.edit.Name != "renamed" {
		t.Errorf("edit name: %+v", ops.edit.Name)
	}
	if ops.edit.Priority == nil || ops.edit.Priority.Num != 5 {
		t.Errorf("edit priority: %+v", ops.edit.Priority)
	}
	if ops.edit.Status != nil {
		t.Error("omitted fields must stay nil")
	}
}

func TestEditRequiresIdentifiers(t *testing.T) {
	h := newTaskHandler(&mockTaskOps{task: sampleTask})
	rec := httptest.NewRecorder()
	h.Edit(rec, authedRequest(http.MethodPut, "/v1/tasks", `{"name": "x"}`, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestSetStatusPassesChange(t *testing.T) {
	ops := &mockTaskOps{task: sampleTask}
	h := newTaskHandler(ops)
	body := `{"project_id": "proj", "task_id": "t1", "status": "error", "error_message": "boom", "duration_ms": 1500}`
	rec := httptest.NewRecorder()
	h.SetStatus(rec, authedRequest(http.MethodPost, "/v1/tasks/status", body, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (body %s)", rec.Code, rec.Body)
	}
	if ops.change.Status != models.TaskStatusError || ops.change.ErrorMessage != "boom" {
		t.Errorf("change: %+v", ops.change)
	}
	if ops.change.DurationMS == nil || *ops.change.DurationMS != 1500 {
		t.Errorf("duration: %+v", ops.change.DurationMS)
	}
}

func TestMoveMapsDuplicate(t *testing.T) {
	ops := &mockTaskOps{err: models.ErrDuplicate}
	h := newTaskHandler(ops)
	body := `{"project_id": "proj", "task_id": "t1", "to_queue_id": "q2"}`
	rec := httptest.NewRecorder()
	h.Move(rec, authedRequest(http.MethodPost, "/v1/tasks/move", body, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != models.CodeDuplicateKey {
		t.Errorf("code: got %s", code)
	}
}

func TestMovePassesQueues(t *testing.T) {
	ops := &mockTaskOps{task: sampleTask}
	h := newTaskHandler(ops)
	body := `{"project_id": "proj", "task_id": "t1", "from_queue_id": "q1", "to_queue_id": "q2"}`
	rec := httptest.NewRecorder()
	h.Move(rec, authedRequest(http.MethodPost, "/v1/tasks/move", body, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (body %s)", rec.Code, rec.Body)
	}
	if ops.moved != [3]string{"proj", "q1", "q2"} {
		t.Errorf("moved: %+v", ops.moved)
	}
}

func TestReleasePassesKeyName(t *testing.T) {
	ops := &mockTaskOps{task: sampleTask}
	h := newTaskHandler(ops)
	body := `{"project_id": "proj", "queue_id": "q1", "task_ids": ["t1", "t2"]}`
	rec := httptest.NewRecorder()
	h.Release(rec, authedRequest(http.MethodPost, "/v1/tasks/release", body, &models.APIKey{Name: "ops-key"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (body %s)", rec.Code, rec.Body)
	}
	var resp releaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Released != 2 {
		t.Errorf("released: %d", resp.Released)
	}
	if ops.releasedBy != "ops-key" {
		t.Errorf("released_by: %q", ops.releasedBy)
	}
}

func TestReleaseRequiresTaskIDs(t *testing.T) {
	h := newTaskHandler(&mockTaskOps{task: sampleTask})
	rec := httptest.NewRecorder()
	h.Release(rec, authedRequest(http.MethodPost, "/v1/tasks/release",
		`{"project_id": "proj", "task_ids": []}`, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestCreateTask(t *testing.T) {
	ops := &mockTaskOps{task: sampleTask}
	h := newTaskHandler(ops)
	body := `{"id": "t1", "name": "one", "priority": "high", "tags": ["ci"]}`
	req := authedRequest(http.MethodPost, "/v1/projects/proj/tasks", body, &models.APIKey{Name: "k"})
	req.SetPathValue("projectID", "proj")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d (body %s)", rec.Code, rec.Body)
	}
	p := ops.createParams
	if p.ID != "t1" || p.Priority.Label != models.PriorityHigh || len(p.Tags) != 1 {
		t.Errorf("params: %+v", p)
	}
}

func TestTaskEndpointsRejectForeignProject(t *testing.T) {
	h := newTaskHandler(&mockTaskOps{task: sampleTask})
	key := &models.APIKey{Name: "scoped", ProjectID: "other"}
	body := `{"project_id": "proj", "task_id": "t1", "status": "done"}`
	rec := httptest.NewRecorder()
	h.SetStatus(rec, authedRequest(http.MethodPost, "/v1/tasks/status", body, key))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestNotFoundMapsTo404(t *testing.T) {
	h := newTaskHandler(&mockTaskOps{err: models.ErrNotFound})
	body := `{"project_id": "proj", "task_id": "ghost", "content": "hi", "role": "user"}`
	rec := httptest.NewRecorder()
	h.AppendMessage(rec, authedRequest(http.MethodPost, "/v1/tasks/messages", body, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != models.CodeResourceNotFound {
		t.Errorf("code: got %s", code)
	}
}
