package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/taskpulse/backend/internal/middleware"
	"github.com/taskpulse/backend/internal/models"
	"github.com/taskpulse/backend/internal/services"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockSubmitter struct {
	batch  *services.SubmitBatch
	result *services.SubmitResult
	err    error
}

func (m *mockSubmitter) Submit(_ context.Context, batch *services.SubmitBatch, _ *models.APIKey) (*services.SubmitResult, error) {
	m.batch = batch
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func newSubmitHandler(t *testing.T, sub *mockSubmitter) *SubmitHandler {
	t.Helper()
	validator, err := services.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return &SubmitHandler{Reconciler: sub, Validator: validator, Logger: testLogger()}
}

func authedRequest(method, target, body string, key *models.APIKey) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != nil {
		req = req.WithContext(middleware.WithKey(req.Context(), key))
	}
	return req
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code       string             `json:"code"`
			Violations []models.Violation `json:"violations"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

const validSubmitBody = `{
	"project_id": "proj", "project_name": "Project",
	"queue_id": "q1", "queue_name": "Queue",
	"tasks": [{"id": "t1", "name": "one", "status": "pending"}]
}`

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSubmitRequiresAuth(t *testing.T) {
	h := newSubmitHandler(t, &mockSubmitter{})
	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/v1/submit", validSubmitBody, nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != models.CodeInvalidAPIKey {
		t.Errorf("code: got %s", code)
	}
}

func TestSubmitRejectsWrongProject(t *testing.T) {
	h := newSubmitHandler(t, &mockSubmitter{})
	key := &models.APIKey{Name: "scoped", ProjectID: "other"}
	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/v1/submit", validSubmitBody, key))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestSubmitRejectsBadShape(t *testing.T) {
	sub := &mockSubmitter{}
	h := newSubmitHandler(t, sub)
	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/v1/submit", `{"tasks": 7}`, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != models.CodeValidationError {
		t.Errorf("code: got %s", code)
	}
	if sub.batch != nil {
		t.Error("shape failures must never reach the reconciler")
	}
}

func TestSubmitSuccess(t *testing.T) {
	sub := &mockSubmitter{result: &services.SubmitResult{Created: 1}}
	h := newSubmitHandler(t, sub)
	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/v1/submit", validSubmitBody, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	var resp submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Created != 1 {
		t.Errorf("response: %+v", resp)
	}
	if sub.batch == nil || sub.batch.ProjectID != "proj" || len(sub.batch.Tasks) != 1 {
		t.Errorf("decoded batch: %+v", sub.batch)
	}
}

func TestSubmitMapsValidationError(t *testing.T) {
	sub := &mockSubmitter{err: &models.ValidationError{Violations: []models.Violation{
		{Field: "tasks[0].name", Message: "is required"},
	}}}
	h := newSubmitHandler(t, sub)
	rec := httptest.NewRecorder()
	h.Submit(rec, authedRequest(http.MethodPost, "/v1/submit", validSubmitBody, &models.APIKey{Name: "k"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	var body struct {
		Error struct {
			Code       string             `json:"code"`
			Violations []models.Violation `json:"violations"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != models.CodeValidationError || len(body.Error.Violations) != 1 {
		t.Errorf("error body: %+v", body.Error)
	}
}
