package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskpulse/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubKeyLookup struct {
	key     *models.APIKey
	err     error
	gotHash string
}

func (s *stubKeyLookup) FindByKeyHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	s.gotHash = keyHash
	if s.err != nil {
		return nil, s.err
	}
	return s.key, nil
}

func protected(lookup APIKeyLookup) (http.Handler, *models.APIKey) {
	var seen models.APIKey
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if k := KeyFromCtx(r.Context()); k != nil {
			seen = *k
		}
		w.WriteHeader(http.StatusOK)
	})
	return APIKeyAuth(lookup)(inner), &seen
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAuthMissingHeader(t *testing.T) {
	h, _ := protected(&stubKeyLookup{})
	for _, header := range []string{"", "Basic abc", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: got %d, want 401", header, rec.Code)
		}
	}
}

func TestAuthUnknownKey(t *testing.T) {
	h, _ := protected(&stubKeyLookup{err: errors.New("no such key")})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tp_secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestAuthSuccess(t *testing.T) {
	lookup := &stubKeyLookup{key: &models.APIKey{Name: "ci-key", ProjectID: "proj"}}
	h, seen := protected(lookup)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer tp_secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if seen.Name != "ci-key" || seen.ProjectID != "proj" {
		t.Errorf("key not propagated via context: %+v", seen)
	}
	if lookup.gotHash != HashKey("tp_secret") {
		t.Errorf("lookup must receive the SHA-256 hash, got %q", lookup.gotHash)
	}
	if lookup.gotHash == "tp_secret" {
		t.Error("raw secret must never be used as the lookup key")
	}
}

func TestClaimantName(t *testing.T) {
	cases := []struct {
		key  *models.APIKey
		want string
	}{
		{&models.APIKey{Name: "named"}, "named"},
		{&models.APIKey{KeyPrefix: "tp_abc"}, "tp_abc"},
		{&models.APIKey{}, "unknown"},
		{nil, "unknown"},
	}
	for _, c := range cases {
		if got := c.key.ClaimantName(); got != c.want {
			t.Errorf("%+v: got %q, want %q", c.key, got, c.want)
		}
	}
}
