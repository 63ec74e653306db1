package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/technosupport/ts-safety/internal/middleware"
	"github.com/technosupport/ts-safety/internal/tokens"
)

func protected(t *testing.T, mgr *tokens.Manager) http.Handler {
	t.Helper()
	auth := middleware.NewJWTAuth(mgr)
	return auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := middleware.GetAuthContext(r.Context())
		if !ok {
			t.Error("AuthContext missing after successful auth")
		} else if ac.UserID == "" {
			t.Error("AuthContext has empty UserID")
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	mgr := tokens.NewManager("test-secret")
	token, err := mgr.GenerateAccessToken("user-1")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/command", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	protected(t, mgr).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestJWTAuthRejectsMissingHeader(t *testing.T) {
	mgr := tokens.NewManager("test-secret")
	req := httptest.NewRequest(http.MethodGet, "/api/command", nil)
	rec := httptest.NewRecorder()

	protected(t, mgr).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestJWTAuthRejectsRefreshToken(t *testing.T) {
	mgr := tokens.NewManager("test-secret")
	token, _ := mgr.GenerateRefreshToken("user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/command", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	protected(t, mgr).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestJWTAuthRejectsGarbageToken(t *testing.T) {
	mgr := tokens.NewManager("test-secret")
	req := httptest.NewRequest(http.MethodGet, "/api/command", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()

	protected(t, mgr).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
