package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/telehealth-booking/internal/auth"
)

func TestCallerJWTMissingSecret(t *testing.T) {
	mw := CallerJWT("")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestCallerJWTMissingHeader(t *testing.T) {
	mw := CallerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestCallerJWTInvalidToken(t *testing.T) {
	mw := CallerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signedCallerToken(t, "wrong", auth.Caller{Role: auth.RolePatient, ID: "P1"}))
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestCallerJWTValidToken(t *testing.T) {
	mw := CallerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signedCallerToken(t, "secret", auth.Caller{Role: auth.RoleDoctor, ID: "D1"}))
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		caller, ok := auth.CallerFromContext(r.Context())
		if !ok || caller.ID != "D1" || caller.Role != auth.RoleDoctor {
			t.Fatalf("expected doctor caller in context, got %#v", caller)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(auth.RoleDoctor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/doctors/me/patients", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without caller, got %d", rec.Code)
	}

	req = req.WithContext(auth.WithCaller(req.Context(), auth.Caller{Role: auth.RolePatient, ID: "P1"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for patient, got %d", rec.Code)
	}

	req = req.WithContext(auth.WithCaller(req.Context(), auth.Caller{Role: auth.RoleDoctor, ID: "D1"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for doctor, got %d", rec.Code)
	}
}

func signedCallerToken(t *testing.T, secret string, c auth.Caller) string {
	t.Helper()
	signed, err := auth.SignToken(secret, c, 5*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
