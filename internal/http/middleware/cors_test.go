package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, allowed []string, method, origin, preflightMethod string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(method, "/appointments", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflightMethod != "" {
		req.Header.Set("Access-Control-Request-Method", preflightMethod)
	}
	rec := httptest.NewRecorder()
	CORS(allowed)(handler).ServeHTTP(rec, req)
	return rec, called
}

func TestCORSSimpleRequests(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"listed origin echoed", []string{"https://portal.clinic.test"}, "https://portal.clinic.test", "https://portal.clinic.test"},
		{"unknown origin not echoed", []string{"https://portal.clinic.test"}, "https://evil.test", ""},
		{"wildcard echoes any origin", []string{"*"}, "https://patient.app.test", "https://patient.app.test"},
		{"no origin header", []string{"*"}, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, called := corsRequest(t, tc.allowed, http.MethodGet, tc.origin, "")
			if !called || rec.Code != http.StatusOK {
				t.Fatalf("expected request to reach handler, called=%v status=%d", called, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Fatalf("expected allow origin %q, got %q", tc.want, got)
			}
			if tc.origin != "" && rec.Header().Get("Vary") != "Origin" {
				t.Fatalf("expected Vary: Origin")
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	allowed := []string{"https://portal.clinic.test"}

	rec, called := corsRequest(t, allowed, http.MethodOptions, "https://portal.clinic.test", "PUT")
	if called {
		t.Fatalf("expected preflight to stop before the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
		t.Fatalf("unexpected allow methods %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type, X-Request-ID" {
		t.Fatalf("unexpected allow headers %q", got)
	}

	rec, called = corsRequest(t, allowed, http.MethodOptions, "https://evil.test", "POST")
	if called || rec.Code != http.StatusForbidden {
		t.Fatalf("expected unknown origin preflight refused, called=%v status=%d", called, rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected no allow origin on refused preflight")
	}

	rec, _ = corsRequest(t, allowed, http.MethodOptions, "https://portal.clinic.test", "PATCH")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected PATCH preflight refused, got %d", rec.Code)
	}
}
