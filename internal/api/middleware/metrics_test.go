package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/api/v1/users", "/api/v1/users"},
		{"/api/v1/users/count", "/api/v1/users/count"},
		{"/api/v1/users/f:accounts:42", "/api/v1/users/{id}"},
		{"/api/v1/users/f:accounts:42/attributes/отчество", "/api/v1/users/{id}/attributes/{name}"},
		{"/api/v1/users/f:accounts:42/role-mappings/reader", "/api/v1/users/{id}/role-mappings/{role}"},
		{"/api/v1/users/f:accounts:42/credentials/password/validate", "/api/v1/users/{id}/credentials/{type}/validate"},
		{"/api/v1/users/f:accounts:42/enabled", "/api/v1/users/{id}/enabled"},
		{"/api/v1/roles/operator", "/api/v1/roles/{name}"},
		{"/api/v1/roles/seed", "/api/v1/roles/seed"},
		{"/api/v1/roles/seed-for-users", "/api/v1/roles/seed-for-users"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRoutePattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/api/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = routePattern(r)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/users/f:accounts:7", nil))
	if got != "/api/v1/users/{id}" {
		t.Errorf("routePattern = %q", got)
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	var seen string
	h := RequestLogger(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("заголовок передан", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if seen != "req-1" || rec.Header().Get(HeaderRequestID) != "req-1" {
			t.Errorf("request id = %q, заголовок = %q", seen, rec.Header().Get(HeaderRequestID))
		}
		if rec.Code != http.StatusTeapot {
			t.Errorf("статус = %d", rec.Code)
		}
	})

	t.Run("заголовок сгенерирован", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" || rec.Header().Get(HeaderRequestID) != seen {
			t.Errorf("request id = %q, заголовок = %q", seen, rec.Header().Get(HeaderRequestID))
		}
	})
}
