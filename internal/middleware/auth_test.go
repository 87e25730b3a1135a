package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		if id != 42 {
			t.Fatalf("user id from context = %d, want 42", id)
		}
		if IsAdminFromContext(r.Context()) {
			t.Fatalf("plain user must not be admin")
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, 42, false)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireAdmin(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	tests := []struct {
		name       string
		isAdmin    bool
		wantStatus int
	}{
		{name: "admin passes", isAdmin: true, wantStatus: http.StatusOK},
		{name: "plain user forbidden", isAdmin: false, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			cw := httptest.NewRecorder()
			m.SetAuthCookie(cw, 7, tt.isAdmin)
			cookie := cw.Result().Cookies()[0]

			r := httptest.NewRequest(http.MethodGet, "/admin", nil)
			r.AddCookie(cookie)

			w := httptest.NewRecorder()
			handler := m.Middleware(RequireAdmin(next))
			handler.ServeHTTP(w, r)

			if w.Result().StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware_TamperedCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	cw := httptest.NewRecorder()
	m.SetAuthCookie(cw, 7, false)
	cookie := cw.Result().Cookies()[0]
	cookie.Value = "9:a." + cookie.Value[len("7:u."):]

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)

	w := httptest.NewRecorder()
	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
