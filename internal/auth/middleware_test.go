package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func mustToken(t *testing.T, role Role) string {
	t.Helper()
	token, err := IssueToken(testSecret, "user-1", role, time.Hour, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func serve(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	mw := NewMiddleware(testSecret, NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SubjectFromContext(r.Context()) == "" && r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestAuthMiddleware(t *testing.T) {
	viewer := mustToken(t, RoleViewer)
	admin := mustToken(t, RoleAdmin)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/online-seconds", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/online-seconds", "abc", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/online-seconds", viewer, http.StatusOK},
		{"viewer export", http.MethodGet, "/api/v1/exports/online-seconds.csv", viewer, http.StatusOK},
		{"viewer latest run", http.MethodGet, "/api/v1/runs/latest", viewer, http.StatusOK},
		{"viewer cannot trigger", http.MethodPost, "/api/v1/runs", viewer, http.StatusForbidden},
		{"admin triggers", http.MethodPost, "/api/v1/runs", admin, http.StatusOK},
		{"health exempt", http.MethodGet, "/healthz", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := serve(t, tc.method, tc.path, tc.token); resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestParseJWT(t *testing.T) {
	expired, err := IssueToken(testSecret, "user-1", RoleAdmin, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(expired, testSecret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
	if _, err := ParseJWT(mustToken(t, RoleViewer), []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := IssueToken(testSecret, "user-1", Role("operator"), time.Hour, time.Now()); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	claims, err := ParseJWT(mustToken(t, RoleAdmin), testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != string(RoleAdmin) {
		t.Fatalf("unexpected claims %+v", claims)
	}
}
