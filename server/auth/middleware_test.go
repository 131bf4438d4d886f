package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubAuthenticator struct {
	forbidden string
}

func (s stubAuthenticator) Authenticate(_ context.Context, creds Credentials) (*Principal, error) {
	if creds.Username == "alice" && creds.Password == "secret" {
		return &Principal{ID: "alice", Email: "alice@example.com"}, nil
	}
	return nil, &Error{Type: ErrInvalidCredentials, Message: "nope"}
}

func (s stubAuthenticator) ValidateAccess(_ context.Context, _ *Principal, path string) error {
	if path == s.forbidden {
		return &Error{Type: ErrForbidden, Message: "no"}
	}
	return nil
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestMiddleware(t *testing.T) {
	var seen *Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(stubAuthenticator{forbidden: "/private"}, "Test")(next)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/", "", http.StatusUnauthorized},
		{"not basic", "/", "Bearer token", http.StatusUnauthorized},
		{"bad base64", "/", "Basic !!!", http.StatusUnauthorized},
		{"wrong password", "/", basic("alice", "nope"), http.StatusUnauthorized},
		{"forbidden", "/private", basic("alice", "secret"), http.StatusForbidden},
		{"ok", "/", basic("alice", "secret"), http.StatusNoContent},
		{"well-known skips auth", "/.well-known/caldav", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="Test"`, rec.Header().Get("WWW-Authenticate"))
			}
			if tt.name == "ok" {
				assert.Equal(t, "alice@example.com", seen.Email)
			}
		})
	}
}

type stubDirectory map[string]string

func (d stubDirectory) Email(_ context.Context, user string) (string, error) {
	if e, ok := d[user]; ok {
		return e, nil
	}
	return "", &Error{Type: ErrUnknownUser, Message: "no address for " + user}
}

type bareAuthenticator struct{ stubAuthenticator }

func (bareAuthenticator) Authenticate(_ context.Context, creds Credentials) (*Principal, error) {
	return &Principal{ID: creds.Username}, nil
}

func TestMiddlewareDirectory(t *testing.T) {
	var seen *Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPrincipalFromContext(r.Context())
	})
	h := Middleware(bareAuthenticator{}, "", WithDirectory(stubDirectory{"bob": "bob@example.com"}), WithLogger(nil))(next)

	for user, want := range map[string]string{"bob": "bob@example.com", "carol": ""} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", basic(user, "x"))
		h.ServeHTTP(httptest.NewRecorder(), r)
		assert.Equal(t, want, seen.Email, user)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, `Basic realm="CalDAV Server"`, rec.Header().Get("WWW-Authenticate"))
}
