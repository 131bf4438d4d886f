package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

// PrincipalContextKey is the context key for the authenticated principal.
const PrincipalContextKey contextKey = "principal"

// GetPrincipalFromContext retrieves the authenticated principal from the context
func GetPrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(PrincipalContextKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middleware)

// WithLogger logs rejected requests.
func WithLogger(logger *slog.Logger) MiddlewareOption {
	return func(m *middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDirectory fills in Principal.Email from d when the authenticator
// left it empty.
func WithDirectory(d Directory) MiddlewareOption {
	return func(m *middleware) {
		m.directory = d
	}
}

type middleware struct {
	authenticator Authenticator
	realm         string
	directory     Directory
	logger        *slog.Logger
}

// Middleware authenticates requests with HTTP Basic credentials, checks the
// principal may access the request path and stores it in the request
// context. Paths under /.well-known/ pass through unauthenticated.
func Middleware(authenticator Authenticator, realm string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{
		authenticator: authenticator,
		realm:         realm,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if m.realm == "" {
		m.realm = "CalDAV Server"
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/.well-known/") {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := m.authenticate(r)
			if err != nil {
				m.logger.Info("authentication rejected",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
					"error", err)
				RequestAuth(w, m.realm)
				return
			}

			if err := m.authenticator.ValidateAccess(r.Context(), principal, r.URL.Path); err != nil {
				var authErr *Error
				if errors.As(err, &authErr) && authErr.Type == ErrForbidden {
					m.logger.Warn("access forbidden",
						"user", principal.ID,
						"path", r.URL.Path)
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				RequestAuth(w, m.realm)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func (m *middleware) authenticate(r *http.Request) (*Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, &Error{Type: ErrInvalidCredentials, Message: "missing or malformed basic credentials"}
	}
	principal, err := m.authenticator.Authenticate(r.Context(), Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	if principal.Email == "" && m.directory != nil {
		email, err := m.directory.Email(r.Context(), principal.ID)
		if err == nil {
			principal.Email = email
		}
	}
	return principal, nil
}

// RequestAuth sends a 401 response with a Basic challenge.
func RequestAuth(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
