// Package memory is an in-memory user directory and Basic auth provider.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/cyp0633/caldora/server/auth"
	"github.com/cyp0633/caldora/server/storage"
)

// User represents a user in the memory store
type User struct {
	Username string
	Password string // In production this should be hashed
	Email    string
}

// Store implements an in-memory authentication store
type Store struct {
	mu     sync.RWMutex
	users  map[string]User // map[username]User
	logger *slog.Logger

	calendars storage.Reader
	prefix    string
}

var (
	_ auth.Authenticator = (*Store)(nil)
	_ auth.Directory     = (*Store)(nil)
)

// New creates a new in-memory authentication store
func New(opts ...Option) *Store {
	s := &Store{
		users:  make(map[string]User),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCalendarAccess makes ValidateAccess refuse calendar paths under prefix
// that the principal may not read.
func WithCalendarAccess(calendars storage.Reader, prefix string) Option {
	return func(s *Store) {
		s.calendars = calendars
		s.prefix = prefix
	}
}

// AddUser adds a new user to the store
func (s *Store) AddUser(username, password, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		s.logger.Warn("failed to add user: already exists",
			"username", username)
		return fmt.Errorf("user already exists: %s", username)
	}

	s.users[username] = User{
		Username: username,
		Password: password,
		Email:    email,
	}

	s.logger.Info("user added successfully",
		"username", username)

	return nil
}

// Authenticate implements auth.Authenticator
func (s *Store) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Principal, error) {
	s.mu.RLock()
	user, exists := s.users[creds.Username]
	s.mu.RUnlock()

	if !exists {
		s.logger.Info("authentication failed: user not found",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(creds.Password)) != 1 {
		s.logger.Info("authentication failed: invalid password",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	s.logger.Debug("authentication successful",
		"username", creds.Username)

	return &auth.Principal{ID: user.Username, Email: user.Email}, nil
}

// ValidateAccess implements auth.Authenticator. Without calendar access
// configured every authenticated principal passes.
func (s *Store) ValidateAccess(ctx context.Context, principal *auth.Principal, path string) error {
	if principal == nil {
		s.logger.Info("access validation failed: no principal")
		return &auth.Error{
			Type:    auth.ErrUnauthorized,
			Message: "authentication required",
		}
	}

	name, ok := s.calendarName(path)
	if !ok {
		return nil
	}
	cal, err := s.calendars.GetCalendarByName(ctx, name)
	if storage.IsNotFound(err) {
		// the handler answers 404
		return nil
	}
	if err != nil {
		return &auth.Error{Type: auth.ErrUnauthorized, Message: "calendar lookup failed", Err: err}
	}
	if !cal.CanRead(principal.ID) {
		s.logger.Warn("access validation failed: forbidden",
			"username", principal.ID,
			"calendar", name,
			"path", path)
		return &auth.Error{
			Type:    auth.ErrForbidden,
			Message: fmt.Sprintf("access denied to resource: %s", path),
		}
	}

	s.logger.Debug("access validation successful",
		"username", principal.ID,
		"path", path)
	return nil
}

// calendarName extracts <name> from <prefix>Calendars/<name>[.ics][/...].
func (s *Store) calendarName(path string) (string, bool) {
	if s.calendars == nil {
		return "", false
	}
	rest, ok := strings.CutPrefix(path, strings.TrimSuffix(s.prefix, "/")+"/Calendars/")
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "/")
	name = strings.TrimSuffix(name, storage.CalendarFileSuffix)
	return name, name != ""
}

// Email implements auth.Directory
func (s *Store) Email(ctx context.Context, user string) (string, error) {
	s.mu.RLock()
	u, ok := s.users[user]
	s.mu.RUnlock()
	if !ok || u.Email == "" {
		return "", &auth.Error{Type: auth.ErrUnknownUser, Message: "no address for " + user}
	}
	return u.Email, nil
}
