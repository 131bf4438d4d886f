package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "/", cfg.Prefix)
	assert.Equal(t, "Caldora", cfg.Realm)
	assert.Empty(t, cfg.DBPath)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 10000, cfg.MaxOccurrences)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CALDORA_LISTEN", "127.0.0.1:9000")
	t.Setenv("CALDORA_PREFIX", "/dav/")
	t.Setenv("CALDORA_DB_PATH", "/var/lib/caldora.db")
	t.Setenv("CALDORA_LOG_LEVEL", "debug")
	t.Setenv("CALDORA_MAX_OCCURRENCES", "50")
	t.Setenv("CALDORA_CACHE_ENABLED", "false")
	t.Setenv("CALDORA_OTEL_ENDPOINT", "http://localhost:4318")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/dav/", cfg.Prefix)
	assert.Equal(t, "/var/lib/caldora.db", cfg.DBPath)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "http://localhost:4318", cfg.OTELEndpoint)

	ec := cfg.Engine()
	assert.False(t, ec.CacheEnabled)
	assert.Equal(t, 50, ec.Expansion.MaxOccurrences)
	assert.NotZero(t, ec.Expansion.MaxIterations)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad occurrences", "CALDORA_MAX_OCCURRENCES", "many"},
		{"zero occurrences", "CALDORA_MAX_OCCURRENCES", "0"},
		{"bad level", "CALDORA_LOG_LEVEL", "loud"},
		{"bad timeout", "CALDORA_SHUTDOWN_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parse env:")
		})
	}
}

const seedYAML = `
users:
  - username: alice
    password: secret
    email: alice@example.com
  - username: bob
    password: secret
    email: bob@example.com
calendars:
  - name: alice
    owner: alice
    description: Work
    read: [bob]
  - name: bob
    owner: bob
`

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Users, 2)
	require.Len(t, seed.Calendars, 2)
	assert.Equal(t, "Work", seed.Calendars[0].Description)
	assert.Equal(t, []string{"bob"}, seed.Calendars[0].Read)
	assert.Equal(t, "bob@example.com", seed.Email("bob"))
	assert.Empty(t, seed.Email("carol"))

	empty, err := LoadSeed("")
	require.NoError(t, err)
	assert.Empty(t, empty.Users)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSeedInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not yaml", "users: [", "parse seed"},
		{"missing username", "users:\n  - email: a@example.com\n", "username is required"},
		{"missing email", "users:\n  - username: a\n", "email is required"},
		{"duplicate user", "users:\n  - {username: a, email: a@x}\n  - {username: a, email: b@x}\n", "duplicate username"},
		{"unknown owner", "calendars:\n  - {name: c, owner: ghost}\n", "not a seeded user"},
		{"duplicate calendar", "users:\n  - {username: a, email: a@x}\ncalendars:\n  - {name: c, owner: a}\n  - {name: c, owner: a}\n", "duplicate name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
