// Package config loads the caldorad settings from the environment and the
// optional YAML seed of users and calendars.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cyp0633/caldora/server/recurrence"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every variable name in Config.
const EnvPrefix = "CALDORA_"

// Config is the daemon configuration.
type Config struct {
	Listen          string        `env:"LISTEN" envDefault:":8080"`
	Prefix          string        `env:"PREFIX" envDefault:"/"`
	Realm           string        `env:"REALM" envDefault:"Caldora"`
	DBPath          string        `env:"DB_PATH"`
	SeedFile        string        `env:"SEED_FILE"`
	LogLevel        slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	MaxOccurrences  int           `env:"MAX_OCCURRENCES" envDefault:"10000"`
	CacheEnabled    bool          `env:"CACHE_ENABLED" envDefault:"true"`
	OTELEndpoint    string        `env:"OTEL_ENDPOINT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads Config from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxOccurrences <= 0 {
		return nil, fmt.Errorf("parse env: %sMAX_OCCURRENCES must be positive, got %d", EnvPrefix, cfg.MaxOccurrences)
	}
	return &cfg, nil
}

// Engine returns the recurrence engine settings derived from c.
func (c *Config) Engine() recurrence.EngineConfig {
	ec := recurrence.DefaultEngineConfig.WithLimits(c.MaxOccurrences)
	if !c.CacheEnabled {
		ec = ec.WithoutCache()
	}
	return ec
}

// SeedUser is a login created at startup.
type SeedUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Email    string `yaml:"email"`
}

// SeedCalendar is a calendar created at startup when it does not exist yet.
type SeedCalendar struct {
	Name        string   `yaml:"name"`
	Owner       string   `yaml:"owner"`
	Description string   `yaml:"description"`
	Read        []string `yaml:"read"`
	Write       []string `yaml:"write"`
}

// Seed is the content of the seed file.
type Seed struct {
	Users     []SeedUser     `yaml:"users"`
	Calendars []SeedCalendar `yaml:"calendars"`
}

// LoadSeed reads and validates the seed file at path. An empty path yields
// an empty seed.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return &Seed{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Email returns the address of the seeded user, or "" if unknown.
func (s *Seed) Email(username string) string {
	for _, u := range s.Users {
		if u.Username == username {
			return u.Email
		}
	}
	return ""
}

// Validate checks that every user is complete and unique and that every
// calendar is owned by a seeded user.
func (s *Seed) Validate() error {
	var errs []error
	users := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		switch {
		case u.Username == "":
			errs = append(errs, fmt.Errorf("users[%d]: username is required", i))
		case users[u.Username]:
			errs = append(errs, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username))
		case u.Email == "":
			errs = append(errs, fmt.Errorf("users[%d]: email is required for %q", i, u.Username))
		}
		users[u.Username] = true
	}

	names := make(map[string]bool, len(s.Calendars))
	for i, c := range s.Calendars {
		switch {
		case c.Name == "":
			errs = append(errs, fmt.Errorf("calendars[%d]: name is required", i))
		case names[c.Name]:
			errs = append(errs, fmt.Errorf("calendars[%d]: duplicate name %q", i, c.Name))
		case !users[c.Owner]:
			errs = append(errs, fmt.Errorf("calendars[%d]: owner %q is not a seeded user", i, c.Owner))
		}
		names[c.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid seed: %w", errors.Join(errs...))
	}
	return nil
}
