package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config locates the remote document store. Credentials come from the
// environment so they never land in a config file.
type Config struct {
	// URL is "memory:" for an in-process store, a libsql:// or https://
	// Turso URL, or a path to a SQLite file.
	URL       string        `env:"SYNCD_REMOTE_URL" envDefault:"memory:"`
	AuthToken string        `env:"SYNCD_REMOTE_AUTH_TOKEN"`
	Timeout   time.Duration `env:"SYNCD_REMOTE_TIMEOUT" envDefault:"15s"`
}

// ConfigFromEnv reads Config from SYNCD_REMOTE_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse remote config: %w", err)
	}
	return cfg, nil
}

// IsMemory reports whether cfg selects the in-process store.
func (c Config) IsMemory() bool {
	return c.URL == "" || c.URL == "memory:"
}

// Redacted returns URL with any credentials removed, for display.
func (c Config) Redacted() string {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" {
		return c.URL
	}
	q := u.Query()
	if q.Has("authToken") {
		q.Set("authToken", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

func (c Config) driver() (string, string) {
	if strings.HasPrefix(c.URL, "libsql://") || strings.HasPrefix(c.URL, "https://") || strings.HasPrefix(c.URL, "http://") {
		dsn := c.URL
		if c.AuthToken != "" {
			u, err := url.Parse(c.URL)
			if err == nil {
				q := u.Query()
				q.Set("authToken", c.AuthToken)
				u.RawQuery = q.Encode()
				dsn = u.String()
			}
		}
		return "libsql", dsn
	}
	path := strings.TrimPrefix(c.URL, "file:")
	return "sqlite3", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
}

// Open returns the Store selected by cfg, wrapped with cfg.Timeout.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	var st Store
	if cfg.IsMemory() {
		st = NewMemoryStore()
	} else {
		sqlStore, err := OpenSQL(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		st = sqlStore
	}
	if cfg.Timeout > 0 {
		st = WithTimeout(st, cfg.Timeout)
	}
	return st, nil
}
