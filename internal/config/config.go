// Package config loads syncd settings from a TOML file, SYNCD_* environment
// variables and command-line flags, in increasing order of precedence.
// Secrets are read from the environment only.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/diamondlog/syncd/internal/adapter"
	"github.com/diamondlog/syncd/internal/logging"
	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/sync"
	"github.com/diamondlog/syncd/internal/trigger"
)

// FileName is the config file looked up in the data directory.
const FileName = "syncd.toml"

// Config is the complete process configuration.
type Config struct {
	AccountID string `mapstructure:"account_id" toml:"account_id"`
	DataDir   string `mapstructure:"data_dir" toml:"data_dir"`

	Sync      SyncConfig      `mapstructure:"sync" toml:"sync"`
	Remote    RemoteConfig    `mapstructure:"remote" toml:"remote"`
	Dashboard DashboardConfig `mapstructure:"dashboard" toml:"dashboard"`
	Log       logging.Config  `mapstructure:"log" toml:"log"`

	Secrets Secrets `mapstructure:"-" toml:"-"`
}

// SyncConfig tunes passes and their triggers.
type SyncConfig struct {
	Policy              string        `mapstructure:"policy" toml:"policy"`
	Concurrency         int           `mapstructure:"concurrency" toml:"concurrency"`
	Interval            time.Duration `mapstructure:"interval" toml:"interval"`
	Debounce            time.Duration `mapstructure:"debounce" toml:"debounce"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff" toml:"max_backoff"`
	NotSyncingThreshold int           `mapstructure:"not_syncing_threshold" toml:"not_syncing_threshold"`
	WatchDatabase       bool          `mapstructure:"watch_database" toml:"watch_database"`
}

// RemoteConfig locates the remote store.
type RemoteConfig struct {
	URL     string        `mapstructure:"url" toml:"url"`
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout"`
}

// DashboardConfig controls the WebSocket status server.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Addr    string `mapstructure:"addr" toml:"addr"`
}

// Secrets never come from the config file.
type Secrets struct {
	RemoteAuthToken string `env:"SYNCD_REMOTE_AUTH_TOKEN"`
	// IDToken, when set, names the account by its subject claim.
	IDToken string `env:"SYNCD_ID_TOKEN"`
}

// Default returns the built-in configuration. Remote settings start from
// the SYNCD_REMOTE_* environment.
func Default() Config {
	dataDir := ".syncd"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".syncd")
	}

	sc := sync.DefaultConfig()
	tc := trigger.DefaultConfig()
	return Config{
		DataDir: dataDir,
		Sync: SyncConfig{
			Policy:              sc.Policy.String(),
			Concurrency:         sc.Concurrency,
			Interval:            tc.Interval,
			Debounce:            tc.Debounce,
			InitialBackoff:      tc.InitialBackoff,
			MaxBackoff:          tc.MaxBackoff,
			NotSyncingThreshold: tc.NotSyncingThreshold,
			WatchDatabase:       true,
		},
		Remote:    RemoteConfig{URL: "memory:", Timeout: 15 * time.Second},
		Dashboard: DashboardConfig{Addr: "127.0.0.1:7717"},
		Log:       logging.DefaultConfig(),
	}
}

// DatabasePath is the local store file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "syncd.db")
}

// MediaDir holds clip files.
func (c *Config) MediaDir() string {
	return filepath.Join(c.DataDir, "media")
}

// RemoteStore returns the remote client settings including credentials.
func (c *Config) RemoteStore() remote.Config {
	return remote.Config{URL: c.Remote.URL, AuthToken: c.Secrets.RemoteAuthToken, Timeout: c.Remote.Timeout}
}

// Policy returns the parsed conflict policy.
func (c *Config) Policy() (adapter.Policy, error) {
	return adapter.ParsePolicy(c.Sync.Policy)
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1 (got %d)", c.Sync.Concurrency)
	}
	if c.Sync.Interval <= 0 || c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.interval and sync.debounce must be positive")
	}
	return nil
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"account":    "account_id",
	"data-dir":   "data_dir",
	"remote":     "remote.url",
	"policy":     "sync.policy",
	"log-level":  "log.level",
	"dashboard":  "dashboard.enabled",
	"listen":     "dashboard.addr",
	"concurrent": "sync.concurrency",
}

// Load reads configuration. file may be empty to look for syncd.toml in the
// data directory; flags may be nil. A .env file in the working directory is
// loaded into the environment first.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	rc, err := remote.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	def := Default()
	def.Remote.URL = rc.URL
	def.Remote.Timeout = rc.Timeout

	v := viper.New()
	setDefaults(v, def)
	v.SetEnvPrefix("SYNCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	explicit := file != ""
	if !explicit {
		file = filepath.Join(v.GetString("data_dir"), FileName)
	}
	v.SetConfigFile(file)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	cfg.Secrets.RemoteAuthToken = rc.AuthToken
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("account_id", c.AccountID)
	v.SetDefault("data_dir", c.DataDir)

	v.SetDefault("sync.policy", c.Sync.Policy)
	v.SetDefault("sync.concurrency", c.Sync.Concurrency)
	v.SetDefault("sync.interval", c.Sync.Interval)
	v.SetDefault("sync.debounce", c.Sync.Debounce)
	v.SetDefault("sync.initial_backoff", c.Sync.InitialBackoff)
	v.SetDefault("sync.max_backoff", c.Sync.MaxBackoff)
	v.SetDefault("sync.not_syncing_threshold", c.Sync.NotSyncingThreshold)
	v.SetDefault("sync.watch_database", c.Sync.WatchDatabase)

	v.SetDefault("remote.url", c.Remote.URL)
	v.SetDefault("remote.timeout", c.Remote.Timeout)

	v.SetDefault("dashboard.enabled", c.Dashboard.Enabled)
	v.SetDefault("dashboard.addr", c.Dashboard.Addr)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.file", c.Log.File)
	v.SetDefault("log.max_size_mb", c.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", c.Log.MaxBackups)
	v.SetDefault("log.max_age_days", c.Log.MaxAgeDays)
	v.SetDefault("log.json", c.Log.JSON)
}

// durationText writes durations as "1m0s" strings in TOML.
type durationText time.Duration

func (d durationText) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type fileSync struct {
	Policy              string       `toml:"policy"`
	Concurrency         int          `toml:"concurrency"`
	Interval            durationText `toml:"interval"`
	Debounce            durationText `toml:"debounce"`
	InitialBackoff      durationText `toml:"initial_backoff"`
	MaxBackoff          durationText `toml:"max_backoff"`
	NotSyncingThreshold int          `toml:"not_syncing_threshold"`
	WatchDatabase       bool         `toml:"watch_database"`
}

type fileRemote struct {
	URL     string       `toml:"url"`
	Timeout durationText `toml:"timeout"`
}

type file struct {
	AccountID string          `toml:"account_id"`
	DataDir   string          `toml:"data_dir"`
	Sync      fileSync        `toml:"sync"`
	Remote    fileRemote      `toml:"remote"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Log       logging.Config  `toml:"log"`
}

// Write stores c as TOML at path. It refuses to overwrite unless force.
func Write(path string, c Config, force bool) error {
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flag |= os.O_EXCL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	out := file{
		AccountID: c.AccountID,
		DataDir:   c.DataDir,
		Sync: fileSync{
			Policy:              c.Sync.Policy,
			Concurrency:         c.Sync.Concurrency,
			Interval:            durationText(c.Sync.Interval),
			Debounce:            durationText(c.Sync.Debounce),
			InitialBackoff:      durationText(c.Sync.InitialBackoff),
			MaxBackoff:          durationText(c.Sync.MaxBackoff),
			NotSyncingThreshold: c.Sync.NotSyncingThreshold,
			WatchDatabase:       c.Sync.WatchDatabase,
		},
		Remote:    fileRemote{URL: c.Remote.URL, Timeout: durationText(c.Remote.Timeout)},
		Dashboard: c.Dashboard,
		Log:       c.Log,
	}
	if err := toml.NewEncoder(f).Encode(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// TriggerConfig returns bus settings.
func (c *Config) TriggerConfig() trigger.Config {
	tc := trigger.DefaultConfig()
	tc.Interval = c.Sync.Interval
	tc.Debounce = c.Sync.Debounce
	tc.InitialBackoff = c.Sync.InitialBackoff
	tc.MaxBackoff = c.Sync.MaxBackoff
	tc.NotSyncingThreshold = c.Sync.NotSyncingThreshold
	return tc
}
