// Package config loads settings from ~/.config/th/config.yaml with TH_*
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// DefaultCSVURL is the published sheet the directory is imported from.
const DefaultCSVURL = "https://docs.google.com/spreadsheets/d/e/2PACX-1vRSRZJnz3ZN4CI3mDE8_QM-FGWZqkfQIJg_KKwe_MMgToPQq9WyQ--uySVrrglfVdLExZemztj5Xexn/pub?gid=0&single=true&output=csv"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full set of settings.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Import  ImportConfig  `yaml:"import"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Auth    AuthConfig    `yaml:"auth"`
	Archive ArchiveConfig `yaml:"archive"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// ImportConfig configures the CSV import job.
type ImportConfig struct {
	CSVURL   string        `yaml:"csv_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval,omitempty"`
	OnStart  bool          `yaml:"on_start,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int  `yaml:"port"`
	Dev  bool `yaml:"dev,omitempty"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// AuthConfig configures identity-provider token checks. An empty JWKSURL
// disables token login; API keys still work.
type AuthConfig struct {
	JWKSURL  string `yaml:"jwks_url,omitempty"`
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

// ArchiveConfig configures the S3 import archive. An empty Bucket disables it.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Store:  StoreConfig{Driver: DriverSQLite},
		Import: ImportConfig{CSVURL: DefaultCSVURL, Timeout: 30 * time.Second},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Format: "text", Level: "info"},
	}
}

// Path returns the config file location. TH_CONFIG overrides the default
// of ~/.config/th/config.yaml.
func Path() (string, error) {
	if p := os.Getenv("TH_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "th", "config.yaml"), nil
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads the config file over the defaults without environment
// overrides, which is what `th config set` edits.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, replacing the file atomically.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting config permissions: %w", err)
	}

	return nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Import.CSVURL == "" {
		return fmt.Errorf("import.csv_url is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return l, nil
}

// setting binds a dotted key to its field. The same table drives
// `th config set` and the TH_* environment overrides.
type setting struct {
	key string
	env string
	set func(c *Config, v string) error
}

var settings = []setting{
	{"store.driver", "TH_STORE_DRIVER", func(c *Config, v string) error { c.Store.Driver = v; return nil }},
	{"store.sqlite_path", "TH_DB_PATH", func(c *Config, v string) error { c.Store.SQLitePath = v; return nil }},
	{"store.postgres_dsn", "TH_POSTGRES_DSN", func(c *Config, v string) error { c.Store.PostgresDSN = v; return nil }},
	{"import.csv_url", "TH_CSV_URL", func(c *Config, v string) error { c.Import.CSVURL = v; return nil }},
	{"import.timeout", "TH_IMPORT_TIMEOUT", durationSetter(func(c *Config) *time.Duration { return &c.Import.Timeout })},
	{"import.interval", "TH_IMPORT_INTERVAL", durationSetter(func(c *Config) *time.Duration { return &c.Import.Interval })},
	{"import.on_start", "TH_IMPORT_ON_START", boolSetter(func(c *Config) *bool { return &c.Import.OnStart })},
	{"server.port", "TH_PORT", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid port %q", v)
		}
		c.Server.Port = n
		return nil
	}},
	{"server.dev", "TH_DEV", boolSetter(func(c *Config) *bool { return &c.Server.Dev })},
	{"log.format", "TH_LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
	{"log.level", "TH_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"auth.jwks_url", "TH_JWKS_URL", func(c *Config, v string) error { c.Auth.JWKSURL = v; return nil }},
	{"auth.issuer", "TH_JWT_ISSUER", func(c *Config, v string) error { c.Auth.Issuer = v; return nil }},
	{"auth.audience", "TH_JWT_AUDIENCE", func(c *Config, v string) error { c.Auth.Audience = v; return nil }},
	{"archive.bucket", "TH_ARCHIVE_BUCKET", func(c *Config, v string) error { c.Archive.Bucket = v; return nil }},
	{"archive.region", "TH_ARCHIVE_REGION", func(c *Config, v string) error { c.Archive.Region = v; return nil }},
	{"archive.endpoint", "TH_ARCHIVE_ENDPOINT", func(c *Config, v string) error { c.Archive.Endpoint = v; return nil }},
	{"archive.prefix", "TH_ARCHIVE_PREFIX", func(c *Config, v string) error { c.Archive.Prefix = v; return nil }},
	{"archive.path_style", "TH_ARCHIVE_PATH_STYLE", boolSetter(func(c *Config) *bool { return &c.Archive.PathStyle })},
}

func durationSetter(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*field(c) = d
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*field(c) = b
		return nil
	}
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, len(settings))
	for i, s := range settings {
		keys[i] = s.key
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the dotted key, e.g. "archive.bucket".
func (c *Config) Set(key, value string) error {
	for _, s := range settings {
		if s.key == key {
			if err := s.set(c, value); err != nil {
				return fmt.Errorf("setting %s: %w", key, err)
			}
			return nil
		}
	}
	return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(Keys(), ", "))
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, s := range settings {
		v, ok := lookup(s.env)
		if !ok || v == "" {
			continue
		}
		if err := s.set(c, v); err != nil {
			return fmt.Errorf("%s: %w", s.env, err)
		}
	}
	return nil
}
