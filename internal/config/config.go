// Package config loads the knowdashd YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/knowdash/datastore"
)

// EnvDataSource overrides Data.DefaultSource when set.
const EnvDataSource = "KNOWDASH_DATA_SOURCE"

// Config is the top-level knowdashd configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Database DatabaseConfig `yaml:"database"`
	Headers  HeadersConfig  `yaml:"headers"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Runs     RunsConfig     `yaml:"runs"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr         string     `yaml:"addr"`
	MaxBodyBytes int64      `yaml:"max_body_bytes"`
	MCP          bool       `yaml:"mcp"` // serve MCP over HTTP at /mcp
	Auth         AuthConfig `yaml:"auth"`
}

// AuthConfig protects the collaborator routes with HTTP Basic auth. An empty
// User disables it. PasswordHash is a bcrypt hash.
type AuthConfig struct {
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"`
}

// DataConfig controls where row-sets come from.
type DataConfig struct {
	DefaultSource string              `yaml:"default_source"` // sample | real
	BaseURL       string              `yaml:"base_url"`       // empty = read files under BaseDir
	BaseDir       string              `yaml:"base_dir"`
	Endpoints     datastore.Endpoints `yaml:"endpoints"`
	Watch         bool                `yaml:"watch"`
	WatchDebounce time.Duration       `yaml:"watch_debounce"`
}

// DatabaseConfig locates the SQLite file holding preferences and the run log.
type DatabaseConfig struct {
	Path  string `yaml:"path"`  // ":memory:" keeps nothing across restarts
	Prefs string `yaml:"prefs"` // sqlite | memory
	// Trace logs every SQL statement; SlowQuery raises slow ones to Warn.
	Trace     bool          `yaml:"trace"`
	SlowQuery time.Duration `yaml:"slow_query"`
}

// HeadersConfig controls header capture.
type HeadersConfig struct {
	LoginURL    string        `yaml:"login_url"`
	Headless    bool          `yaml:"headless"`
	Remote      string        `yaml:"remote"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	KeysPath    string        `yaml:"keys_path"`
}

// ScraperConfig controls the external scraper.
type ScraperConfig struct {
	Command []string      `yaml:"command"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
	Env     []string      `yaml:"env"`
}

// RunsConfig controls run log retention.
type RunsConfig struct {
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv applies environment overrides using getenv (os.Getenv in main).
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDataSource); v != "" {
		c.Data.DefaultSource = v
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if _, err := datastore.ParseSource(c.Data.DefaultSource); err != nil {
		return fmt.Errorf("config: data.default_source: %w", err)
	}
	if err := c.Data.Endpoints.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Database.Prefs {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: database.prefs: unknown store %q", c.Database.Prefs)
	}
	if c.Server.Auth.User != "" && c.Server.Auth.PasswordHash == "" {
		return fmt.Errorf("config: server.auth: password_hash is required with user")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 64 << 10
	}
	if c.Data.DefaultSource == "" {
		c.Data.DefaultSource = string(datastore.SourceSample)
	}
	if c.Data.BaseDir == "" {
		c.Data.BaseDir = "public"
	}
	if c.Data.Endpoints == nil {
		c.Data.Endpoints = datastore.DefaultEndpoints()
	}
	if c.Data.WatchDebounce <= 0 {
		c.Data.WatchDebounce = 500 * time.Millisecond
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/knowdash.db"
	}
	if c.Database.SlowQuery <= 0 {
		c.Database.SlowQuery = 100 * time.Millisecond
	}
	if c.Database.Prefs == "" {
		c.Database.Prefs = "sqlite"
	}
	if c.Headers.LoginURL == "" {
		c.Headers.LoginURL = "https://knowby.pro/"
	}
	if c.Headers.WaitTimeout <= 0 {
		c.Headers.WaitTimeout = 5 * time.Minute
	}
	if c.Headers.KeysPath == "" {
		c.Headers.KeysPath = "python-scripts/keys.py"
	}
	if len(c.Scraper.Command) == 0 {
		c.Scraper.Command = []string{"python", "python-scripts/scraper.py"}
	}
	if c.Scraper.Timeout <= 0 {
		c.Scraper.Timeout = 5 * time.Minute
	}
	if c.Runs.Retention <= 0 {
		c.Runs.Retention = 30 * 24 * time.Hour
	}
	if c.Runs.CleanupInterval <= 0 {
		c.Runs.CleanupInterval = time.Hour
	}
}
