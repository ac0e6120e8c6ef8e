// Package config loads the YAML configuration that wires a concrete client
// together: server endpoints, session behavior, storage backend selection,
// lock tuning, and logging.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the file leaves a field unset.
const (
	DefaultMode            = "cookie"
	DefaultRefreshLead     = 30 * time.Second
	DefaultLockLease       = 10 * time.Second
	DefaultLockPollEvery   = 50 * time.Millisecond
	DefaultLockMaxAttempts = 10
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// BaseURL is the HTTP endpoint of the auth server, e.g. "https://api.example.com".
	BaseURL string `yaml:"base-url"`

	// RealtimeURL is the websocket endpoint carrying the realtime auth
	// handshake. Empty disables the realtime channel.
	RealtimeURL string `yaml:"realtime-url"`

	// Mode selects how refresh and logout carry credentials: "cookie",
	// "json", or "session".
	Mode string `yaml:"mode"`

	// RefreshLeadMs is how long before expiry a proactive refresh fires,
	// in milliseconds.
	RefreshLeadMs int `yaml:"refresh-lead-ms"`

	// AutoRefresh arms the proactive refresh timer after each issuance.
	// Defaults to true when unset.
	AutoRefresh *bool `yaml:"auto-refresh"`

	// CredentialsPolicy is passed through to the HTTP transport unchanged.
	CredentialsPolicy string `yaml:"credentials-policy"`

	// ProxyURL is the URL of an optional proxy server for outbound requests.
	ProxyURL string `yaml:"proxy-url"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Lock    LockConfig    `yaml:"lock"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	ToFile    bool   `yaml:"to-file"`
	Dir       string `yaml:"dir"`
	MaxSizeMB int    `yaml:"max-size-mb"`
}

// StoreConfig selects and configures the persisted storage backend.
type StoreConfig struct {
	// Backend is one of "memory", "file", "redis", "postgres", "object".
	Backend string `yaml:"backend"`

	File     FileStoreConfig     `yaml:"file"`
	Redis    RedisStoreConfig    `yaml:"redis"`
	Postgres PostgresStoreConfig `yaml:"postgres"`
	Object   ObjectStoreConfig   `yaml:"object"`
}

// FileStoreConfig configures the file-backed storage backend.
type FileStoreConfig struct {
	Dir string `yaml:"dir"`
}

// RedisStoreConfig configures the Redis storage backend.
type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PostgresStoreConfig configures the PostgreSQL storage backend.
type PostgresStoreConfig struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`
}

// ObjectStoreConfig configures the S3-compatible storage backend.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use-ssl"`
	PathStyle bool   `yaml:"path-style"`
}

// LockConfig tunes the cross-context mutex fallback. The poll interval and
// attempt budget encode a liveness/latency tradeoff; the lease bounds the
// damage of a crashed holder.
type LockConfig struct {
	LeaseMs        int `yaml:"lease-ms"`
	PollIntervalMs int `yaml:"poll-interval-ms"`
	MaxAttempts    int `yaml:"max-attempts"`
}

// Load reads and parses the YAML configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Mode) == "" {
		c.Mode = DefaultMode
	}
	if c.RefreshLeadMs <= 0 {
		c.RefreshLeadMs = int(DefaultRefreshLead / time.Millisecond)
	}
	if c.AutoRefresh == nil {
		enabled := true
		c.AutoRefresh = &enabled
	}
	if strings.TrimSpace(c.Store.Backend) == "" {
		c.Store.Backend = "memory"
	}
	if c.Lock.LeaseMs <= 0 {
		c.Lock.LeaseMs = int(DefaultLockLease / time.Millisecond)
	}
	if c.Lock.PollIntervalMs <= 0 {
		c.Lock.PollIntervalMs = int(DefaultLockPollEvery / time.Millisecond)
	}
	if c.Lock.MaxAttempts <= 0 {
		c.Lock.MaxAttempts = DefaultLockMaxAttempts
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case "cookie", "json", "session":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	switch c.Store.Backend {
	case "memory", "file", "redis", "postgres", "object":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("config: base-url is required")
	}
	return nil
}

// RefreshLead returns the proactive refresh lead as a duration.
func (c *Config) RefreshLead() time.Duration {
	return time.Duration(c.RefreshLeadMs) * time.Millisecond
}

// AutoRefreshEnabled reports whether the proactive refresh timer is armed
// after each issuance.
func (c *Config) AutoRefreshEnabled() bool {
	return c.AutoRefresh == nil || *c.AutoRefresh
}
