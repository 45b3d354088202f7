// Package config loads the client configuration from YAML (or JSONC) with
// defaults for every optional setting.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Credential backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendObject   = "object"
)

// Config is the full client configuration.
type Config struct {
	BaseURL     string `yaml:"base-url" json:"base-url"`
	StreamURL   string `yaml:"stream-url" json:"stream-url"`
	RefreshPath string `yaml:"refresh-path" json:"refresh-path"`
	ProxyURL    string `yaml:"proxy-url" json:"proxy-url"`
	UserAgent   string `yaml:"user-agent" json:"user-agent"`

	RequestRetry   int           `yaml:"request-retry" json:"request-retry"`
	RetryBaseDelay time.Duration `yaml:"retry-base-delay" json:"retry-base-delay"`
	RequestTimeout time.Duration `yaml:"request-timeout" json:"request-timeout"`

	HeartbeatInterval    time.Duration `yaml:"heartbeat-interval" json:"heartbeat-interval"`
	MaxReconnectAttempts int           `yaml:"max-reconnect-attempts" json:"max-reconnect-attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect-base-delay" json:"reconnect-base-delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect-max-delay" json:"reconnect-max-delay"`

	Connectivity ConnectivityConfig `yaml:"connectivity" json:"connectivity"`
	Credentials  CredentialsConfig  `yaml:"credentials" json:"credentials"`
	Usage        UsageConfig        `yaml:"usage" json:"usage"`

	Debug         bool `yaml:"debug" json:"debug"`
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`
}

// ConnectivityConfig controls the reachability probe.
type ConnectivityConfig struct {
	// ProbeAddress is dialed over TCP; empty means the base URL's host:port.
	ProbeAddress  string        `yaml:"probe-address" json:"probe-address"`
	ProbeInterval time.Duration `yaml:"probe-interval" json:"probe-interval"`
	ProbeTimeout  time.Duration `yaml:"probe-timeout" json:"probe-timeout"`
}

// CredentialsConfig selects where the token pair is kept.
type CredentialsConfig struct {
	Backend string `yaml:"backend" json:"backend"`

	// Path is the directory for the file backend or the database file for sqlite.
	Path string `yaml:"path" json:"path"`

	DSN    string `yaml:"dsn" json:"dsn"`
	Schema string `yaml:"schema" json:"schema"`

	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`

	// SealKey, when set, encrypts stored values.
	SealKey string `yaml:"seal-key" json:"seal-key"`
}

// UsageConfig controls attempt-record persistence.
type UsageConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	DBPath        string        `yaml:"db-path" json:"db-path"`
	BatchSize     int           `yaml:"batch-size" json:"batch-size"`
	FlushInterval time.Duration `yaml:"flush-interval" json:"flush-interval"`
	RetentionDays int           `yaml:"retention-days" json:"retention-days"`
}

func NewDefaultConfig() *Config {
	return &Config{
		RefreshPath:          "/auth/refresh",
		UserAgent:            "gameday-net/1",
		RequestRetry:         3,
		RetryBaseDelay:       time.Second,
		RequestTimeout:       30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		Connectivity: ConnectivityConfig{
			ProbeInterval: 5 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Credentials: CredentialsConfig{
			Backend: BackendFile,
			Path:    DefaultCredentialsDir(),
			Schema:  "public",
		},
		Usage: UsageConfig{
			DBPath:        DefaultUsageDBPath(),
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
			RetentionDays: 30,
		},
	}
}

// GenerateDefaultConfigYAML renders the defaults as a starting config file.
func GenerateDefaultConfigYAML() []byte {
	cfg := NewDefaultConfig()
	cfg.BaseURL = "https://api.example.com"
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil
	}
	_ = enc.Close()
	return buf.Bytes()
}

func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads configFile. With optional set, a missing or empty
// file yields the defaults. Environment overrides are applied last.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg := NewDefaultConfig()
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if optional && len(bytes.TrimSpace(data)) == 0 {
		cfg := NewDefaultConfig()
		cfg.ApplyEnv()
		return cfg, nil
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Parse decodes YAML, or JSON with comments and trailing commas, over the
// defaults.
func Parse(data []byte) (*Config, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		standard, err := hujson.Standardize(trimmed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		data = standard
	}
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// ApplyEnv overrides settings from GAMEDAY_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("GAMEDAY_BASE_URL")); v != "" {
		c.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GAMEDAY_STREAM_URL")); v != "" {
		c.StreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GAMEDAY_PROXY_URL")); v != "" {
		c.ProxyURL = v
	}
	if v := os.Getenv("GAMEDAY_SEAL_KEY"); v != "" {
		c.Credentials.SealKey = v
	}
	c.normalize()
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.StreamURL = strings.TrimSpace(c.StreamURL)
	c.Credentials.Backend = strings.ToLower(strings.TrimSpace(c.Credentials.Backend))
	if c.Credentials.Backend == "" {
		c.Credentials.Backend = BackendFile
	}
	if c.RefreshPath != "" && !strings.HasPrefix(c.RefreshPath, "/") {
		c.RefreshPath = "/" + c.RefreshPath
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base-url is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Host == "" {
		return fmt.Errorf("base-url %q is not an absolute URL", c.BaseURL)
	}
	if c.StreamURL != "" {
		if u, err := url.Parse(c.StreamURL); err != nil || u.Host == "" {
			return fmt.Errorf("stream-url %q is not an absolute URL", c.StreamURL)
		}
	}
	if c.RequestRetry < 0 {
		return errors.New("request-retry must not be negative")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("max-reconnect-attempts must not be negative")
	}
	switch c.Credentials.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendPostgres:
		if c.Credentials.DSN == "" {
			return errors.New("credentials.dsn is required for the postgres backend")
		}
	case BackendObject:
		if c.Credentials.Endpoint == "" || c.Credentials.Bucket == "" {
			return errors.New("credentials.endpoint and credentials.bucket are required for the object backend")
		}
	default:
		return fmt.Errorf("unknown credentials backend %q", c.Credentials.Backend)
	}
	return nil
}

// ResolvedStreamURL returns stream-url, or base-url with a ws scheme and a
// /stream suffix when stream-url is unset.
func (c *Config) ResolvedStreamURL() string {
	if c.StreamURL != "" {
		return c.StreamURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream"
	return u.String()
}

// ProbeAddress returns the configured probe address or the base URL's
// host:port.
func (c *Config) ProbeAddress() string {
	if c.Connectivity.ProbeAddress != "" {
		return c.Connectivity.ProbeAddress
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return u.Hostname() + ":80"
	}
	return u.Hostname() + ":443"
}
