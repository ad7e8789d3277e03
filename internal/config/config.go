// Package config handles relay configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config is the top-level relay configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Relay     RelayConfig     `json:"relay"`
	Session   SessionConfig   `json:"session"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":3000"
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS + websocket origin check; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max HTTP request body; default 64KB
}

// RelayConfig defines relay behavior.
type RelayConfig struct {
	// AllowedNavOrigins restricts which origins a navigate event may carry.
	// Empty permits all.
	AllowedNavOrigins []string `json:"allowed_nav_origins,omitempty"`
	MaxMessageBytes   int64    `json:"max_message_bytes,omitempty"` // max websocket message; default 64KB
	// AdminURLTemplate builds the convenience console URL returned by
	// /request-access; "{leadId}" is substituted. Empty omits the field.
	AdminURLTemplate string `json:"admin_url_template,omitempty"`
}

// SessionConfig defines session policy.
type SessionConfig struct {
	// ResetPermissionOnReconnect clears consent when a new visitor
	// connection replaces the registered one. Default false: consent
	// persists across reconnects.
	ResetPermissionOnReconnect bool `json:"reset_permission_on_reconnect,omitempty"`
}

// StorageConfig defines the activity-log backend.
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" (default), "postgres", or "none"
	DSN    string `json:"dsn"`    // e.g. "covisit.db" or ":memory:"
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines the per-IP limit on /request-access.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file. An empty path, or a missing file
// at the default path, yields a default configuration; environment
// overrides apply either way.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// applyEnv layers environment overrides on top of the file. PORT follows
// the deployment convention of the hosting platforms this relay runs on.
func (c *Config) applyEnv() {
	if v := os.Getenv("COVISIT_ADDR"); v != "" {
		c.Server.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("COVISIT_ALLOWED_NAV_ORIGINS"); v != "" {
		c.Relay.AllowedNavOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("COVISIT_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("COVISIT_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("COVISIT_ADMIN_URL_TEMPLATE"); v != "" {
		c.Relay.AdminURLTemplate = v
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 64 * 1024 // 64KB
	}
	if c.Relay.MaxMessageBytes == 0 {
		c.Relay.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "covisit.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("storage.driver must be sqlite, postgres, or none, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	for _, o := range c.Relay.AllowedNavOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("relay.allowed_nav_origins entry %q is not an origin (scheme://host)", o)
		}
	}
	return nil
}
