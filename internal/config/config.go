// Package config handles toolkit configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Deployment modes. Local deployments skip toolkit-user authentication;
// production deployments require it.
const (
	DeploymentLocal      = "local"
	DeploymentProduction = "production"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./unifitk.yaml, ~/.config/unifitk/unifitk.yaml, /etc/unifitk/unifitk.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"unifitk.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "unifitk", "unifitk.yaml"))
	}

	paths = append(paths, "/etc/unifitk/unifitk.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all toolkit configuration.
type Config struct {
	Listen     ListenConfig `yaml:"listen"`
	DataDir    string       `yaml:"data_dir"`
	LogLevel   string       `yaml:"log_level"`
	LogFormat  string       `yaml:"log_format"` // "text" or "json"
	Deployment string       `yaml:"deployment"` // "local" or "production"

	// EncryptionKey protects controller credentials at rest. Generate
	// one with `unifitk genkey`. Required.
	EncryptionKey string `yaml:"encryption_key"`

	Auth    AuthConfig    `yaml:"auth"`
	UniFi   UniFiConfig   `yaml:"unifi"`
	Stalker StalkerConfig `yaml:"stalker"`
	Intel   IntelConfig   `yaml:"intel"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8420
}

// AuthConfig defines toolkit-user authentication. Only consulted when
// the deployment mode is "production".
type AuthConfig struct {
	Username string `yaml:"username"` // Default: "admin"
	// PasswordHash is a bcrypt hash, produced by `unifitk hashpw`.
	PasswordHash    string `yaml:"password_hash"`
	SessionTTLHours int    `yaml:"session_ttl_hours"` // Default: 168 (7 days)
}

// UniFiConfig supplies defaults applied to newly stored controller
// endpoints. Credentials themselves live in the endpoint store,
// encrypted, never in this file.
type UniFiConfig struct {
	Site      string `yaml:"site"`       // Default: "default"
	VerifyTLS bool   `yaml:"verify_tls"` // Default: false (self-signed controllers)
}

// StalkerConfig defines the watched-device tracker.
type StalkerConfig struct {
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"` // Default: 30
	WebhookURL         string `yaml:"webhook_url"`          // Optional event webhook
}

// IntelConfig defines the AbuseIPDB threat-intelligence lookup.
type IntelConfig struct {
	AbuseIPDBAPIKey string `yaml:"abuseipdb_api_key"`
	MaxAgeDays      int    `yaml:"max_age_days"` // Default: 90
}

// MQTTConfig defines optional MQTT event publishing.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. mqtt://10.0.0.2:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // Default: "unifitk"
}

// CacheConfig defines the read-through cache in front of directory reads.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"` // Default: 30
}

// AuthEnabled reports whether toolkit-user authentication is active.
// Local deployments run unauthenticated; production deployments always
// authenticate.
func (c *Config) AuthEnabled() bool {
	return c.Deployment == DeploymentProduction
}

// applyDefaults fills zero values with documented defaults.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8420
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Deployment == "" {
		c.Deployment = DeploymentLocal
	}
	if c.Auth.Username == "" {
		c.Auth.Username = "admin"
	}
	if c.Auth.SessionTTLHours == 0 {
		c.Auth.SessionTTLHours = 168
	}
	if c.UniFi.Site == "" {
		c.UniFi.Site = "default"
	}
	if c.Stalker.RefreshIntervalSec == 0 {
		c.Stalker.RefreshIntervalSec = 30
	}
	if c.Intel.MaxAgeDays == 0 {
		c.Intel.MaxAgeDays = 90
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "unifitk"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 30
	}
}

// Validate checks the configuration for errors that would otherwise
// surface as confusing runtime failures.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("encryption_key is required (generate one with: unifitk genkey)")
	}
	if c.Deployment != DeploymentLocal && c.Deployment != DeploymentProduction {
		return fmt.Errorf("deployment must be %q or %q, got %q", DeploymentLocal, DeploymentProduction, c.Deployment)
	}
	if c.AuthEnabled() && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password_hash is required in production deployments (generate one with: unifitk hashpw)")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// Load reads, defaults, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}
