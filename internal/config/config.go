package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // tasks.timezone must resolve on hosts without a zoneinfo database

	"gopkg.in/yaml.v3"
)

// Config models taskboard.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		Workspace string `yaml:"workspace"`
	} `yaml:"database"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	Tasks   struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"tasks"`
}

type AuthConfig struct {
	JWTSecret              string        `yaml:"jwt_secret"`
	AllowLegacyActorHeader bool          `yaml:"allow_legacy_actor_header"`
	DevLogin               bool          `yaml:"dev_login"`
	TokenTTL               time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	Output string        `yaml:"output"`
	File   LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.Database.Workspace = workspace
			return cfg, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("config.auth.token_ttl must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("config.logging.format must be 'console' or 'json'")
	}
	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		return fmt.Errorf("config.logging.file.path is required when output is 'file'")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.tasks.timezone: %w", err)
	}
	return nil
}

// Location resolves the timezone used to decide what "today" is.
func (c *Config) Location() (*time.Location, error) {
	if c.Tasks.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Tasks.Timezone)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from data
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

database:
  workspace: .

auth:
  # HS256 secret for bearer tokens; also settable via TASKBOARD_JWT_SECRET.
  jwt_secret: ""
  allow_legacy_actor_header: false
  dev_login: false
  token_ttl: 24h

logging:
  level: info
  format: console
  output: stderr
  file:
    path: ""
    max_size_mb: 100
    max_backups: 3
    max_age_days: 28
    compress: true

tasks:
  timezone: UTC
`
