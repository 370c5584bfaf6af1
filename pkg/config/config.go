// Package config loads wharf configuration from YAML with environment
// overrides. Config lives under ~/.wharf/config.yaml and may be overlaid
// by a project-local .wharf/config.yaml.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGatewayBind      = "127.0.0.1:4590"
	DefaultShellIdleTimeout = 30 * time.Minute
	DefaultJobRetention     = 15 * time.Minute

	// MinTokenLength is the minimum length for gateway bearer tokens.
	MinTokenLength = 32
)

// Config is the complete wharf configuration.
type Config struct {
	DataDir      string        `yaml:"data_dir"`
	ProjectsRoot string        `yaml:"projects_root"`
	Gateway      GatewayConfig `yaml:"gateway"`
	Projects     []ProjectRef  `yaml:"projects"`
}

// GatewayConfig controls the wharf gateway daemon.
type GatewayConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Bind           string   `yaml:"bind"`
	AllowWrites    bool     `yaml:"allow_writes"`
	RequireToken   bool     `yaml:"require_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	PublicMetrics  bool     `yaml:"public_metrics"`

	// ShellIdleTimeout reclaims PTYs on shell streams with no traffic.
	// Job streams are never timed out server-side.
	ShellIdleTimeout time.Duration `yaml:"shell_idle_timeout"`

	// JobRetention bounds how long terminal jobs stay replayable in memory.
	JobRetention time.Duration `yaml:"job_retention"`
}

// ProjectRef is a registered project in the config file.
type ProjectRef struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	dataDir := filepath.Join(home, ".wharf")
	return &Config{
		DataDir:      dataDir,
		ProjectsRoot: filepath.Join(home, "dev"),
		Gateway: GatewayConfig{
			Enabled:          false,
			Bind:             DefaultGatewayBind,
			AllowWrites:      false,
			RequireToken:     true,
			AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
			ShellIdleTimeout: DefaultShellIdleTimeout,
			JobRetention:     DefaultJobRetention,
		},
	}
}

// Load reads user config then project config, applies env overrides, and
// validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userPath := filepath.Join(home, ".wharf", "config.yaml")
		if err := loadAndMerge(cfg, userPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectPath := filepath.Join(".", ".wharf", "config.yaml")
	if err := loadAndMerge(cfg, projectPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath reads a single config file, applies env overrides, and
// validates. Used by tests and the --config flag.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("WHARF_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("WHARF_PROJECTS_ROOT")); v != "" {
		cfg.ProjectsRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("WHARF_GATEWAY_BIND")); v != "" {
		cfg.Gateway.Bind = v
	}
	if v, ok := parseBoolEnv("WHARF_GATEWAY_ALLOW_WRITES"); ok {
		cfg.Gateway.AllowWrites = v
	}
	if v, ok := parseBoolEnv("WHARF_GATEWAY_REQUIRE_TOKEN"); ok {
		cfg.Gateway.RequireToken = v
	}
	if v, ok := parseBoolEnv("WHARF_GATEWAY_PUBLIC_METRICS"); ok {
		cfg.Gateway.PublicMetrics = v
	}
	if v := strings.TrimSpace(os.Getenv("WHARF_SHELL_IDLE_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Gateway.ShellIdleTimeout = d
		}
	}
}

func parseBoolEnv(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// Validate checks required fields and bind address sanity.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must be set")
	}
	bind := strings.TrimSpace(c.Gateway.Bind)
	if bind == "" {
		return fmt.Errorf("gateway.bind must be set")
	}
	if _, _, err := net.SplitHostPort(bind); err != nil {
		return fmt.Errorf("gateway.bind %q is not host:port: %w", bind, err)
	}
	if c.Gateway.ShellIdleTimeout < 0 {
		return fmt.Errorf("gateway.shell_idle_timeout cannot be negative")
	}
	if c.Gateway.JobRetention <= 0 {
		c.Gateway.JobRetention = DefaultJobRetention
	}
	if c.Gateway.ShellIdleTimeout == 0 {
		c.Gateway.ShellIdleTimeout = DefaultShellIdleTimeout
	}
	seen := make(map[string]struct{}, len(c.Projects))
	for _, ref := range c.Projects {
		id := strings.TrimSpace(ref.ID)
		if id == "" {
			return fmt.Errorf("registered project missing id (path %q)", ref.Path)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate project id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// DatabasePath is the sqlite file under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "wharf.db")
}

// PIDFilePath is the gateway daemon pid file.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.DataDir, "gateway.pid")
}

// AddrFilePath records the bound address for CLI clients to find.
func (c *Config) AddrFilePath() string {
	return filepath.Join(c.DataDir, "gateway.addr")
}
