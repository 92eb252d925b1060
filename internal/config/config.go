package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when config.yaml omits a key.
const (
	DefaultTimeout            = 300000
	DefaultSummaryModel       = "claude-3-sonnet-20240229"
	DefaultMaxSessions        = 5
	DefaultMaxPerProject      = 2
	DefaultTUIRefreshInterval = 3000
)

// DefaultScanPaths are the roots discovery walks when none are configured
var DefaultScanPaths = []string{"~/projects", "~/workspace", "~/code", "~/src"}

// AIConfig controls session summary generation
type AIConfig struct {
	SummaryEnabled *bool  `yaml:"summaryEnabled,omitempty"`
	SummaryModel   string `yaml:"summaryModel,omitempty"`
	APIKey         string `yaml:"apiKey,omitempty"`
}

// MultiplexConfig caps concurrent sessions
type MultiplexConfig struct {
	MaxSessions           int `yaml:"maxSessions,omitempty"`
	MaxSessionsPerProject int `yaml:"maxSessionsPerProject,omitempty"`
}

// DefaultOptions are per-session defaults
type DefaultOptions struct {
	Timeout int `yaml:"timeout,omitempty"`
}

// TUIConfig holds hints for the terminal UI
type TUIConfig struct {
	RefreshInterval int `yaml:"refreshInterval,omitempty"`
}

// Config is the parsed config.yaml
type Config struct {
	ScanPaths      []string        `yaml:"scanPaths,omitempty"`
	DefaultOptions DefaultOptions  `yaml:"defaultOptions,omitempty"`
	DataDir        string          `yaml:"dataDir,omitempty"`
	AI             AIConfig        `yaml:"ai,omitempty"`
	Multiplex      MultiplexConfig `yaml:"multiplex,omitempty"`
	TUI            TUIConfig       `yaml:"tui,omitempty"`
}

// Default returns a config populated with every documented default
func Default() *Config {
	enabled := true
	return &Config{
		ScanPaths:      append([]string(nil), DefaultScanPaths...),
		DefaultOptions: DefaultOptions{Timeout: DefaultTimeout},
		AI: AIConfig{
			SummaryEnabled: &enabled,
			SummaryModel:   DefaultSummaryModel,
		},
		Multiplex: MultiplexConfig{
			MaxSessions:           DefaultMaxSessions,
			MaxSessionsPerProject: DefaultMaxPerProject,
		},
		TUI: TUIConfig{RefreshInterval: DefaultTUIRefreshInterval},
	}
}

// DataRoot resolves the data directory: config override first, then
// $HOME/.maxclaw.
func (c *Config) DataRoot() string {
	if c != nil && c.DataDir != "" {
		return ExpandHome(c.DataDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maxclaw"
	}
	return filepath.Join(home, ".maxclaw")
}

// SummaryEnabled applies the default when the key is absent
func (c *Config) SummaryEnabled() bool {
	if c.AI.SummaryEnabled == nil {
		return true
	}
	return *c.AI.SummaryEnabled
}

// ResolveAPIKey prefers the config key over ANTHROPIC_API_KEY
func (c *Config) ResolveAPIKey() string {
	if c.AI.APIKey != "" {
		return c.AI.APIKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// Load reads path and fills in defaults for missing keys. A missing file
// yields the full default config, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the config to path, creating the parent directory
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.ScanPaths) == 0 {
		cfg.ScanPaths = append([]string(nil), DefaultScanPaths...)
	}
	if cfg.DefaultOptions.Timeout == 0 {
		cfg.DefaultOptions.Timeout = DefaultTimeout
	}
	if cfg.AI.SummaryModel == "" {
		cfg.AI.SummaryModel = DefaultSummaryModel
	}
	if cfg.Multiplex.MaxSessions == 0 {
		cfg.Multiplex.MaxSessions = DefaultMaxSessions
	}
	if cfg.Multiplex.MaxSessionsPerProject == 0 {
		cfg.Multiplex.MaxSessionsPerProject = DefaultMaxPerProject
	}
	if cfg.TUI.RefreshInterval == 0 {
		cfg.TUI.RefreshInterval = DefaultTUIRefreshInterval
	}
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// AddScanPath appends a path if not already present; reports whether the
// config changed.
func (c *Config) AddScanPath(path string) bool {
	for _, p := range c.ScanPaths {
		if p == path {
			return false
		}
	}
	c.ScanPaths = append(c.ScanPaths, path)
	return true
}

// RemoveScanPath drops a path; reports whether the config changed
func (c *Config) RemoveScanPath(path string) bool {
	for i, p := range c.ScanPaths {
		if p == path {
			c.ScanPaths = append(c.ScanPaths[:i], c.ScanPaths[i+1:]...)
			return true
		}
	}
	return false
}
