// Package config provides configuration management for itchmirror.
// It handles the optional YAML configuration file and the run-level settings
// (credentials, output directory) that must be present before a sync starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration validation
var (
	ErrVersionRequired     = errors.New("version is required")
	ErrInvalidConcurrency  = errors.New("concurrency must be at least 1")
	ErrInvalidTimeout      = errors.New("invalid timeout")
	ErrInvalidMinVersion   = errors.New("invalid butler min_version")
	ErrStoragePathRequired = errors.New("storage database_path is required when storage is enabled")

	// ErrMissingAPIKey and ErrMissingOutputDir are reported before any network activity.
	ErrMissingAPIKey    = errors.New("missing API key")
	ErrMissingOutputDir = errors.New("missing output directory")
)

const (
	DefaultAPIBaseURL   = "https://itch.io/api/1"
	DefaultHTTPTimeout  = 60 * time.Second
	DefaultStartTimeout = 30 * time.Second
	DefaultConcurrency  = 4
	DefaultFileName     = "itchmirror.yaml"
	DefaultUserAgent    = "itchmirror/1.0"
)

// Config represents the top-level configuration structure.
type Config struct {
	Version string        `yaml:"version"`
	Config  GlobalConfig  `yaml:"config"`
	Butler  ButlerConfig  `yaml:"butler"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// GlobalConfig represents global configuration settings.
type GlobalConfig struct {
	APIBaseURL  string `yaml:"api_base_url"`
	HTTPTimeout string `yaml:"http_timeout"`
	Concurrency int    `yaml:"concurrency"`
	TempDir     string `yaml:"temp_dir"` // empty means the OS temp directory
	UserAgent   string `yaml:"user_agent"`
}

// ButlerConfig configures the installer daemon.
type ButlerConfig struct {
	Executable   string `yaml:"executable"`    // empty means look up "butler" on PATH
	DatabasePath string `yaml:"database_path"` // empty means <temp_dir>/butler.db
	MinVersion   string `yaml:"min_version"`
	StartTimeout string `yaml:"start_timeout"`
}

// StorageConfig represents storage configuration for the sync history ledger.
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig controls rotation of the optional log file.
type LoggingConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// GetHTTPTimeout parses and returns the catalog/asset HTTP timeout.
func (g *GlobalConfig) GetHTTPTimeout() time.Duration {
	return parseDurationOr(g.HTTPTimeout, DefaultHTTPTimeout)
}

// GetTempDir returns the configured temp root, falling back to the OS default.
func (g *GlobalConfig) GetTempDir() string {
	if strings.TrimSpace(g.TempDir) == "" {
		return os.TempDir()
	}
	return g.TempDir
}

// GetStartTimeout parses and returns how long to wait for the daemon to listen.
func (b *ButlerConfig) GetStartTimeout() time.Duration {
	return parseDurationOr(b.StartTimeout, DefaultStartTimeout)
}

// GetDatabasePath returns the daemon database path under tempDir unless overridden.
func (b *ButlerConfig) GetDatabasePath(tempDir string) string {
	if b.DatabasePath != "" {
		return b.DatabasePath
	}
	return filepath.Join(tempDir, "butler.db")
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LoadConfig loads and parses the configuration from a YAML file.
// Keys absent from the file keep their default values.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// LoadOrDefault loads filePath when it exists and returns DefaultConfig otherwise.
// An explicitly requested file (required == true) must exist.
func LoadOrDefault(filePath string, required bool) (*Config, error) {
	if filePath == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	return LoadConfig(filePath)
}

// Validate validates the configuration structure and required fields.
func (c *Config) Validate() error {
	if c.Version == "" {
		return ErrVersionRequired
	}
	if c.Config.Concurrency < 1 {
		return ErrInvalidConcurrency
	}
	if err := validateDuration("http_timeout", c.Config.HTTPTimeout); err != nil {
		return err
	}
	if err := validateDuration("start_timeout", c.Butler.StartTimeout); err != nil {
		return err
	}
	if c.Butler.MinVersion != "" {
		if _, err := semver.NewVersion(c.Butler.MinVersion); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidMinVersion, c.Butler.MinVersion, err)
		}
	}
	if c.Storage.Enabled && c.Storage.DatabasePath == "" {
		return ErrStoragePathRequired
	}
	return nil
}

func validateDuration(name, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("%w: %s %q", ErrInvalidTimeout, name, value)
	}
	return nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Config: GlobalConfig{
			APIBaseURL:  DefaultAPIBaseURL,
			HTTPTimeout: DefaultHTTPTimeout.String(),
			Concurrency: DefaultConcurrency,
			UserAgent:   DefaultUserAgent,
		},
		Butler: ButlerConfig{
			MinVersion:   "15.0.0",
			StartTimeout: DefaultStartTimeout.String(),
		},
		Storage: StorageConfig{
			Enabled:      true,
			DatabasePath: "itchmirror.db",
		},
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}
	return nil
}
