// ABOUTME: Configuration loading and parsing for pigeonhole
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pigeonhole configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Search   SearchConfig   `yaml:"search"`
	Analyze  AnalyzeConfig  `yaml:"analyze"`
	Backup   BackupConfig   `yaml:"backup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database file and connection settings
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	CacheKB      int    `yaml:"cache_kb"`
	MaxOpenConns int    `yaml:"max_open_conns"`

	BusyTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	BusyTimeoutRaw string `yaml:"busy_timeout"`
}

// SearchConfig holds full-text search settings
type SearchConfig struct {
	// SnippetLength bounds result snippets, in runes
	SnippetLength int `yaml:"snippet_length"`
}

// AnalyzeConfig holds index analysis thresholds
type AnalyzeConfig struct {
	MinRowsForIndex      int `yaml:"min_rows_for_index"`
	MaxIndexesSmallTable int `yaml:"max_indexes_small_table"`
	SmallTableRows       int `yaml:"small_table_rows"`
}

// BackupConfig holds backup target settings
type BackupConfig struct {
	// Directory receives timestamped snapshot files
	Directory string `yaml:"directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.CacheKB < 0 {
		return fmt.Errorf("database.cache_kb must not be negative")
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must not be negative")
	}

	if c.Search.SnippetLength < 0 {
		return fmt.Errorf("search.snippet_length must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Database.BusyTimeoutRaw != "" {
		cfg.Database.BusyTimeout, err = time.ParseDuration(cfg.Database.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Database.BusyTimeoutRaw, err)
		}
	}

	return nil
}
