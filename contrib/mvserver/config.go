package mvserver

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"github.com/surrealdb/multiversion/pkg/compaction"
	"github.com/surrealdb/multiversion/pkg/constants"
)

// Config holds the server configuration. Values come from, in increasing
// precedence, the defaults, the YAML config file, the environment and the
// command line flags.
type Config struct {
	// PostgresDSN selects the PostgreSQL adaptor. Empty keeps everything in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`
	// DefaultWorkspace must be the same on every replica.
	DefaultWorkspace string `yaml:"default_workspace"`
	Listen           string `yaml:"listen"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// CompactInterval enables background compaction when positive.
	CompactInterval time.Duration `yaml:"compact_interval"`
	// CompactPolicy is a keep expression, see package compaction.
	CompactPolicy string `yaml:"compact_policy"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		DefaultWorkspace: constants.DefaultWorkspaceName,
		Listen:           ":8080",
		LogLevel:         "info",
	}
}

// LoadFile merges the YAML file at path into c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv overrides c with the MV_* environment variables that are set.
func (c *Config) LoadEnv() {
	c.PostgresDSN = GetEnvOrDefault("MV_POSTGRES_DSN", c.PostgresDSN)
	c.DefaultWorkspace = GetEnvOrDefault("MV_DEFAULT_WORKSPACE", c.DefaultWorkspace)
	c.Listen = GetEnvOrDefault("MV_LISTEN", c.Listen)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DefaultWorkspace == "" {
		return errors.New("default workspace name is required")
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.CompactInterval < 0 {
		return errors.New("compact interval must not be negative")
	}
	if c.CompactPolicy != "" {
		if _, err := compaction.Compile(c.CompactPolicy); err != nil {
			return err
		}
	}
	return nil
}

// GetEnvOrDefault returns the value of the environment variable key, or
// defaultValue when it is unset or empty.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
