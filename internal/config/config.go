// Package config provides unified configuration loading for starcat.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvandessel/starcat/internal/constants"
	"gopkg.in/yaml.v3"
)

// StarcatConfig contains all starcat configuration settings.
type StarcatConfig struct {
	// Database locates the SQLite catalogue.
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Generation holds defaults for simulated populations.
	Generation GenerationConfig `json:"generation" yaml:"generation"`

	// Bench controls retrieval benchmarks.
	Bench BenchConfig `json:"bench" yaml:"bench"`

	// Logging contains settings for operational logging and run records.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Tracing controls OpenTelemetry span export.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`

	// Backup controls automatic backup retention.
	Backup BackupConfig `json:"backup" yaml:"backup"`
}

// DatabaseConfig locates the catalogue.
type DatabaseConfig struct {
	// Path is the SQLite file. Empty means <root>/.starcat/starcat.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// GenerationConfig holds defaults used by generate and bench.
type GenerationConfig struct {
	// Distance is the true cluster distance in kiloparsecs.
	Distance float64 `json:"distance" yaml:"distance"`

	// Stars is the number of observations to simulate.
	Stars int `json:"stars" yaml:"stars"`

	// RMSFractionalError is the noise standard deviation as a fraction of Distance.
	RMSFractionalError float64 `json:"rms_fractional_error" yaml:"rms_fractional_error"`

	// Seed makes generation reproducible. Nil means unseeded; zero is a
	// valid seed.
	Seed *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// BenchConfig controls retrieval benchmarks.
type BenchConfig struct {
	// Strategies lists the retrieval strategies to time, or "all".
	Strategies []string `json:"strategies" yaml:"strategies"`

	// Repeats is how many times each measurement runs; the fastest is kept.
	Repeats int `json:"repeats" yaml:"repeats"`
}

// LoggingConfig configures starcat's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "warn", "info" (default), "debug", or "trace".
	// "debug" and "trace" also append run records to .starcat/runs.jsonl.
	Level string `json:"level" yaml:"level"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter is "stdout" (pretty-printed spans on stderr) or "none".
	Exporter string `json:"exporter" yaml:"exporter"`
}

// BackupConfig controls backup retention.
type BackupConfig struct {
	Retention RetentionConfig `json:"retention" yaml:"retention"`
}

// RetentionConfig selects which old backups are pruned after a new one is
// written. Unset limits are not applied; with none set the 10 newest are kept.
type RetentionConfig struct {
	MaxCount     int    `json:"max_count" yaml:"max_count"`
	MaxAge       string `json:"max_age,omitempty" yaml:"max_age,omitempty"`               // e.g. "30d", "2w"
	MaxTotalSize string `json:"max_total_size,omitempty" yaml:"max_total_size,omitempty"` // e.g. "100MB"
}

// Default returns a StarcatConfig with sensible defaults.
func Default() *StarcatConfig {
	return &StarcatConfig{
		Generation: GenerationConfig{
			Distance:           constants.DefaultDistanceKpc,
			Stars:              constants.DefaultStarCount,
			RMSFractionalError: constants.DefaultRMSFractionalError,
		},
		Bench: BenchConfig{
			Strategies: []string{"all"},
			Repeats:    constants.DefaultBenchRepeats,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
		Backup: BackupConfig{
			Retention: RetentionConfig{MaxCount: 10},
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.starcat/config.yaml -> environment variables
func Load() (*StarcatConfig, error) {
	config := Default()

	if configPath, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// DefaultPath returns ~/.starcat/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".starcat", "config.yaml"), nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*StarcatConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Database.Path = expandEnvVars(config.Database.Path)

	return config, nil
}

// Save writes the configuration as YAML to path, creating parent directories.
func (c *StarcatConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *StarcatConfig) Validate() error {
	g := c.Generation
	if g.Distance <= 0 || math.IsNaN(g.Distance) || math.IsInf(g.Distance, 0) {
		return fmt.Errorf("generation.distance must be positive and finite, got %v", g.Distance)
	}
	if g.Stars < 0 {
		return fmt.Errorf("generation.stars must be non-negative, got %d", g.Stars)
	}
	if g.RMSFractionalError < 0 || math.IsNaN(g.RMSFractionalError) || math.IsInf(g.RMSFractionalError, 0) {
		return fmt.Errorf("generation.rms_fractional_error must be non-negative and finite, got %v", g.RMSFractionalError)
	}

	if c.Bench.Repeats < 1 {
		return fmt.Errorf("bench.repeats must be at least 1, got %d", c.Bench.Repeats)
	}

	validLevels := map[string]bool{"warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	validExporters := map[string]bool{"": true, "stdout": true, "none": true}
	if !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid tracing exporter: %s (valid: stdout, none)", c.Tracing.Exporter)
	}

	if c.Backup.Retention.MaxCount < 0 {
		return fmt.Errorf("backup.retention.max_count must be non-negative, got %d", c.Backup.Retention.MaxCount)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *StarcatConfig) {
	if v := os.Getenv("STARCAT_DB_PATH"); v != "" {
		config.Database.Path = v
	}

	if v := os.Getenv("STARCAT_DISTANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Generation.Distance = f
		}
	}
	if v := os.Getenv("STARCAT_STARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Generation.Stars = n
		}
	}
	if v := os.Getenv("STARCAT_RMS_FRACTIONAL_ERROR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Generation.RMSFractionalError = f
		}
	}
	if v := os.Getenv("STARCAT_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Generation.Seed = &n
		}
	}

	if v := os.Getenv("STARCAT_BENCH_STRATEGIES"); v != "" {
		config.Bench.Strategies = strings.Split(v, ",")
	}
	if v := os.Getenv("STARCAT_BENCH_REPEATS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Bench.Repeats = n
		}
	}

	if v := os.Getenv("STARCAT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("STARCAT_TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("STARCAT_TRACING_EXPORTER"); v != "" {
		config.Tracing.Exporter = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
