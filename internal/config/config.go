// Package config loads the CLI's small YAML configuration file: heuristic
// catalog paths, default log level/format, and CSV/clone output locations.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/sqlrecover/internal/logging"
)

// Config is the CLI-level configuration; the core engine never reads it
// directly.
type Config struct {
	// CatalogPath points to a user heuristic YAML document that overrides
	// the built-in catalog's entries on duplicate grouping+table keys.
	CatalogPath string `yaml:"catalog_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// CSVOutputDir is the base directory csvdump.NextOutputDir picks
	// numbered subdirectories under.
	CSVOutputDir string `yaml:"csv_output_dir"`

	// CloneDir is where reinsert writes its cloned-and-repaired copy of
	// the source file before inserting recovered rows.
	CloneDir string `yaml:"clone_dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		LogFormat:    "json",
		CSVOutputDir: ".",
		CloneDir:     ".",
	}
}

// Load reads and parses a YAML config file at path. A missing file is not
// an error; Default() is returned instead, since the CLI treats
// configuration as optional.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

// Level maps the configured log level string to a logging.Level,
// defaulting to LevelInfo for anything unrecognized.
func (c *Config) Level() logging.Level {
	switch c.LogLevel {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// Format maps the configured log format string to a logging.Format,
// defaulting to FormatJSON.
func (c *Config) Format() logging.Format {
	if c.LogFormat == "text" {
		return logging.FormatText
	}
	return logging.FormatJSON
}
