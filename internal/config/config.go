// Package config loads and validates the hyokadb configuration.
//
// Configuration is resolved in priority order:
//  1. Environment variables (HYOKADB_*)
//  2. Config file (hyokadb.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file name looked up in the working directory.
const DefaultConfigFile = "hyokadb.yaml"

// Config represents the complete hyokadb configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	DBPath    string          `yaml:"db_path" json:"db_path"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Tokenizer TokenizerConfig `yaml:"tokenizer" json:"tokenizer"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Import    ImportConfig    `yaml:"import" json:"import"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// TokenizerConfig configures the segmenter-free tokenizer.
// The boundary rules are a configuration point: deployments with a
// language-aware segmenter can widen the n-gram, ones without keep the
// bigram fallback.
type TokenizerConfig struct {
	// NGram is the character n-gram width for CJK runs (default: 2).
	NGram int `yaml:"ngram" json:"ngram"`
	// TokenChars are extra characters treated as token-internal in
	// alphanumeric runs (default: "%°").
	TokenChars string `yaml:"token_chars" json:"token_chars"`
}

// SearchConfig configures ranking parameters.
//
// Weights are configurable via the config file or env vars
// (HYOKADB_NAME_WEIGHT, HYOKADB_BODY_WEIGHT) for per-deployment tuning.
type SearchConfig struct {
	// NameWeight is the BM25 field weight for the document index name
	// field. Must be >= BodyWeight so program-name matches outrank
	// body-only matches.
	NameWeight float64 `yaml:"name_weight" json:"name_weight"`

	// BodyWeight is the BM25 field weight for the document index body field.
	BodyWeight float64 `yaml:"body_weight" json:"body_weight"`

	// RRFConstant is the smoothing parameter for rank fusion when
	// querying both indexes (default: 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MaxResults is the default result limit.
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// ImportConfig configures the JSON importer.
type ImportConfig struct {
	// Globs selects files under the import path (doublestar patterns).
	Globs []string `yaml:"globs" json:"globs"`
	// Workers bounds concurrent JSON parsing. Apply stays single-writer.
	Workers int `yaml:"workers" json:"workers"`
}

// WatchConfig configures the import drop-directory watcher.
type WatchConfig struct {
	// Dir is the directory watched for new JSON files.
	Dir string `yaml:"dir" json:"dir"`
	// Debounce is the settle delay before importing a new file (e.g. "500ms").
	Debounce string `yaml:"debounce" json:"debounce"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		DBPath:  "hyoka.db",
		Logging: LoggingConfig{Level: "info"},
		Tokenizer: TokenizerConfig{
			NGram:      2,
			TokenChars: "%°",
		},
		Search: SearchConfig{
			NameWeight:  3.0,
			BodyWeight:  1.0,
			RRFConstant: 60,
			MaxResults:  20,
		},
		Import: ImportConfig{
			Globs:   []string{"*.json"},
			Workers: 4,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist. Env overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.Tokenizer.NGram < 1 || c.Tokenizer.NGram > 4 {
		return fmt.Errorf("tokenizer.ngram must be in [1,4], got %d", c.Tokenizer.NGram)
	}
	if c.Search.NameWeight < c.Search.BodyWeight {
		return fmt.Errorf("search.name_weight (%g) must be >= search.body_weight (%g)",
			c.Search.NameWeight, c.Search.BodyWeight)
	}
	if c.Search.BodyWeight <= 0 {
		return fmt.Errorf("search.body_weight must be positive")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive")
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive")
	}
	return nil
}

// applyEnvOverrides applies HYOKADB_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HYOKADB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HYOKADB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HYOKADB_NAME_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.NameWeight = f
		}
	}
	if v := os.Getenv("HYOKADB_BODY_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.BodyWeight = f
		}
	}
}
