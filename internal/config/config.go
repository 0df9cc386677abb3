// Package config loads host configuration from defaults, an optional YAML
// file and VALUECHANGE_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendYAML   = "yaml"
	BackendMemory = "memory"
)

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

type Config struct {
	ContractID    string        `yaml:"contract_id" env:"VALUECHANGE_CONTRACT_ID"`
	Backend       string        `yaml:"backend" env:"VALUECHANGE_BACKEND"`
	DataDir       string        `yaml:"data_dir" env:"VALUECHANGE_DATA_DIR"`
	LogLevel      string        `yaml:"log_level" env:"VALUECHANGE_LOG_LEVEL"`
	LogFormat     string        `yaml:"log_format" env:"VALUECHANGE_LOG_FORMAT"`
	OTelEndpoint  string        `yaml:"otel_endpoint" env:"VALUECHANGE_OTEL_ENDPOINT"`
	BlockInterval time.Duration `yaml:"block_interval" env:"VALUECHANGE_BLOCK_INTERVAL"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		ContractID:    "valuechange",
		Backend:       BackendSQLite,
		DataDir:       ".valuechange",
		LogLevel:      "info",
		LogFormat:     LogFormatConsole,
		BlockInterval: 0,
	}
}

// Load builds a Config. path may be empty; a missing file at a non-empty path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ContractID) == "" {
		return errors.New("contract id is required")
	}
	if strings.ContainsAny(c.ContractID, `/\`) {
		return fmt.Errorf("contract id %q must not contain path separators", c.ContractID)
	}
	switch c.Backend {
	case BackendSQLite, BackendJSON, BackendYAML:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("data dir is required for backend %q", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.BlockInterval < 0 {
		return fmt.Errorf("block interval must not be negative")
	}
	return nil
}
