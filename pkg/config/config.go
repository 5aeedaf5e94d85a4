package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"chapcrack-go/pkg/mschap"
	"chapcrack-go/pkg/securestore"
)

// ErrInvalidNTHash is returned when nt_hash is not 32 hex characters.
var ErrInvalidNTHash = errors.New("nt hash must be 32 hex characters")

// LoggingConfig holds the configuration for the logging system.
type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LEVEL"`
}

// MetricsConfig controls the metrics textfile export.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"ENABLED"`
	Textfile string `yaml:"textfile" envconfig:"TEXTFILE"`
}

// MppeConfig tunes MPPE decryption.
type MppeConfig struct {
	ResyncOnFlush bool `yaml:"resync_on_flush" envconfig:"RESYNC_ON_FLUSH"`
}

// Config holds the application configuration.
type Config struct {
	Input      string `yaml:"input" envconfig:"INPUT"`
	Output     string `yaml:"output" envconfig:"OUTPUT"`
	ReportFile string `yaml:"report_file" envconfig:"REPORT_FILE"`
	Workers    int    `yaml:"workers" envconfig:"WORKERS"`

	NTHashStr string              `yaml:"nt_hash" envconfig:"NT_HASH"`
	NTHash    *securestore.Secret `yaml:"-" ignored:"true"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	MPPE    MppeConfig    `yaml:"mppe"`
}

// Load reads the YAML file at path, if any, then applies CHAPCRACK_* environment
// overrides. An empty path skips the file; a named file must exist.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
			}
		}
	}

	// Logging.Level can be set with CHAPCRACK_LOGGING_LEVEL.
	if err := envconfig.Process("chapcrack", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.SetNTHash(cfg.NTHashStr); err != nil {
		return nil, err
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}

	return &cfg, nil
}

// SetNTHash moves a hex NT hash into secure storage and clears the plaintext field.
// An empty value leaves the current hash untouched.
func (c *Config) SetNTHash(hexHash string) error {
	hexHash = strings.TrimSpace(hexHash)
	c.NTHashStr = ""
	if hexHash == "" {
		return nil
	}
	if len(hexHash) != 2*mschap.NTHashSize {
		return ErrInvalidNTHash
	}
	secret, err := securestore.NewSecretFromHex(hexHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNTHash, err)
	}
	if c.NTHash != nil {
		c.NTHash.Destroy()
	}
	c.NTHash = secret
	return nil
}
