package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Representation kinds accepted in extract.include.
var validInclude = map[string]bool{
	"mean":        true,
	"per_tok":     true,
	"avg_per_tok": true,
	"bos":         true,
	"contacts":    true,
}

// Load loads configuration from file and environment variables.
// Flag overrides are applied by the caller; Validate must run after them.
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/esm-extract/")
	viper.AddConfigPath("$HOME/.esm-extract/")

	viper.SetEnvPrefix("ESM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// Validate checks the fully assembled configuration.
func Validate(config *Config) error {
	if config.Model.Location == "" {
		return fmt.Errorf("model location is required")
	}

	if config.Input.FastaFile == "" {
		return fmt.Errorf("input fasta file is required")
	}

	if config.Output.Dir == "" {
		return fmt.Errorf("output dir is required")
	}

	if config.Output.Format != "parquet" && config.Output.Format != "json" {
		return fmt.Errorf("invalid output format: %s (must be parquet or json)", config.Output.Format)
	}

	if len(config.Extract.Include) == 0 {
		return fmt.Errorf("extract include set must not be empty")
	}
	for _, kind := range config.Extract.Include {
		if !validInclude[kind] {
			return fmt.Errorf("invalid representation kind: %s (must be one of mean, per_tok, avg_per_tok, bos, contacts)", kind)
		}
	}

	if config.Extract.ToksPerBatch <= 0 {
		return fmt.Errorf("invalid toks_per_batch: %d", config.Extract.ToksPerBatch)
	}

	if config.Extract.TruncationSeqLength <= 0 {
		return fmt.Errorf("invalid truncation_seq_length: %d", config.Extract.TruncationSeqLength)
	}

	if config.Extract.BatchStart < 0 {
		return fmt.Errorf("invalid batch_start: %d", config.Extract.BatchStart)
	}
	if config.Extract.BatchEnd != 0 && config.Extract.BatchEnd <= config.Extract.BatchStart {
		return fmt.Errorf("invalid batch window: [%d, %d)", config.Extract.BatchStart, config.Extract.BatchEnd)
	}

	if config.Store.Enabled && config.Store.DatabaseURL == "" {
		return fmt.Errorf("store enabled but database_url is empty")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache enabled but redis_url is empty")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}
