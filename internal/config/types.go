package config

import "time"

// Config represents the main configuration structure.
type Config struct {
	Model   ModelConfig   `yaml:"model" mapstructure:"model"`
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Extract ExtractConfig `yaml:"extract" mapstructure:"extract"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Status  StatusConfig  `yaml:"status" mapstructure:"status"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ModelConfig selects the pretrained model and its execution device.
type ModelConfig struct {
	Location string `yaml:"location" mapstructure:"location"` // pretrained name or ONNX file path
	NoGPU    bool   `yaml:"nogpu" mapstructure:"nogpu"`
}

// InputConfig locates the sequence source.
type InputConfig struct {
	FastaFile string `yaml:"fasta_file" mapstructure:"fasta_file"`
}

// OutputConfig controls where and how per-sequence bundles are written.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"` // parquet or json
}

// ExtractConfig contains the core extraction parameters.
type ExtractConfig struct {
	ToksPerBatch        int      `yaml:"toks_per_batch" mapstructure:"toks_per_batch"`
	Include             []string `yaml:"include" mapstructure:"include"`
	ReprLayers          []int    `yaml:"repr_layers" mapstructure:"repr_layers"`
	TruncationSeqLength int      `yaml:"truncation_seq_length" mapstructure:"truncation_seq_length"`
	BatchStart          int      `yaml:"batch_start" mapstructure:"batch_start"`
	BatchEnd            int      `yaml:"batch_end" mapstructure:"batch_end"` // 0 means unbounded
}

// StoreConfig contains the optional Postgres embedding sink configuration.
type StoreConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// CacheConfig contains the optional Redis mean-representation cache configuration.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// StatusConfig contains the optional progress endpoint configuration.
type StatusConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults.
func GetDefaults() *Config {
	return &Config{
		Output: OutputConfig{
			Format: "parquet",
		},
		Extract: ExtractConfig{
			ToksPerBatch:        4096,
			ReprLayers:          []int{-1},
			TruncationSeqLength: 1022,
		},
		Store: StoreConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache: CacheConfig{
			DefaultTTL:     24 * time.Hour,
			MaxConnections: 10,
			MinIdleConns:   2,
		},
		Status: StatusConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
