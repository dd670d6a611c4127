package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	AlertFlow AlertFlowConfig `yaml:"alertflow"`
}

// AlertFlowConfig is the project configuration.
type AlertFlowConfig struct {
	Input         InputConfig         `yaml:"input"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Rules         RulesConfig         `yaml:"rules"`
	Engine        EngineConfig        `yaml:"engine"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Notify        NotifyConfig        `yaml:"notify"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	ReplayCapture ReplayCaptureConfig `yaml:"replay_capture"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// InputConfig controls the alert reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers        int           `yaml:"workers"`
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// RulesConfig selects the workflow rule file. An empty path uses the
// built-in rules.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	RetentionFactor int `yaml:"retention_factor"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	DeadLetter   string        `yaml:"dead_letter"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PersistenceConfig controls the durable task mirror.
type PersistenceConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Redis   RedisPersistenceConfig `yaml:"redis"`
	Retry   RetryConfig            `yaml:"retry"`
}

// RedisPersistenceConfig controls where tasks and incidents are mirrored.
type RedisPersistenceConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// RetryConfig bounds persistence retries.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// NotifyConfig controls task lifecycle sinks. Each enabled sink receives
// every lifecycle event.
type NotifyConfig struct {
	Log        bool                   `yaml:"log"`
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
	Redis      RedisListConfig        `yaml:"redis"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// RedisListConfig config for pushing events onto a Redis list.
type RedisListConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	MaxLen   int64  `yaml:"max_len"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// ReplayCaptureConfig controls raw alert capture for later replay.
type ReplayCaptureConfig struct {
	Enabled bool             `yaml:"enabled"`
	File    FileOutputConfig `yaml:"file"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	af := &c.AlertFlow
	if af.Input.Redis.Addr == "" {
		af.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if af.Input.Redis.Key == "" {
		af.Input.Redis.Key = "alertflow:alerts"
	}
	if af.Input.Redis.BlockTimeout == 0 {
		af.Input.Redis.BlockTimeout = 5 * time.Second
	}
	if af.Pipeline.Workers <= 0 {
		af.Pipeline.Workers = 8
	}
	if af.Pipeline.BatchSize <= 0 {
		af.Pipeline.BatchSize = 500
	}
	if af.Pipeline.FlushInterval <= 0 {
		af.Pipeline.FlushInterval = 2 * time.Second
	}
	if af.Pipeline.SweepInterval <= 0 {
		af.Pipeline.SweepInterval = time.Minute
	}
	if af.Pipeline.ProcessTimeout <= 0 {
		af.Pipeline.ProcessTimeout = 30 * time.Second
	}
	if af.Engine.RetentionFactor <= 0 {
		af.Engine.RetentionFactor = 4
	}
	if af.Persistence.Redis.Addr == "" {
		af.Persistence.Redis.Addr = af.Input.Redis.Addr
	}
	if af.Metrics.Addr == "" {
		af.Metrics.Addr = ":9464"
	}
	if af.Metrics.Namespace == "" {
		af.Metrics.Namespace = "alertflow"
	}
	if af.Logging.Level == "" {
		af.Logging.Level = "info"
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	af := c.AlertFlow
	if af.ReplayCapture.Enabled && af.ReplayCapture.File.Path == "" {
		return fmt.Errorf("replay_capture.file.path is required when replay capture is enabled")
	}
	if af.Notify.Redis.Addr != "" && af.Notify.Redis.Key == "" {
		return fmt.Errorf("notify.redis.key is required when notify.redis.addr is set")
	}
	return nil
}
