package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alertflow.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
alertflow:
  input:
    redis:
      addr: "redis:6379"
      key: "soc:alerts"
      dead_letter: "soc:alerts:dead"
  pipeline:
    workers: 4
    flush_interval: 500ms
  rules:
    path: "rules/workflow.yml"
  engine:
    retention_factor: 6
  persistence:
    enabled: true
    redis:
      key_prefix: "soc"
      ttl: 720h
    retry:
      max_attempts: 5
  notify:
    log: true
    http:
      url: "http://ticketing.local/hooks/tasks"
      timeout: 3s
    redis:
      addr: "redis:6379"
      key: "soc:task_events"
      max_len: 10000
  metrics:
    enabled: true
  logging:
    enabled: true
    level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	af := cfg.AlertFlow

	assert.Equal(t, "soc:alerts", af.Input.Redis.Key)
	assert.Equal(t, "soc:alerts:dead", af.Input.Redis.DeadLetter)
	assert.Equal(t, 5*time.Second, af.Input.Redis.BlockTimeout)
	assert.Equal(t, 4, af.Pipeline.Workers)
	assert.Equal(t, 500*time.Millisecond, af.Pipeline.FlushInterval)
	assert.Equal(t, time.Minute, af.Pipeline.SweepInterval)
	assert.Equal(t, "rules/workflow.yml", af.Rules.Path)
	assert.Equal(t, 6, af.Engine.RetentionFactor)
	assert.True(t, af.Persistence.Enabled)
	assert.Equal(t, "redis:6379", af.Persistence.Redis.Addr)
	assert.Equal(t, 720*time.Hour, af.Persistence.Redis.TTL)
	assert.Equal(t, 5, af.Persistence.Retry.MaxAttempts)
	assert.True(t, af.Notify.Log)
	assert.Equal(t, 3*time.Second, af.Notify.HTTP.Timeout)
	assert.Equal(t, int64(10000), af.Notify.Redis.MaxLen)
	assert.Equal(t, ":9464", af.Metrics.Addr)
	assert.Equal(t, "alertflow", af.Metrics.Namespace)
	assert.Equal(t, "debug", af.Logging.Level)
}

func TestApplyDefaultsOnEmptyConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	af := cfg.AlertFlow

	assert.Equal(t, "127.0.0.1:6379", af.Input.Redis.Addr)
	assert.Equal(t, "alertflow:alerts", af.Input.Redis.Key)
	assert.Equal(t, 8, af.Pipeline.Workers)
	assert.Equal(t, 500, af.Pipeline.BatchSize)
	assert.Equal(t, 2*time.Second, af.Pipeline.FlushInterval)
	assert.Equal(t, 30*time.Second, af.Pipeline.ProcessTimeout)
	assert.Equal(t, 4, af.Engine.RetentionFactor)
	assert.Equal(t, "info", af.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
alertflow:
  replay_capture:
    enabled: true
`))
	assert.ErrorContains(t, err, "replay_capture.file.path")

	_, err = LoadConfig(writeConfig(t, `
alertflow:
  notify:
    redis:
      addr: "redis:6379"
`))
	assert.ErrorContains(t, err, "notify.redis.key")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "alertflow: [unbalanced"))
	assert.Error(t, err)
}
