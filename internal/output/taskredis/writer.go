package taskredis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"alertflow/pkg/models"
)

// Config configures the Redis event list writer.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// MaxLen trims the list to the newest entries. Zero disables trimming.
	MaxLen int64
}

// Writer pushes lifecycle events onto a Redis list for downstream consumers.
type Writer struct {
	client *redis.Client
	key    string
	maxLen int64
	now    func() time.Time
}

// NewWriter creates a Redis list writer.
func NewWriter(cfg Config) (*Writer, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("redis event key is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newWriter(client, cfg), nil
}

func newWriter(client *redis.Client, cfg Config) *Writer {
	return &Writer{client: client, key: cfg.Key, maxLen: cfg.MaxLen, now: time.Now}
}

// Handle pushes one lifecycle event.
func (w *Writer) Handle(ctx context.Context, task *models.Task, action models.LifecycleAction) error {
	payload, err := json.Marshal(models.NewLifecycleEvent(task, action, w.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal task event: %w", err)
	}
	pipe := w.client.Pipeline()
	pipe.RPush(ctx, w.key, payload)
	if w.maxLen > 0 {
		pipe.LTrim(ctx, w.key, -w.maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push task event to redis: %w", err)
	}
	return nil
}

// Close closes Redis resources.
func (w *Writer) Close() error {
	return w.client.Close()
}
