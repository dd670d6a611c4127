// Package redis reads alert payloads from a Redis list.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	DeadLetter   string
	BlockTimeout time.Duration
}

// Consumer pops alerts from a Redis list and parks rejected payloads on a
// dead-letter list.
type Consumer struct {
	client       *redis.Client
	key          string
	deadLetter   string
	blockTimeout time.Duration
}

type deadLetterEntry struct {
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Raw        string          `json:"raw,omitempty"`
	RejectedAt time.Time       `json:"rejected_at"`
}

// NewConsumer creates a Redis consumer for list-based alert queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newConsumer(client, cfg), nil
}

func newConsumer(client *redis.Client, cfg Config) *Consumer {
	return &Consumer{
		client:       client,
		key:          cfg.Key,
		deadLetter:   cfg.DeadLetter,
		blockTimeout: cfg.BlockTimeout,
	}
}

// Pop pops one alert payload. It returns nil, nil when the queue stayed
// empty for the block timeout.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// DeadLetter pushes a rejected payload with its reason. It is a no-op when
// no dead-letter list is configured.
func (c *Consumer) DeadLetter(ctx context.Context, payload []byte, reason string) error {
	if c.deadLetter == "" {
		return nil
	}
	entry, err := encodeDeadLetter(payload, reason, time.Now().UTC())
	if err != nil {
		return err
	}
	return c.client.RPush(ctx, c.deadLetter, entry).Err()
}

func encodeDeadLetter(payload []byte, reason string, at time.Time) ([]byte, error) {
	entry := deadLetterEntry{Reason: reason, RejectedAt: at}
	if json.Valid(payload) {
		entry.Payload = payload
	} else {
		entry.Raw = string(payload)
	}
	return json.Marshal(entry)
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
