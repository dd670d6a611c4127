package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"alertflow/pkg/models"
)

// RedisConfig configures Redis access for the task mirror.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires mirrored records. Zero keeps them forever.
	TTL time.Duration
}

// RedisStore mirrors tasks and incidents into Redis: one JSON value per
// record, a sorted index by creation time, and a status hash for tasks.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis task store: %w", err)
	}
	return newRedisStore(client, cfg), nil
}

func newRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "alertflow"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}
}

// SaveTask writes the task and updates its indexes.
func (s *RedisStore) SaveTask(ctx context.Context, task *models.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.taskKey(task.ID), payload, s.ttl)
	pipe.ZAdd(ctx, s.taskIndexKey(), redis.Z{Score: float64(task.CreatedAt.Unix()), Member: task.ID})
	pipe.HSet(ctx, s.taskStatusKey(), task.ID, string(task.Status))
	if id := task.AssigneeID(); id != "" {
		pipe.SAdd(ctx, s.assigneeKey(id), task.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write task %s to redis: %w", task.ID, err)
	}
	return nil
}

// SaveIncident writes the incident and indexes it.
func (s *RedisStore) SaveIncident(ctx context.Context, incident *models.Incident) error {
	payload, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", incident.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.incidentKey(incident.ID), payload, s.ttl)
	pipe.ZAdd(ctx, s.incidentIndexKey(), redis.Z{Score: float64(incident.CreatedAt.Unix()), Member: incident.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write incident %s to redis: %w", incident.ID, err)
	}
	return nil
}

// LoadTask reads a mirrored task. It returns nil, nil when absent.
func (s *RedisStore) LoadTask(ctx context.Context, id string) (*models.Task, error) {
	raw, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}
	var task models.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &task, nil
}

// TaskIDsSince returns ids of tasks created at or after since, oldest first.
func (s *RedisStore) TaskIDsSince(ctx context.Context, since time.Time, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	ids, err := s.client.ZRangeByScore(ctx, s.taskIndexKey(), &redis.ZRangeBy{
		Min:   fmt.Sprintf("%d", since.Unix()),
		Max:   "+inf",
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read task index: %w", err)
	}
	return ids, nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) taskKey(id string) string {
	return s.prefix + ":task:" + id
}

func (s *RedisStore) incidentKey(id string) string {
	return s.prefix + ":incident:" + id
}

func (s *RedisStore) taskIndexKey() string {
	return s.prefix + ":tasks"
}

func (s *RedisStore) incidentIndexKey() string {
	return s.prefix + ":incidents"
}

func (s *RedisStore) taskStatusKey() string {
	return s.prefix + ":task_status"
}

func (s *RedisStore) assigneeKey(id string) string {
	return s.prefix + ":assignee:" + id
}
