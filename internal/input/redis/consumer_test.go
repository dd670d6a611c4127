package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsumerRequiresKey(t *testing.T) {
	_, err := NewConsumer(Config{})
	assert.Error(t, err)

	c, err := NewConsumer(Config{Key: "alerts"})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 5*time.Second, c.blockTimeout)
	assert.Equal(t, "alerts", c.key)
}

func TestDeadLetterWithoutListIsNoop(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	c := newConsumer(client, Config{Key: "alerts"})
	defer c.Close()
	assert.NoError(t, c.DeadLetter(context.Background(), []byte("{}"), "missing id"))
}

func TestEncodeDeadLetter(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	data, err := encodeDeadLetter([]byte(`{"source":"waf"}`), "missing id", at)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "missing id", entry["reason"])
	assert.Equal(t, map[string]interface{}{"source": "waf"}, entry["payload"])
	assert.NotContains(t, entry, "raw")

	data, err = encodeDeadLetter([]byte("not json"), "invalid json", at)
	require.NoError(t, err)
	entry = nil
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "not json", entry["raw"])
	assert.Equal(t, "2026-03-14T10:00:00Z", entry["rejected_at"])
}
