package taskredis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWriterRequiresKey(t *testing.T) {
	_, err := NewWriter(Config{})
	assert.Error(t, err)

	w, err := NewWriter(Config{Key: "alertflow:task_events", MaxLen: 1000})
	if assert.NoError(t, err) {
		assert.Equal(t, "alertflow:task_events", w.key)
		assert.Equal(t, int64(1000), w.maxLen)
		assert.NoError(t, w.Close())
	}
}
