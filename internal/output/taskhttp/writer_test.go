package taskhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertflow/pkg/models"
)

func TestWriterPostsEvent(t *testing.T) {
	var got models.LifecycleEvent
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}})
	require.NoError(t, err)

	task := &models.Task{ID: "TASK-1", Priority: models.PriorityHigh, Status: models.StatusCreated}
	require.NoError(t, w.Handle(context.Background(), task, models.ActionCreated))
	assert.Equal(t, "Bearer x", token)
	assert.Equal(t, "TASK-1", got.TaskID)
	assert.Equal(t, "HIGH", got.Priority)
}

func TestWriterReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL})
	require.NoError(t, err)
	err = w.Handle(context.Background(), &models.Task{ID: "TASK-1"}, models.ActionCreated)
	assert.ErrorContains(t, err, "502")
}

func TestNewWriterRequiresURL(t *testing.T) {
	_, err := NewWriter(Config{})
	assert.Error(t, err)
}
