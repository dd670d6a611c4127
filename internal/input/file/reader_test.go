package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderSkipsBlankLines(t *testing.T) {
	r := NewReader(io.NopCloser(strings.NewReader("{\"id\":\"a1\"}\n\n   \n{\"id\":\"a2\"}")))
	ctx := context.Background()

	first, err := r.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a1"}`, string(first))

	second, err := r.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a2"}`, string(second))
	assert.Equal(t, 4, r.Line())

	_, err = r.Pop(ctx)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, r.Close())
}

func TestReaderStopsOnCancelledContext(t *testing.T) {
	r := NewReader(io.NopCloser(strings.NewReader("{}\n")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"x\"}\n"), 0644))
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	payload, err := r.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x"}`, string(payload))
}
