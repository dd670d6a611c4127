package rawcapture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRawMessagesAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture", "alerts.jsonl")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteRawMessages([][]byte{
		[]byte(`{"id":"a1"}`),
		[]byte("  "),
		[]byte("{\"id\":\n\"a2\"}\n"),
	}))
	require.NoError(t, w.Close())

	w, err = NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteRawMessages([][]byte{[]byte(`{"id":"a3"}`)}))
	require.NoError(t, w.Close())
	assert.Error(t, w.WriteRawMessages([][]byte{[]byte("x")}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"a1\"}\n{\"id\":\"a2\"}\n{\"id\":\"a3\"}\n", string(data))
}
