// Package rawcapture archives raw alert payloads to a JSON lines file that
// the replay command can read back.
package rawcapture

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"alertflow/internal/logger"
)

// Writer appends one payload per line.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
	mu   sync.Mutex
}

// NewWriter opens path in append mode.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	logger.Infof("Raw capture writer initialized: %s", path)
	return &Writer{file: f, buf: bufio.NewWriter(f)}, nil
}

// WriteRawMessages appends payloads and flushes them to disk. Embedded
// newlines are stripped so every payload stays on one line.
func (w *Writer) WriteRawMessages(messages [][]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("capture writer is closed")
	}
	for _, msg := range messages {
		msg = bytes.TrimSpace(msg)
		if len(msg) == 0 {
			continue
		}
		msg = bytes.ReplaceAll(msg, []byte("\n"), nil)
		if _, err := w.buf.Write(msg); err != nil {
			return fmt.Errorf("failed to write raw payload: %w", err)
		}
		if err := w.buf.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write raw payload: %w", err)
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the capture file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
