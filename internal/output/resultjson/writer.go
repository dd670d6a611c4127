// Package resultjson writes per-alert processing outcomes as JSON lines.
package resultjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"alertflow/internal/logger"
	"alertflow/internal/workflow"
)

// Writer outputs processing outcomes to a JSON lines file. The file is
// truncated on open so each replay produces a fresh report.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a JSONL writer for outcomes.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	logger.Infof("Result JSON writer initialized: %s", path)
	return &Writer{file: f, encoder: json.NewEncoder(f)}, nil
}

// WriteResults writes a batch of outcomes.
func (w *Writer) WriteResults(outcomes []*workflow.Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("result writer is closed")
	}
	for _, outcome := range outcomes {
		if err := w.encoder.Encode(outcome); err != nil {
			return fmt.Errorf("failed to encode outcome %s: %w", outcome.AlertID, err)
		}
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
