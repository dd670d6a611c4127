// Package file reads alert payloads from JSON lines files for replay.
package file

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Reader yields one payload per non-empty line.
type Reader struct {
	mu     sync.Mutex
	closer io.Closer
	r      *bufio.Reader
	line   int
}

// Open opens a JSONL file. "-" reads standard input.
func Open(path string) (*Reader, error) {
	if path == "-" {
		return NewReader(io.NopCloser(os.Stdin)), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	return NewReader(f), nil
}

// NewReader wraps an already open stream.
func NewReader(rc io.ReadCloser) *Reader {
	return &Reader{closer: rc, r: bufio.NewReaderSize(rc, 1<<20)}
}

// Pop returns the next payload, or io.EOF once the input is exhausted.
func (r *Reader) Pop(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.r.ReadBytes('\n')
		if len(raw) > 0 {
			r.line++
		}
		line := bytes.TrimSpace(raw)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read line %d: %w", r.line, err)
		}
	}
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.line
}

// Close closes the underlying stream.
func (r *Reader) Close() error {
	return r.closer.Close()
}
