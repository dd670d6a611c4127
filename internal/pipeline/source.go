package pipeline

import "context"

// Source yields raw alert payloads. Pop returns nil, nil when nothing is
// available yet and io.EOF when the source is exhausted.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// DeadLetterer receives payloads that could not be adapted into alerts.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, payload []byte, reason string) error
}
