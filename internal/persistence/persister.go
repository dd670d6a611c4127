// Package persistence mirrors tasks and incidents to durable storage.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"alertflow/internal/logger"
	"alertflow/pkg/models"
)

// Persister writes tasks and incidents to a backing store.
type Persister interface {
	SaveTask(ctx context.Context, task *models.Task) error
	SaveIncident(ctx context.Context, incident *models.Incident) error
}

// PersistenceError reports a write that still failed after all retries.
type PersistenceError struct {
	Op       string
	ID       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s failed after %d attempts: %v", e.Op, e.ID, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Nop discards every write.
type Nop struct{}

func (Nop) SaveTask(context.Context, *models.Task) error         { return nil }
func (Nop) SaveIncident(context.Context, *models.Incident) error { return nil }

// RetryConfig bounds retries of a failed write.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// Retrying wraps a Persister with exponential backoff.
type Retrying struct {
	next Persister
	cfg  RetryConfig
}

// NewRetrying wraps next. Zero config fields take defaults.
func NewRetrying(next Persister, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	return &Retrying{next: next, cfg: cfg}
}

// SaveTask writes a task, retrying transient failures.
func (r *Retrying) SaveTask(ctx context.Context, task *models.Task) error {
	return r.do(ctx, "task", task.ID, func() error { return r.next.SaveTask(ctx, task) })
}

// SaveIncident writes an incident, retrying transient failures.
func (r *Retrying) SaveIncident(ctx context.Context, incident *models.Incident) error {
	return r.do(ctx, "incident", incident.ID, func() error { return r.next.SaveIncident(ctx, incident) })
}

func (r *Retrying) do(ctx context.Context, op, id string, write func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval
	bo.RandomizationFactor = 0.2

	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, write()
	}
	notify := func(err error, wait time.Duration) {
		logger.Warnf("Persist %s %s failed (attempt %d), retrying in %s: %v", op, id, attempts, wait, err)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &PersistenceError{Op: op, ID: id, Attempts: attempts, Err: err}
}

// Mirror saves a task snapshot on every lifecycle event. It satisfies
// tasks.Handler.
type Mirror struct {
	P Persister
}

// Handle persists the task.
func (m Mirror) Handle(ctx context.Context, task *models.Task, _ models.LifecycleAction) error {
	return m.P.SaveTask(ctx, task)
}
