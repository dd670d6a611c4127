// Package pipeline feeds alerts from a source through the workflow engine.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"alertflow/internal/adapter"
	"alertflow/internal/logger"
	"alertflow/internal/metrics"
	"alertflow/internal/workflow"
	"alertflow/pkg/models"
)

// Processor is the part of the workflow engine the pipeline drives.
type Processor interface {
	Process(ctx context.Context, alert *models.Alert) (workflow.Result, error)
	FlushBatches(ctx context.Context, now time.Time) int
	Drain(ctx context.Context) int
	Sweep(now time.Time) (fingerprints, correlations int)
}

// Options tunes an AlertPipeline. Zero values take defaults.
type Options struct {
	Workers        int
	BatchSize      int
	FlushInterval  time.Duration
	SweepInterval  time.Duration
	ProcessTimeout time.Duration
}

// Stats counts payloads seen by the pipeline.
type Stats struct {
	Received  int64 `json:"received"`
	Rejected  int64 `json:"rejected"`
	Processed int64 `json:"processed"`
	Errors    int64 `json:"errors"`
}

// AlertPipeline consumes alert payloads and processes them concurrently.
type AlertPipeline struct {
	source       Source
	engine       Processor
	resultWriter ResultWriter
	rawWriter    RawWriter
	metrics      *metrics.Collector
	opts         Options
	now          func() time.Time

	received  atomic.Int64
	rejected  atomic.Int64
	processed atomic.Int64
	errs      atomic.Int64
}

type workItem struct {
	raw     []byte
	outcome *workflow.Outcome
}

// NewAlertPipeline creates a pipeline. resultWriter, rawWriter and m may be
// nil.
func NewAlertPipeline(source Source, engine Processor, resultWriter ResultWriter, rawWriter RawWriter, m *metrics.Collector, opts Options) *AlertPipeline {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 30 * time.Second
	}
	return &AlertPipeline{
		source:       source,
		engine:       engine,
		resultWriter: resultWriter,
		rawWriter:    rawWriter,
		metrics:      m,
		opts:         opts,
		now:          time.Now,
	}
}

// Stats returns the pipeline counters.
func (p *AlertPipeline) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Rejected:  p.rejected.Load(),
		Processed: p.processed.Load(),
		Errors:    p.errs.Load(),
	}
}

// Run processes payloads until ctx ends or the source is exhausted. Alerts
// already popped are finished and open batches are drained before it
// returns.
func (p *AlertPipeline) Run(ctx context.Context) error {
	logger.Infof("Alert pipeline started (workers=%d)", p.opts.Workers)

	msgCh := make(chan []byte, p.opts.Workers*4)
	workCh := make(chan workItem, p.opts.Workers*4)
	// Work already accepted outlives ctx so shutdown does not tear alerts
	// in half.
	workCtx := context.WithoutCancel(ctx)

	go func() {
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	var workers sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.workerLoop(workCtx, msgCh, workCh)
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.writeLoop(workCtx, workCh)
	}()

	workers.Wait()
	close(workCh)
	<-done

	drainCtx, cancel := context.WithTimeout(workCtx, p.opts.ProcessTimeout)
	defer cancel()
	if n := p.engine.Drain(drainCtx); n > 0 {
		logger.Infof("Drained %d open batches", n)
	}

	st := p.Stats()
	logger.Infof("Alert pipeline stopped: received=%d processed=%d rejected=%d errors=%d",
		st.Received, st.Processed, st.Rejected, st.Errors)
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *AlertPipeline) Close() error {
	if p.resultWriter != nil {
		if err := p.resultWriter.Close(); err != nil {
			logger.Errorf("Failed to close result writer: %v", err)
		}
	}
	if p.rawWriter != nil {
		if err := p.rawWriter.Close(); err != nil {
			logger.Errorf("Failed to close raw capture writer: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *AlertPipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				logger.Infof("Alert source exhausted")
				return
			}
			logger.Errorf("Failed to pop alert: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		p.received.Add(1)
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *AlertPipeline) workerLoop(ctx context.Context, in <-chan []byte, out chan<- workItem) {
	for payload := range in {
		alert, err := adapter.Parse(payload)
		if err != nil {
			p.reject(ctx, payload, err)
			out <- workItem{raw: payload}
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, p.opts.ProcessTimeout)
		res, err := p.engine.Process(pctx, &alert)
		cancel()

		outcome := &workflow.Outcome{AlertID: alert.ID, Result: res, ProcessedAt: p.now().UTC()}
		switch {
		case err != nil:
			p.errs.Add(1)
			outcome.Error = err.Error()
			logger.Errorf("Failed to process alert %s: %v", alert.ID, err)
		case res.Error != "":
			p.errs.Add(1)
			logger.Warnf("Alert %s not committed: %s", alert.ID, res.Error)
		default:
			p.processed.Add(1)
		}
		out <- workItem{raw: payload, outcome: outcome}
	}
}

func (p *AlertPipeline) reject(ctx context.Context, payload []byte, err error) {
	p.rejected.Add(1)
	field := "payload"
	var aerr *adapter.AdaptationError
	if errors.As(err, &aerr) {
		field = aerr.Field
	}
	p.metrics.AlertRejected(field)
	logger.Warnf("Dropping alert: %v", err)

	dl, ok := p.source.(DeadLetterer)
	if !ok {
		return
	}
	if err := dl.DeadLetter(ctx, payload, err.Error()); err != nil {
		logger.Errorf("Failed to dead-letter alert: %v", err)
	}
}

func (p *AlertPipeline) writeLoop(ctx context.Context, in <-chan workItem) {
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()
	sweeper := time.NewTicker(p.opts.SweepInterval)
	defer sweeper.Stop()

	var batchRaw [][]byte
	var batchOutcomes []*workflow.Outcome

	flush := func(final bool) {
		if p.rawWriter != nil && len(batchRaw) > 0 {
			if err := writeWithRetry(ctx, final, func() error { return p.rawWriter.WriteRawMessages(batchRaw) }); err != nil {
				logger.Errorf("Dropping %d raw payloads: %v", len(batchRaw), err)
			}
		}
		batchRaw = nil
		if p.resultWriter != nil && len(batchOutcomes) > 0 {
			if err := writeWithRetry(ctx, final, func() error { return p.resultWriter.WriteResults(batchOutcomes) }); err != nil {
				logger.Errorf("Dropping %d results: %v", len(batchOutcomes), err)
			}
		}
		batchOutcomes = nil
	}

	for {
		select {
		case <-ticker.C:
			flush(false)
			p.flushBatches(ctx)
		case <-sweeper.C:
			p.engine.Sweep(p.now())
		case item, ok := <-in:
			if !ok {
				flush(true)
				return
			}
			batchRaw = append(batchRaw, item.raw)
			if item.outcome != nil {
				batchOutcomes = append(batchOutcomes, item.outcome)
			}
			if len(batchRaw) >= p.opts.BatchSize {
				flush(false)
			}
		}
	}
}

func (p *AlertPipeline) flushBatches(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, p.opts.ProcessTimeout)
	defer cancel()
	if n := p.engine.FlushBatches(fctx, p.now()); n > 0 {
		logger.Debugf("Flushed %d expired batches", n)
	}
}

// writeWithRetry retries a failed write every second. The final flush gets
// a single attempt.
func writeWithRetry(ctx context.Context, final bool, write func() error) error {
	const maxAttempts = 5
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		if final {
			return err
		}
		logger.Errorf("Write failed (attempt %d/%d): %v", attempt, maxAttempts, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Second):
		}
	}
	return err
}
