// Package batch accumulates low-value alerts into hourly batches that are
// flushed into a single review task.
package batch

import (
	"sort"
	"sync"
	"time"

	"alertflow/internal/rules"
	"alertflow/pkg/models"
)

// Flush reasons.
const (
	ReasonSize    = "size"
	ReasonTimeout = "timeout"
	ReasonDrain   = "drain"
)

// Flush is a closed batch ready to become a task.
type Flush struct {
	BatchID string
	Rule    *rules.WorkflowRule
	Alerts  []*models.Alert
	// Fingerprints holds the dedup fingerprint of each alert.
	Fingerprints []string
	OpenedAt     time.Time
	Reason       string
}

type openBatch struct {
	rule     *rules.WorkflowRule
	alerts   []*models.Alert
	fps      []string
	seen     map[string]struct{}
	openedAt time.Time
}

// Batcher holds open batches keyed by batch id.
type Batcher struct {
	mu   sync.Mutex
	open map[string]*openBatch
	// retry holds closed batches whose task could not be committed.
	retry []*Flush
	now   func() time.Time
}

// New creates an empty batcher.
func New() *Batcher {
	return &Batcher{
		open: make(map[string]*openBatch),
		now:  time.Now,
	}
}

// SetClock overrides the time source.
func (b *Batcher) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// ID returns the batch id for a rule at a point in time: the rule name and
// the UTC hour bucket.
func ID(rule *rules.WorkflowRule, at time.Time) string {
	return rule.Name + "_" + at.UTC().Format("2006010215")
}

// Add appends an alert to the rule's current batch and returns the batch
// id. An alert whose fingerprint the open batch already holds is not added
// again and dup is true. When the batch reaches the rule's size limit it is
// closed and returned as a Flush.
func (b *Batcher) Add(rule *rules.WorkflowRule, alert *models.Alert, fp string) (id string, dup bool, flush *Flush) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	id = ID(rule, now)
	ob, ok := b.open[id]
	if !ok {
		ob = &openBatch{rule: rule, openedAt: now, seen: make(map[string]struct{})}
		b.open[id] = ob
	}
	if _, ok := ob.seen[fp]; ok {
		return id, true, nil
	}
	ob.seen[fp] = struct{}{}
	ob.alerts = append(ob.alerts, alert)
	ob.fps = append(ob.fps, fp)

	size := rule.BatchSize
	if size <= 0 {
		size = rules.DefaultBatchSize
	}
	if len(ob.alerts) >= size {
		delete(b.open, id)
		return id, false, ob.flush(id, ReasonSize)
	}
	return id, false, nil
}

// Requeue hands back a batch whose task could not be committed. It is
// returned again by the next FlushExpired or Drain.
func (b *Batcher) Requeue(f *Flush) {
	if f == nil || len(f.Alerts) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retry = append(b.retry, f)
}

// FlushExpired closes every batch whose first alert is older than its
// rule's timeout at now. Requeued batches come first, whatever their age.
func (b *Batcher) FlushExpired(now time.Time) []*Flush {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.takeRetry()
	var expired []*Flush
	for id, ob := range b.open {
		timeout := ob.rule.BatchTimeout
		if timeout <= 0 {
			timeout = rules.DefaultBatchTimeout
		}
		if now.Sub(ob.openedAt) >= timeout {
			delete(b.open, id)
			expired = append(expired, ob.flush(id, ReasonTimeout))
		}
	}
	sortFlushes(expired)
	return append(out, expired...)
}

// Drain closes every open batch regardless of age.
func (b *Batcher) Drain() []*Flush {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.takeRetry()
	drained := make([]*Flush, 0, len(b.open))
	for id, ob := range b.open {
		drained = append(drained, ob.flush(id, ReasonDrain))
	}
	b.open = make(map[string]*openBatch)
	sortFlushes(drained)
	return append(out, drained...)
}

// Pending returns the number of alerts held in open or requeued batches.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ob := range b.open {
		n += len(ob.alerts)
	}
	for _, f := range b.retry {
		n += len(f.Alerts)
	}
	return n
}

func (b *Batcher) takeRetry() []*Flush {
	out := b.retry
	b.retry = nil
	return out
}

func (ob *openBatch) flush(id, reason string) *Flush {
	return &Flush{
		BatchID:      id,
		Rule:         ob.rule,
		Alerts:       ob.alerts,
		Fingerprints: ob.fps,
		OpenedAt:     ob.openedAt,
		Reason:       reason,
	}
}

func sortFlushes(flushes []*Flush) {
	sort.Slice(flushes, func(i, j int) bool {
		if flushes[i].OpenedAt.Equal(flushes[j].OpenedAt) {
			return flushes[i].BatchID < flushes[j].BatchID
		}
		return flushes[i].OpenedAt.Before(flushes[j].OpenedAt)
	})
}
