// Package correlation groups alerts sharing a rule-defined key into one open
// incident for the length of the rule's correlation window.
package correlation

import (
	"context"
	"sort"
	"sync"
	"time"

	"alertflow/internal/logger"
	"alertflow/internal/rules"
	"alertflow/pkg/models"
)

// Appender attaches an alert to an existing incident.
type Appender interface {
	AppendAlert(incidentID, alertID string) (*models.Incident, error)
}

// CreateFunc creates a fresh incident (and its task) for the alert.
type CreateFunc func(ctx context.Context) (*models.Incident, error)

// Outcome reports what CorrelateOrCreate did.
type Outcome struct {
	Incident *models.Incident
	// Merged is true when the alert joined an existing incident and no task
	// was created.
	Merged bool
}

type ref struct {
	incidentID string
	createdAt  time.Time
}

type bucket struct {
	mu    sync.Mutex
	refs  []ref
	users int
}

// Cache tracks incidents per correlation key.
type Cache struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Key returns the correlation key of an alert under a rule. An alert missing
// the attribute still correlates with other alerts missing it.
func Key(rule *rules.WorkflowRule, alert *models.Alert) string {
	return rule.Name + "|" + alert.Attr(rule.CorrelationKey)
}

// CorrelateOrCreate appends the alert to the newest open incident for its key
// created within the rule's window, or calls create for a new one. The
// decision is serialized per key.
func (c *Cache) CorrelateOrCreate(ctx context.Context, alert *models.Alert, rule *rules.WorkflowRule, store Appender, create CreateFunc) (Outcome, error) {
	key := Key(rule, alert)
	window := rule.CorrelationWindow
	if window <= 0 {
		window = rules.DefaultCorrelationWindow
	}

	b := c.acquire(key)
	defer c.release(b)

	b.mu.Lock()
	defer b.mu.Unlock()

	// The cutoff is taken under the bucket lock, not on arrival.
	cutoff := c.clock().Add(-window)
	candidates := make([]ref, 0, len(b.refs))
	for _, r := range b.refs {
		if !r.createdAt.Before(cutoff) {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].createdAt.After(candidates[j].createdAt)
	})

	for _, r := range candidates {
		inc, err := store.AppendAlert(r.incidentID, alert.ID)
		if err == nil {
			return Outcome{Incident: inc, Merged: true}, nil
		}
		// Closed, merged or evicted incidents stop accepting alerts.
		logger.Debugf("Correlation candidate %s skipped for key %s: %v", r.incidentID, key, err)
		b.refs = dropRef(b.refs, r.incidentID)
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	inc, err := create(ctx)
	if err != nil {
		return Outcome{}, err
	}
	b.refs = append(b.refs, ref{incidentID: inc.ID, createdAt: inc.CreatedAt})
	return Outcome{Incident: inc}, nil
}

// Incidents returns the incident ids tracked for a key, oldest first.
func (c *Cache) Incidents(key string) []string {
	c.mu.Lock()
	b, ok := c.buckets[key]
	if ok {
		b.users++
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	defer c.release(b)

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.refs))
	for _, r := range b.refs {
		out = append(out, r.incidentID)
	}
	return out
}

// Len returns the number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}

// Sweep drops incident references created before cutoff and removes keys
// left empty. Keys in use are skipped until the next sweep.
func (c *Cache) Sweep(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, b := range c.buckets {
		if b.users > 0 {
			continue
		}
		kept := b.refs[:0]
		for _, r := range b.refs {
			if r.createdAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		b.refs = kept
		if len(b.refs) == 0 {
			delete(c.buckets, key)
		}
	}
	return removed
}

func (c *Cache) acquire(key string) *bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{}
		c.buckets[key] = b
	}
	b.users++
	return b
}

func (c *Cache) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().UTC()
}

func (c *Cache) release(b *bucket) {
	c.mu.Lock()
	b.users--
	c.mu.Unlock()
}

func dropRef(refs []ref, incidentID string) []ref {
	out := refs[:0]
	for _, r := range refs {
		if r.incidentID != incidentID {
			out = append(out, r)
		}
	}
	return out
}
