// Package dedup maps alert fingerprints to the incident they produced.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"alertflow/pkg/models"
)

// Fingerprint returns the stable identity hash of an alert.
func Fingerprint(alert *models.Alert) string {
	sum := sha256.Sum256([]byte(alert.PatternType + "|" + alert.SourceIP() + "|" + alert.Message))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	incidentID string
	// batchID is set while the fingerprint waits in an open batch.
	batchID string
	seenAt  time.Time
	done    chan struct{}
}

func (e *entry) settled() bool {
	return e.incidentID != "" || e.batchID != ""
}

// Claim is the outcome of Deduplicator.Claim.
type Claim struct {
	// Owner is true when the caller must create the incident and then call
	// Resolve or Abandon.
	Owner bool
	// IncidentID is the incident already registered for the fingerprint
	// when Owner is false.
	IncidentID string
	// BatchID is the open batch holding the fingerprint when Owner is false
	// and no incident exists yet.
	BatchID string
}

// Deduplicator guards incident creation per fingerprint.
type Deduplicator struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (d *Deduplicator) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Claim atomically checks and reserves a fingerprint. The first caller
// becomes the owner; concurrent callers block until the owner resolves or
// abandons the claim, or until ctx is done.
func (d *Deduplicator) Claim(ctx context.Context, fp string) (Claim, error) {
	for {
		d.mu.Lock()
		e, ok := d.entries[fp]
		if !ok {
			d.entries[fp] = &entry{seenAt: d.now(), done: make(chan struct{})}
			d.mu.Unlock()
			return Claim{Owner: true}, nil
		}
		if e.settled() {
			d.mu.Unlock()
			return Claim{IncidentID: e.incidentID, BatchID: e.batchID}, nil
		}
		done := e.done
		d.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return Claim{}, ctx.Err()
		}
	}
}

// Resolve records the incident for an owned or parked fingerprint and wakes
// waiters. Resolving an unclaimed fingerprint registers it directly.
func (d *Deduplicator) Resolve(fp, incidentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[fp]
	if !ok {
		d.entries[fp] = &entry{incidentID: incidentID, seenAt: d.now(), done: closedChan()}
		return
	}
	if e.incidentID != "" {
		return
	}
	parked := e.batchID != ""
	e.incidentID = incidentID
	e.batchID = ""
	e.seenAt = d.now()
	if !parked {
		close(e.done)
	}
}

// Park settles an owned fingerprint on the open batch holding its alert.
// Later claims report the batch until Resolve repoints the fingerprint to
// the incident the batch becomes. Parked fingerprints are never swept.
func (d *Deduplicator) Park(fp, batchID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[fp]
	if !ok {
		d.entries[fp] = &entry{batchID: batchID, seenAt: d.now(), done: closedChan()}
		return
	}
	if e.incidentID != "" {
		return
	}
	parked := e.batchID != ""
	e.batchID = batchID
	e.seenAt = d.now()
	if !parked {
		close(e.done)
	}
}

// Abandon releases an owned claim or a parked fingerprint without
// registering an incident. Waiters retry and one of them becomes the new
// owner.
func (d *Deduplicator) Abandon(fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[fp]
	if !ok || e.incidentID != "" {
		return
	}
	delete(d.entries, fp)
	if e.batchID == "" {
		close(e.done)
	}
}

// Lookup returns the incident registered for a fingerprint.
func (d *Deduplicator) Lookup(fp string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[fp]
	if !ok || e.incidentID == "" {
		return "", false
	}
	return e.incidentID, true
}

// Len returns the number of resolved or parked fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.entries {
		if e.settled() {
			n++
		}
	}
	return n
}

// Sweep evicts resolved fingerprints registered before cutoff and returns
// how many were removed. Pending claims and parked fingerprints are never
// evicted.
func (d *Deduplicator) Sweep(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for fp, e := range d.entries {
		if e.incidentID != "" && e.seenAt.Before(cutoff) {
			delete(d.entries, fp)
			removed++
		}
	}
	return removed
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
