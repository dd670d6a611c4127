package factory

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrIncidentCounterExhausted is returned once a day's sequence passes 9999.
var ErrIncidentCounterExhausted = errors.New("incident counter exhausted for the day")

const maxDailyIncidents = 9999

// IncidentIDs allocates INC-YYYYMMDD-NNNN identifiers. The sequence is
// process-wide, strictly increasing within a UTC day and restarts at 0001 when
// the day advances. A clock that moves backwards keeps the latest day seen so
// identifiers never repeat.
type IncidentIDs struct {
	mu  sync.Mutex
	day string
	seq int
}

// Next allocates the identifier for an incident created at now.
func (g *IncidentIDs) Next(now time.Time) (string, error) {
	day := now.UTC().Format("20060102")

	g.mu.Lock()
	defer g.mu.Unlock()

	if day > g.day {
		g.day = day
		g.seq = 0
	}
	if g.seq >= maxDailyIncidents {
		return "", fmt.Errorf("%w: %s", ErrIncidentCounterExhausted, g.day)
	}
	g.seq++
	return fmt.Sprintf("INC-%s-%04d", g.day, g.seq), nil
}
