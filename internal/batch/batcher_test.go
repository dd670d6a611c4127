package batch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertflow/internal/rules"
	"alertflow/pkg/models"
)

func lowRule(size int, timeout time.Duration) *rules.WorkflowRule {
	return &rules.WorkflowRule{
		Name:         "low_severity_batch",
		Action:       rules.BatchAlerts,
		Priority:     models.PriorityLow,
		BatchSize:    size,
		BatchTimeout: timeout,
	}
}

func TestBatchID(t *testing.T) {
	at := time.Date(2026, 7, 4, 9, 59, 59, 0, time.FixedZone("X", 2*3600))
	assert.Equal(t, "low_severity_batch_2026070407", ID(lowRule(0, 0), at))
}

func TestFlushOnSize(t *testing.T) {
	now := time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)
	b := New()
	b.SetClock(func() time.Time { return now })
	rule := lowRule(3, time.Hour)

	var flush *Flush
	var id string
	for i := 0; i < 3; i++ {
		var dup bool
		id, dup, flush = b.Add(rule, &models.Alert{ID: fmt.Sprintf("a%d", i)}, fmt.Sprintf("fp%d", i))
		assert.False(t, dup)
		if i < 2 {
			assert.Nil(t, flush)
		}
	}
	require.NotNil(t, flush)
	assert.Equal(t, "low_severity_batch_2026070409", id)
	assert.Equal(t, ReasonSize, flush.Reason)
	assert.Len(t, flush.Alerts, 3)
	assert.Equal(t, []string{"fp0", "fp1", "fp2"}, flush.Fingerprints)
	assert.Zero(t, b.Pending())

	// The same hour starts a fresh accumulation under the same id.
	id2, _, flush := b.Add(rule, &models.Alert{ID: "a3"}, "fp0")
	assert.Nil(t, flush)
	assert.Equal(t, id, id2)
	assert.Equal(t, 1, b.Pending())
}

func TestFlushOnTimeout(t *testing.T) {
	now := time.Date(2026, 7, 4, 9, 10, 0, 0, time.UTC)
	b := New()
	b.SetClock(func() time.Time { return now })
	rule := lowRule(100, 30*time.Minute)

	b.Add(rule, &models.Alert{ID: "a1"}, "fp1")
	b.Add(rule, &models.Alert{ID: "a2"}, "fp2")

	assert.Empty(t, b.FlushExpired(now.Add(29*time.Minute)))
	flushes := b.FlushExpired(now.Add(30 * time.Minute))
	require.Len(t, flushes, 1)
	assert.Equal(t, ReasonTimeout, flushes[0].Reason)
	assert.Equal(t, "a1", flushes[0].Alerts[0].ID)
	assert.Zero(t, b.Pending())
}

func TestDefaultsAndDrain(t *testing.T) {
	now := time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)
	b := New()
	b.SetClock(func() time.Time { return now })
	rule := lowRule(0, 0)

	for i := 0; i < rules.DefaultBatchSize-1; i++ {
		_, _, flush := b.Add(rule, &models.Alert{ID: fmt.Sprintf("a%d", i)}, fmt.Sprintf("fp%d", i))
		assert.Nil(t, flush)
	}
	assert.Empty(t, b.FlushExpired(now.Add(59*time.Minute)))

	now = now.Add(time.Hour)
	b.Add(rule, &models.Alert{ID: "next-hour"}, "fp-next")

	drained := b.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "low_severity_batch_2026070409", drained[0].BatchID)
	assert.Equal(t, "low_severity_batch_2026070410", drained[1].BatchID)
	assert.Equal(t, ReasonDrain, drained[1].Reason)
	assert.Zero(t, b.Pending())
}

func TestDuplicateFingerprintInOpenBatch(t *testing.T) {
	b := New()
	rule := lowRule(5, time.Hour)

	_, dup, _ := b.Add(rule, &models.Alert{ID: "a1"}, "same")
	assert.False(t, dup)
	_, dup, flush := b.Add(rule, &models.Alert{ID: "a1"}, "same")
	assert.True(t, dup)
	assert.Nil(t, flush)
	assert.Equal(t, 1, b.Pending())
}

func TestRequeuedBatchIsReturnedByNextFlush(t *testing.T) {
	now := time.Date(2026, 7, 4, 9, 10, 0, 0, time.UTC)
	b := New()
	b.SetClock(func() time.Time { return now })
	rule := lowRule(100, 30*time.Minute)

	b.Add(rule, &models.Alert{ID: "a1"}, "fp1")
	b.Add(rule, &models.Alert{ID: "a2"}, "fp2")
	flushes := b.FlushExpired(now.Add(30 * time.Minute))
	require.Len(t, flushes, 1)
	assert.Zero(t, b.Pending())

	b.Requeue(flushes[0])
	assert.Equal(t, 2, b.Pending())

	// A new batch opened after the failure does not hold back the retry.
	now = now.Add(35 * time.Minute)
	b.Add(rule, &models.Alert{ID: "a3"}, "fp3")
	assert.Equal(t, 3, b.Pending())

	retried := b.FlushExpired(now)
	require.Len(t, retried, 1)
	assert.Equal(t, []string{"fp1", "fp2"}, retried[0].Fingerprints)
	assert.Equal(t, ReasonTimeout, retried[0].Reason)
	assert.Equal(t, 1, b.Pending())

	b.Requeue(retried[0])
	drained := b.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a1", drained[0].Alerts[0].ID)
	assert.Equal(t, "a3", drained[1].Alerts[0].ID)
	assert.Zero(t, b.Pending())
}
