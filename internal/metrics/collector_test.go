package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := New("")
	c.AlertProcessed(OutcomeCreated, time.Millisecond)
	c.AlertProcessed(OutcomeCreated, time.Millisecond)
	c.AlertProcessed(OutcomeDuplicate, time.Millisecond)
	c.TaskCreated("HIGH")
	c.RuleMatched("failed_login_correlation")
	c.RuleError("broken")
	c.BatchFlushed("size")
	c.Evicted("dedup", 3)
	c.Evicted("dedup", 0)
	c.SetPendingBatched(7)
	c.AlertRejected("id")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.alertsProcessed.WithLabelValues(OutcomeCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsProcessed.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksCreated.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleErrors.WithLabelValues("broken")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.evictions.WithLabelValues("dedup")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.pendingBatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsRejected.WithLabelValues("id")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.AlertProcessed(OutcomeFailed, time.Second)
		c.TaskCreated("LOW")
		c.RuleMatched("x")
		c.RuleError("x")
		c.BatchFlushed("timeout")
		c.Evicted("correlation", 1)
		c.SetPendingBatched(1)
		c.AlertRejected("payload")
	})
	assert.Nil(t, c.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New("soc")
	c.AlertProcessed(OutcomeBatched, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `soc_alerts_processed_total{outcome="batched"} 1`))
}
