package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertflow/internal/rules"
	"alertflow/pkg/models"
)

type fakeStore struct {
	mu        sync.Mutex
	incidents map[string]*models.Incident
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{incidents: make(map[string]*models.Incident)}
}

func (s *fakeStore) AppendAlert(incidentID, alertID string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return nil, errors.New("not found")
	}
	if inc.Status != models.IncidentOpen {
		return nil, fmt.Errorf("incident is %s", inc.Status)
	}
	inc.AlertIDs = append(inc.AlertIDs, alertID)
	return inc.Clone(), nil
}

func (s *fakeStore) creator(alertID string, at time.Time) CreateFunc {
	return func(context.Context) (*models.Incident, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.seq++
		inc := &models.Incident{
			ID:        fmt.Sprintf("INC-%d", s.seq),
			AlertIDs:  []string{alertID},
			CreatedAt: at,
			Status:    models.IncidentOpen,
		}
		s.incidents[inc.ID] = inc
		return inc.Clone(), nil
	}
}

func failedLoginRule() *rules.WorkflowRule {
	return &rules.WorkflowRule{
		Name:              "failed_login_correlation",
		Action:            rules.CorrelateOrCreate,
		CorrelationWindow: 5 * time.Minute,
		CorrelationKey:    models.AttrSourceIP,
	}
}

func loginAlert(id, ip string) *models.Alert {
	return &models.Alert{
		ID:          id,
		PatternType: "failed_login",
		Attributes:  map[string]string{models.AttrSourceIP: ip},
	}
}

func TestCorrelatesWithinWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache()
	cache.SetClock(func() time.Time { return now })
	store := newFakeStore()
	rule := failedLoginRule()
	ctx := context.Background()

	first, err := cache.CorrelateOrCreate(ctx, loginAlert("a1", "10.0.0.5"), rule, store, store.creator("a1", now))
	require.NoError(t, err)
	assert.False(t, first.Merged)

	now = now.Add(2 * time.Minute)
	second, err := cache.CorrelateOrCreate(ctx, loginAlert("a2", "10.0.0.5"), rule, store, store.creator("a2", now))
	require.NoError(t, err)
	assert.True(t, second.Merged)
	assert.Equal(t, first.Incident.ID, second.Incident.ID)
	assert.Equal(t, []string{"a1", "a2"}, second.Incident.AlertIDs)

	other, err := cache.CorrelateOrCreate(ctx, loginAlert("a3", "10.0.0.9"), rule, store, store.creator("a3", now))
	require.NoError(t, err)
	assert.False(t, other.Merged, "different key")
	assert.NotEqual(t, first.Incident.ID, other.Incident.ID)
}

func TestWindowExpiryStartsNewIncident(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache()
	cache.SetClock(func() time.Time { return now })
	store := newFakeStore()
	rule := failedLoginRule()
	ctx := context.Background()

	first, err := cache.CorrelateOrCreate(ctx, loginAlert("a1", "10.0.0.5"), rule, store, store.creator("a1", now))
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	second, err := cache.CorrelateOrCreate(ctx, loginAlert("a2", "10.0.0.5"), rule, store, store.creator("a2", now))
	require.NoError(t, err)
	assert.False(t, second.Merged)
	assert.NotEqual(t, first.Incident.ID, second.Incident.ID)

	key := Key(rule, loginAlert("x", "10.0.0.5"))
	assert.Equal(t, []string{first.Incident.ID, second.Incident.ID}, cache.Incidents(key))
}

func TestClosedIncidentIsSkipped(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache()
	cache.SetClock(func() time.Time { return now })
	store := newFakeStore()
	rule := failedLoginRule()
	ctx := context.Background()

	first, err := cache.CorrelateOrCreate(ctx, loginAlert("a1", "10.0.0.5"), rule, store, store.creator("a1", now))
	require.NoError(t, err)
	store.incidents[first.Incident.ID].Status = models.IncidentClosed

	second, err := cache.CorrelateOrCreate(ctx, loginAlert("a2", "10.0.0.5"), rule, store, store.creator("a2", now))
	require.NoError(t, err)
	assert.False(t, second.Merged)
	assert.Equal(t, []string{second.Incident.ID}, cache.Incidents(Key(rule, loginAlert("x", "10.0.0.5"))))
}

func TestCreateFailureLeavesNoReference(t *testing.T) {
	cache := NewCache()
	store := newFakeStore()
	rule := failedLoginRule()
	boom := errors.New("persist failed")

	_, err := cache.CorrelateOrCreate(context.Background(), loginAlert("a1", "10.0.0.5"), rule, store,
		func(context.Context) (*models.Incident, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, cache.Incidents(Key(rule, loginAlert("x", "10.0.0.5"))))
}

func TestConcurrentAlertsShareOneIncident(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache()
	cache.SetClock(func() time.Time { return now })
	store := newFakeStore()
	rule := failedLoginRule()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("a%d", i)
			out, err := cache.CorrelateOrCreate(context.Background(), loginAlert(id, "10.0.0.5"), rule, store, store.creator(id, now))
			assert.NoError(t, err)
			if !out.Merged {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	require.Len(t, store.incidents, 1)
	for _, inc := range store.incidents {
		assert.Len(t, inc.AlertIDs, 32)
	}
}

func bucketUsers(c *Cache, key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buckets[key]; ok {
		return b.users
	}
	return 0
}

func TestQueuedCallerFiltersAtDecisionTime(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	cache := NewCache()
	cache.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	store := newFakeStore()
	rule := failedLoginRule()
	ctx := context.Background()
	key := Key(rule, loginAlert("x", "10.0.0.5"))

	release := make(chan struct{})
	firstDone := make(chan Outcome, 1)
	go func() {
		out, err := cache.CorrelateOrCreate(ctx, loginAlert("a1", "10.0.0.5"), rule, store, func(ctx context.Context) (*models.Incident, error) {
			<-release
			return store.creator("a1", base)(ctx)
		})
		assert.NoError(t, err)
		firstDone <- out
	}()
	require.Eventually(t, func() bool { return bucketUsers(cache, key) == 1 }, time.Second, time.Millisecond)

	secondDone := make(chan Outcome, 1)
	go func() {
		out, err := cache.CorrelateOrCreate(ctx, loginAlert("a2", "10.0.0.5"), rule, store, store.creator("a2", base.Add(6*time.Minute)))
		assert.NoError(t, err)
		secondDone <- out
	}()
	require.Eventually(t, func() bool { return bucketUsers(cache, key) == 2 }, time.Second, time.Millisecond)

	// The window closes while the second caller waits for the bucket.
	mu.Lock()
	now = base.Add(6 * time.Minute)
	mu.Unlock()
	close(release)

	assert.False(t, (<-firstDone).Merged)
	assert.False(t, (<-secondDone).Merged, "expired incident must not absorb the queued alert")
	assert.Len(t, store.incidents, 2)
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache()
	cache.SetClock(func() time.Time { return now })
	store := newFakeStore()
	rule := failedLoginRule()
	ctx := context.Background()

	_, err := cache.CorrelateOrCreate(ctx, loginAlert("a1", "10.0.0.5"), rule, store, store.creator("a1", now))
	require.NoError(t, err)
	_, err = cache.CorrelateOrCreate(ctx, loginAlert("a2", "10.0.0.6"), rule, store, store.creator("a2", now.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	assert.Equal(t, 1, cache.Sweep(now.Add(30*time.Minute)))
	assert.Equal(t, 1, cache.Len())
	assert.Empty(t, cache.Incidents(Key(rule, loginAlert("x", "10.0.0.5"))))
}

func TestMissingAttributeKey(t *testing.T) {
	rule := failedLoginRule()
	assert.Equal(t, "failed_login_correlation|", Key(rule, &models.Alert{ID: "x"}))
	assert.Equal(t, "failed_login_correlation|1.2.3.4", Key(rule, loginAlert("y", "1.2.3.4")))
}
