// Package workflow turns alerts into incidents and assigned tasks. Engine is
// the single entry point: it deduplicates, routes through the rule set,
// correlates or batches, builds and assigns tasks, and commits them to the
// lifecycle store.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"alertflow/internal/assignment"
	"alertflow/internal/batch"
	"alertflow/internal/correlation"
	"alertflow/internal/dedup"
	"alertflow/internal/factory"
	"alertflow/internal/logger"
	"alertflow/internal/metrics"
	"alertflow/internal/persistence"
	"alertflow/internal/rules"
	"alertflow/internal/tasks"
	"alertflow/pkg/models"
)

const (
	// DefaultRetentionFactor multiplies the longest correlation window to
	// get the dedup/correlation retention.
	DefaultRetentionFactor = 4
	// MinRetention is the floor of the retention period.
	MinRetention = time.Hour

	engineActor = "workflow_engine"
)

// Result describes what happened to one alert. Expected conditions
// (duplicate, merged, batched) are reported here, never as errors.
type Result struct {
	TaskCreated        bool            `json:"taskCreated"`
	TaskID             string          `json:"taskId,omitempty"`
	IncidentID         string          `json:"incidentId,omitempty"`
	Assignee           string          `json:"assignee,omitempty"`
	Priority           models.Priority `json:"priority,omitempty"`
	Escalated          bool            `json:"escalated"`
	DuplicateDetected  bool            `json:"duplicateDetected"`
	MergedWithIncident string          `json:"mergedWithIncident,omitempty"`
	Batched            bool            `json:"batched"`
	BatchID            string          `json:"batchId,omitempty"`
	Rule               string          `json:"rule,omitempty"`
	Error              string          `json:"error,omitempty"`
}

// Stats is a snapshot of engine counters.
type Stats struct {
	AlertsProcessed int64            `json:"alertsProcessed"`
	TasksCreated    int64            `json:"tasksCreated"`
	Duplicates      int64            `json:"duplicates"`
	Correlated      int64            `json:"correlated"`
	Batched         int64            `json:"batched"`
	Failures        int64            `json:"failures"`
	SuccessRate     float64          `json:"successRate"`
	PendingBatched  int              `json:"pendingBatched"`
	Fingerprints    int              `json:"fingerprints"`
	CorrelationKeys int              `json:"correlationKeys"`
	Tasks           tasks.Statistics `json:"tasks"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithPersister mirrors every new task and incident before it is committed.
func WithPersister(p persistence.Persister) Option {
	return func(e *Engine) {
		if p != nil {
			e.persister = p
		}
	}
}

// WithMetrics records engine metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithRetentionFactor overrides DefaultRetentionFactor.
func WithRetentionFactor(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retentionFactor = n
		}
	}
}

// WithClock sets the time source of the engine and all its components.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore uses an existing lifecycle store.
func WithStore(s *tasks.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// Engine processes alerts. It is safe for concurrent use.
type Engine struct {
	rules       *rules.RuleSet
	dedup       *dedup.Deduplicator
	correlation *correlation.Cache
	factory     *factory.Factory
	resolver    *assignment.Resolver
	store       *tasks.Store
	batcher     *batch.Batcher
	persister   persistence.Persister
	metrics     *metrics.Collector

	retentionFactor int
	now             func() time.Time

	processed  atomic.Int64
	created    atomic.Int64
	duplicates atomic.Int64
	correlated atomic.Int64
	batched    atomic.Int64
	failures   atomic.Int64
}

// New builds an engine around a rule set. A nil rule set uses the built-in
// defaults.
func New(ruleSet *rules.RuleSet, opts ...Option) *Engine {
	if ruleSet == nil {
		ruleSet = rules.DefaultRuleSet()
	}
	e := &Engine{
		rules:           ruleSet,
		dedup:           dedup.New(),
		correlation:     correlation.NewCache(),
		factory:         factory.New(),
		resolver:        assignment.NewResolver(),
		store:           tasks.NewStore(),
		batcher:         batch.New(),
		persister:       persistence.Nop{},
		retentionFactor: DefaultRetentionFactor,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.dedup.SetClock(e.now)
	e.correlation.SetClock(e.now)
	e.factory.SetClock(e.now)
	e.store.SetClock(e.now)
	e.batcher.SetClock(e.now)

	e.rules.OnEvaluationError(func(err *rules.RuleEvaluationError) {
		logger.Warnf("Rule evaluation failed, skipping: %v", err)
		e.metrics.RuleError(err.Rule)
	})
	return e
}

// Store returns the lifecycle store backing the engine.
func (e *Engine) Store() *tasks.Store {
	return e.store
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() *rules.RuleSet {
	return e.rules
}

// Process handles one alert. The returned error is non-nil only when ctx
// ends before the alert is handled or the incident counter is exhausted;
// every other failure is reported in Result.Error.
func (e *Engine) Process(ctx context.Context, alert *models.Alert) (Result, error) {
	if alert == nil {
		return Result{}, fmt.Errorf("process: nil alert")
	}
	start := time.Now()
	e.processed.Add(1)

	res, err := e.process(ctx, alert)
	outcome := metrics.OutcomeFailed
	switch {
	case err != nil || res.Error != "":
		e.failures.Add(1)
	case res.DuplicateDetected:
		e.duplicates.Add(1)
		outcome = metrics.OutcomeDuplicate
	case res.Batched:
		e.batched.Add(1)
		outcome = metrics.OutcomeBatched
	case res.MergedWithIncident != "":
		e.correlated.Add(1)
		outcome = metrics.OutcomeCorrelated
	case res.TaskCreated:
		outcome = metrics.OutcomeCreated
	}
	e.metrics.AlertProcessed(outcome, time.Since(start))
	return res, err
}

func (e *Engine) process(ctx context.Context, alert *models.Alert) (Result, error) {
	fp := dedup.Fingerprint(alert)
	claim, err := e.dedup.Claim(ctx, fp)
	if err != nil {
		return Result{}, err
	}
	if !claim.Owner {
		if claim.IncidentID == "" {
			logger.Debugf("Alert %s is a duplicate held in batch %s", alert.ID, claim.BatchID)
			return Result{
				DuplicateDetected: true,
				Batched:           true,
				BatchID:           claim.BatchID,
			}, nil
		}
		logger.Debugf("Alert %s is a duplicate of incident %s", alert.ID, claim.IncidentID)
		return Result{
			DuplicateDetected:  true,
			IncidentID:         claim.IncidentID,
			MergedWithIncident: claim.IncidentID,
		}, nil
	}

	rule := e.rules.Resolve(alert)
	e.metrics.RuleMatched(rule.Name)

	var res Result
	switch rule.Action {
	case rules.CorrelateOrCreate:
		res, err = e.correlate(ctx, alert, rule)
	case rules.BatchAlerts:
		res = e.addToBatch(ctx, alert, rule, fp)
	default:
		res, err = e.createTask(ctx, alert, rule, "")
	}
	res.Rule = rule.Name

	switch {
	case err != nil || res.Error != "":
		e.dedup.Abandon(fp)
		return res, err
	case res.IncidentID != "":
		e.dedup.Resolve(fp, res.IncidentID)
	case res.Batched:
		// Parked by addToBatch until the batch flushes.
	default:
		e.dedup.Abandon(fp)
	}
	return res, nil
}

func (e *Engine) correlate(ctx context.Context, alert *models.Alert, rule *rules.WorkflowRule) (Result, error) {
	key := correlation.Key(rule, alert)
	var created Result
	create := func(ctx context.Context) (*models.Incident, error) {
		res, incident, err := e.build(ctx, alert, rule, key)
		created = res
		if err != nil {
			return nil, err
		}
		if res.Error != "" {
			return nil, errCommitFailed
		}
		return incident, nil
	}

	out, err := e.correlation.CorrelateOrCreate(ctx, alert, rule, e.store, create)
	if errors.Is(err, errCommitFailed) {
		return created, nil
	}
	if err != nil {
		return Result{}, err
	}
	if !out.Merged {
		return created, nil
	}

	if err := e.persister.SaveIncident(ctx, out.Incident); err != nil {
		logger.Warnf("Persist correlated incident %s: %v", out.Incident.ID, err)
	}
	logger.Debugf("Alert %s correlated into incident %s (%d alerts)", alert.ID, out.Incident.ID, len(out.Incident.AlertIDs))
	return Result{
		IncidentID:         out.Incident.ID,
		MergedWithIncident: out.Incident.ID,
		Priority:           rule.Priority,
	}, nil
}

var errCommitFailed = errors.New("commit failed")

func (e *Engine) createTask(ctx context.Context, alert *models.Alert, rule *rules.WorkflowRule, key string) (Result, error) {
	res, _, err := e.build(ctx, alert, rule, key)
	return res, err
}

// build creates, persists, commits and assigns the incident and task for a
// single alert.
func (e *Engine) build(ctx context.Context, alert *models.Alert, rule *rules.WorkflowRule, key string) (Result, *models.Incident, error) {
	incident, task, err := e.factory.Build(alert, rule, key)
	if err != nil {
		return Result{}, nil, err
	}
	assignee := e.resolver.Resolve(assignment.Request{
		TaskType:     task.TaskType,
		Priority:     task.Priority,
		IncidentType: incident.IncidentType,
		RuleAssignee: rule.Assignee,
	})

	res := Result{
		Priority:  task.Priority,
		Escalated: rule.Action == rules.EscalateImmediately,
	}
	if err := e.commit(ctx, incident, task, assignee); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, nil, ctxErr
		}
		logger.Errorf("Create task for alert %s failed: %v", alert.ID, err)
		res.Error = err.Error()
		return res, nil, nil
	}

	res.TaskCreated = true
	res.TaskID = task.ID
	res.IncidentID = incident.ID
	res.Assignee = assignee
	if res.Escalated {
		logger.Warnf("Alert %s escalated: task %s assigned to %s", alert.ID, task.ID, assignee)
	} else {
		logger.Infof("Alert %s -> task %s (%s, %s)", alert.ID, task.ID, task.Priority, assignee)
	}
	return res, incident, nil
}

// commit persists first, then records the pair in the store. Nothing is
// stored if persistence fails or ctx ends first.
func (e *Engine) commit(ctx context.Context, incident *models.Incident, task *models.Task, assignee string) error {
	if err := e.persister.SaveIncident(ctx, incident); err != nil {
		return err
	}
	if err := e.persister.SaveTask(ctx, task); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := e.store.Create(ctx, task, incident); err != nil {
		return err
	}
	e.created.Add(1)
	e.metrics.TaskCreated(task.Priority.String())

	if err := e.store.Assign(ctx, task.ID, e.resolver.Describe(assignee), engineActor); err != nil {
		// The task exists; a failed assignment leaves it in Created.
		logger.Warnf("Assign task %s to %s: %v", task.ID, assignee, err)
	}
	return nil
}

func (e *Engine) addToBatch(ctx context.Context, alert *models.Alert, rule *rules.WorkflowRule, fp string) Result {
	id, dup, flush := e.batcher.Add(rule, alert, fp)
	e.dedup.Park(fp, id)
	if flush != nil {
		e.flush(ctx, flush)
	}
	e.metrics.SetPendingBatched(e.batcher.Pending())
	return Result{
		Batched:           true,
		BatchID:           id,
		DuplicateDetected: dup,
		Priority:          rule.Priority,
	}
}

// FlushBatches turns batches older than their timeout into tasks and
// returns how many tasks were created.
func (e *Engine) FlushBatches(ctx context.Context, now time.Time) int {
	n := 0
	for _, f := range e.batcher.FlushExpired(now) {
		if e.flush(ctx, f) {
			n++
		}
	}
	e.metrics.SetPendingBatched(e.batcher.Pending())
	return n
}

// Drain flushes every open batch regardless of age. Batches whose task
// cannot be committed stay pending.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for _, f := range e.batcher.Drain() {
		if e.flush(ctx, f) {
			n++
		}
	}
	pending := e.batcher.Pending()
	if pending > 0 {
		logger.Errorf("%d batched alerts still pending after drain", pending)
	}
	e.metrics.SetPendingBatched(pending)
	return n
}

// flush turns a closed batch into a task. A batch whose commit fails is
// requeued and its fingerprints stay parked.
func (e *Engine) flush(ctx context.Context, f *batch.Flush) bool {
	incident, task, err := e.factory.BuildBatchTask(f.Rule, f.BatchID, f.Alerts)
	if err != nil {
		e.failures.Add(1)
		logger.Errorf("Build task for batch %s: %v", f.BatchID, err)
		for _, fp := range f.Fingerprints {
			e.dedup.Abandon(fp)
		}
		return false
	}
	assignee := e.resolver.Resolve(assignment.Request{
		TaskType:     task.TaskType,
		Priority:     task.Priority,
		IncidentType: incident.IncidentType,
		RuleAssignee: f.Rule.Assignee,
	})
	if err := e.commit(ctx, incident, task, assignee); err != nil {
		e.failures.Add(1)
		logger.Errorf("Flush batch %s (%d alerts: %v), requeued: %v", f.BatchID, len(f.Alerts), incident.AlertIDs, err)
		e.batcher.Requeue(f)
		return false
	}
	for _, fp := range f.Fingerprints {
		e.dedup.Resolve(fp, incident.ID)
	}
	e.metrics.BatchFlushed(f.Reason)
	logger.Infof("Batch %s flushed (%s): %d alerts -> task %s", f.BatchID, f.Reason, len(f.Alerts), task.ID)
	return true
}

// Retention returns how long dedup and correlation entries are kept.
func (e *Engine) Retention() time.Duration {
	retention := time.Duration(e.retentionFactor) * e.rules.LongestCorrelationWindow()
	if retention < MinRetention {
		retention = MinRetention
	}
	return retention
}

// Sweep evicts dedup and correlation entries older than the retention
// period at now.
func (e *Engine) Sweep(now time.Time) (fingerprints, correlations int) {
	cutoff := now.Add(-e.Retention())
	fingerprints = e.dedup.Sweep(cutoff)
	correlations = e.correlation.Sweep(cutoff)
	e.metrics.Evicted("dedup", fingerprints)
	e.metrics.Evicted("correlation", correlations)
	if fingerprints > 0 || correlations > 0 {
		logger.Debugf("Sweep evicted %d fingerprints and %d correlation entries", fingerprints, correlations)
	}
	return fingerprints, correlations
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	st := Stats{
		AlertsProcessed: e.processed.Load(),
		TasksCreated:    e.created.Load(),
		Duplicates:      e.duplicates.Load(),
		Correlated:      e.correlated.Load(),
		Batched:         e.batched.Load(),
		Failures:        e.failures.Load(),
		PendingBatched:  e.batcher.Pending(),
		Fingerprints:    e.dedup.Len(),
		CorrelationKeys: e.correlation.Len(),
		Tasks:           e.store.Statistics(),
	}
	if st.AlertsProcessed > 0 {
		st.SuccessRate = float64(st.TasksCreated) / float64(st.AlertsProcessed)
	}
	return st
}

// Outcome pairs an alert id with its processing result.
type Outcome struct {
	AlertID     string    `json:"alert_id"`
	Result      Result    `json:"result"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}
