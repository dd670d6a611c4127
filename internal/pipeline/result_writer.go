package pipeline

import "alertflow/internal/workflow"

// ResultWriter records per-alert processing outcomes.
type ResultWriter interface {
	WriteResults(outcomes []*workflow.Outcome) error
	Close() error
}
