package tasks

import (
	"fmt"

	"alertflow/pkg/models"
)

var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.StatusCreated:        {models.StatusAssigned},
	models.StatusAssigned:       {models.StatusInProgress, models.StatusWaitingForInfo},
	models.StatusInProgress:     {models.StatusCompleted, models.StatusCancelled, models.StatusEscalated},
	models.StatusWaitingForInfo: {models.StatusCompleted, models.StatusCancelled, models.StatusEscalated},
	models.StatusEscalated:      {models.StatusAssigned},
	models.StatusCompleted:      nil,
	models.StatusCancelled:      nil,
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to models.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(s models.TaskStatus) bool {
	next, known := transitions[s]
	return known && len(next) == 0
}

// InvalidTransitionError rejects a status change. The task is unchanged.
type InvalidTransitionError struct {
	TaskID string
	From   models.TaskStatus
	To     models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}
