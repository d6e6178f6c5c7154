package job

import (
	"fmt"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusRunning    Status = "RUNNING"
	StatusFailing    Status = "FAILING"
	StatusRestarting Status = "RESTARTING"
	StatusFailed     Status = "FAILED"
	StatusCancelling Status = "CANCELLING"
	StatusCanceled   Status = "CANCELED"
	StatusFinished   Status = "FINISHED"
	StatusSuspended  Status = "SUSPENDED"
)

// transitions is the full lifecycle graph. FINISHED is reachable only from
// RUNNING and only for bounded pipelines; no shipped source is bounded, so it
// exists for completeness.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusRunning, StatusCanceled},
	StatusRunning:    {StatusFailing, StatusCancelling, StatusSuspended, StatusFinished},
	StatusFailing:    {StatusRestarting, StatusFailed, StatusCancelling},
	StatusRestarting: {StatusRunning, StatusFailed, StatusCancelling},
	StatusCancelling: {StatusCanceled},
	StatusSuspended:  {StatusRunning, StatusCancelling},
	// FAILED, CANCELED, FINISHED are terminal.
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Job is the manager's view of one submitted pipeline.
type Job struct {
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Definition  Definition `json:"definition"`
	Restarts    int        `json:"restarts"`
	SubmittedAt time.Time  `json:"submitted_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastError   string     `json:"last_error,omitempty"`
}

func (j *Job) transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", j.Name, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}
