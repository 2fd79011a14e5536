package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Job.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// OutcomeKind tells how a job ended.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is the value a job's completion future resolves with.
// Reason is only set for cancellations and may be blank.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Completed returns the outcome of a job that ran to the end.
func Completed() Outcome { return Outcome{Kind: OutcomeCompleted} }

// Cancelled returns the outcome of a job stopped with reason.
func Cancelled(reason string) Outcome { return Outcome{Kind: OutcomeCancelled, Reason: reason} }

// CancelError is the cancellation cause attached to a job's scope.
type CancelError struct {
	Reason string
}

func (e *CancelError) Error() string {
	if e.Reason == "" {
		return "job cancelled"
	}
	return e.Reason
}

// Job is one run of the background task. Mutable fields are owned by the
// Controller and only touched with its lock held.
type Job struct {
	generation uint64
	runID      string
	settings   Settings

	state     State
	progress  int
	reason    string
	startedAt time.Time

	ctx    context.Context         // cancellation scope, created by Start
	cancel context.CancelCauseFunc

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newJob(generation uint64, settings Settings) *Job {
	return &Job{
		generation: generation,
		runID:      uuid.New().String(),
		settings:   settings,
		state:      StateIdle,
		done:       make(chan struct{}),
	}
}

// Generation returns the job's generation id.
func (j *Job) Generation() uint64 { return j.generation }

// RunID returns a unique id for this run, used in logs and traces.
func (j *Job) RunID() string { return j.runID }

// Done is closed once the job has reached a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Outcome returns the resolved outcome. It is only meaningful after Done is closed.
func (j *Job) Outcome() Outcome {
	select {
	case <-j.done:
		return j.outcome
	default:
		return Outcome{}
	}
}

// resolve settles the completion future. Only the first call has an effect.
func (j *Job) resolve(o Outcome) bool {
	resolved := false
	j.once.Do(func() {
		j.outcome = o
		close(j.done)
		resolved = true
	})
	return resolved
}

// Snapshot is a point-in-time copy of the current job.
type Snapshot struct {
	Generation   uint64 `json:"generation"`
	RunID        string `json:"run_id"`
	State        State  `json:"state"`
	Progress     int    `json:"progress"`
	Max          int    `json:"max"`
	CancelReason string `json:"cancel_reason,omitempty"`
}

func (j *Job) snapshot() Snapshot {
	return Snapshot{
		Generation:   j.generation,
		RunID:        j.runID,
		State:        j.state,
		Progress:     j.progress,
		Max:          j.settings.Max,
		CancelReason: j.reason,
	}
}
