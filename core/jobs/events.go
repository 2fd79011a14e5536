package jobs

import "time"

// Topic is the event bus topic job lifecycle events are published on.
const Topic = "jobs"

// Job event types
const (
	JobInitializedEventType = "job.initialized"
	JobStartedEventType     = "job.started"
	JobProgressedEventType  = "job.progressed"
	JobCompletedEventType   = "job.completed"
	JobCancelledEventType   = "job.cancelled"
)

// JobEvent is the base struct for job-related events.
type JobEvent struct {
	Generation uint64
	RunID      string
}

// JobInitializedEvent is published when Init makes a new job current.
type JobInitializedEvent struct {
	JobEvent
}

func (e JobInitializedEvent) EventType() string { return JobInitializedEventType }

// JobStartedEvent is published when the current job starts running.
type JobStartedEvent struct {
	JobEvent
}

func (e JobStartedEvent) EventType() string { return JobStartedEventType }

// JobProgressedEvent is published for every progress value delivered to the sink.
type JobProgressedEvent struct {
	JobEvent
	Progress int
	Max      int
}

func (e JobProgressedEvent) EventType() string { return JobProgressedEventType }

// JobFinishedEvent is published once per job when it reaches a terminal state.
type JobFinishedEvent struct {
	JobEvent
	Outcome Outcome
	Message string
	Elapsed time.Duration
}

func (e JobFinishedEvent) EventType() string {
	if e.Outcome.Kind == OutcomeCancelled {
		return JobCancelledEventType
	}
	return JobCompletedEventType
}
