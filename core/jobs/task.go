package jobs

import (
	"context"
	"fmt"
	"time"
)

// Task is a unit of work run by the Controller in its own goroutine.
// Run reports progress through report and returns nil when the work is done,
// or the context's cause when it stopped because ctx was cancelled.
// A Task must not touch controller state; report is its only channel back.
type Task interface {
	Run(ctx context.Context, report func(progress int)) error
}

// TaskFactory builds the task for a new job from the job's settings.
type TaskFactory func(Settings) Task

// ProgressTask advances progress from 0 to Max over Duration, one step every
// Duration/Max. Cancellation is observed while waiting for each step, so it
// takes effect within one step.
type ProgressTask struct {
	Max      int
	Duration time.Duration
}

// NewProgressTask returns a task that reaches max after roughly duration.
func NewProgressTask(max int, duration time.Duration) *ProgressTask {
	return &ProgressTask{Max: max, Duration: duration}
}

// Step is the wait before each progress report.
func (t *ProgressTask) Step() time.Duration {
	if t.Max <= 0 {
		return 0
	}
	return t.Duration / time.Duration(t.Max)
}

// Run reports 0, 1, ..., Max, waiting one step before each report.
func (t *ProgressTask) Run(ctx context.Context, report func(progress int)) error {
	if t.Max <= 0 || t.Step() <= 0 {
		return fmt.Errorf("progress task needs a positive max and step, got max=%d duration=%s", t.Max, t.Duration)
	}
	step := t.Step()
	timer := time.NewTimer(step)
	defer timer.Stop()

	for i := 0; i <= t.Max; i++ {
		if i > 0 {
			timer.Reset(step)
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		report(i)
	}
	return nil
}

// defaultTaskFactory runs a ProgressTask sized by the job's settings.
func defaultTaskFactory(s Settings) Task {
	return NewProgressTask(s.Max, s.Duration)
}

// safelyRun runs the task and recovers from panics, returning an error instead.
func safelyRun(ctx context.Context, task Task, report func(int)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task: %v", r)
		}
	}()
	return task.Run(ctx, report)
}
