// Package jobs implements the single-job controller: one cancellable,
// incrementally progressing job at a time, restartable after it ends.
//
// The Controller keeps exactly one current Job, identified by a generation
// number that grows on every Init. Job goroutines only hold on to the Job they
// were started with; every callback from them is checked against the current
// generation under the controller lock before anything reaches the Sink, and
// all Sink calls are posted to a single presentation context so observers see
// them in order.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "jobctl/core/errors"
	"jobctl/core/events"
	"jobctl/core/logger"
	"jobctl/core/metrics"
)

// Defaults for Settings.
const (
	DefaultMax             = 100
	DefaultDuration        = 4000 * time.Millisecond
	DefaultStartLabel      = "Start Job #1"
	DefaultCancelLabel     = "Cancel job #1"
	DefaultCompleteMessage = "Job is complete"
	DefaultResetReason     = "Resetting job"
	DefaultFallbackReason  = "Unknown cancellation error."

	shutdownReason   = "Shutting down"
	supersededReason = "superseded"
)

// Settings configures the jobs a Controller creates.
type Settings struct {
	Max             int
	Duration        time.Duration
	StartLabel      string
	CancelLabel     string
	CompleteMessage string
	ResetReason     string
	FallbackReason  string
}

// DefaultSettings returns the stock settings: 100 steps over four seconds.
func DefaultSettings() Settings {
	return Settings{
		Max:             DefaultMax,
		Duration:        DefaultDuration,
		StartLabel:      DefaultStartLabel,
		CancelLabel:     DefaultCancelLabel,
		CompleteMessage: DefaultCompleteMessage,
		ResetReason:     DefaultResetReason,
		FallbackReason:  DefaultFallbackReason,
	}
}

// CancellationMessage returns reason, or fallback when reason is blank.
func CancellationMessage(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}

// Option customises a Controller.
type Option func(*Controller)

// WithTaskFactory replaces the ProgressTask used for new jobs.
func WithTaskFactory(f TaskFactory) Option {
	return func(c *Controller) {
		if f != nil {
			c.newTask = f
		}
	}
}

// WithEventBus publishes job lifecycle events on bus under Topic.
func WithEventBus(bus events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// Controller owns the current job. All of its methods are safe for concurrent use.
type Controller struct {
	mu         sync.Mutex
	settings   Settings
	pending    *Settings // applied by the next Init
	current    *Job
	generation uint64
	closed     bool

	sink    Sink
	ui      Poster
	bus     events.Bus
	newTask TaskFactory

	wg     sync.WaitGroup // job goroutines
	ctx    context.Context
	tracer trace.Tracer
}

// NewController returns a Controller delivering notifications to sink through ui.
// No job exists until Init or Toggle is called.
func NewController(settings Settings, sink Sink, ui Poster, opts ...Option) *Controller {
	c := &Controller{
		settings: settings,
		sink:     sink,
		ui:       ui,
		newTask:  defaultTaskFactory,
		ctx:      logger.WithComponentName(context.Background(), "controller"),
		tracer:   otel.Tracer("jobctl-controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Toggle is the single user-driven entry point. It creates the first job if
// needed, resets a job that has made progress, and otherwise starts the
// current one. The decision looks at progress only, so a completed job is
// reset exactly like a running one.
func (c *Controller) Toggle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.current == nil {
		c.initLocked()
	}
	if c.current.progress > 0 {
		logger.Debug(c.ctx, "Job already has progress, resetting", zap.Uint64("generation", c.current.generation))
		c.cancelLocked(c.current.settings.ResetReason)
		c.initLocked()
		return
	}
	c.startLocked()
}

// Init makes a fresh idle job current, superseding any previous one.
func (c *Controller) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.initLocked()
}

// Start runs the current job. It is a no-op unless the current job is idle.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.current == nil {
		c.initLocked()
	}
	c.startLocked()
}

// Cancel stops the current job with reason. Cancelling a job that already
// ended signals its scope again but has no visible effect; cancelling an idle
// job does nothing.
func (c *Controller) Cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.cancelLocked(reason)
}

// Reconfigure replaces the settings used from the next Init on. The current
// job keeps the settings it was created with.
func (c *Controller) Reconfigure(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &s
	logger.Info(c.ctx, "Job settings updated, applying on next reset",
		zap.Int("max", s.Max), zap.Duration("duration", s.Duration))
}

// Current returns a snapshot of the current job. ok is false before the first Init.
func (c *Controller) Current() (snap Snapshot, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Snapshot{}, false
	}
	return c.current.snapshot(), true
}

// Wait blocks until the job of the given generation ends and returns its outcome.
// Only the current job can be waited on.
func (c *Controller) Wait(ctx context.Context, generation uint64) (Outcome, error) {
	c.mu.Lock()
	job := c.current
	c.mu.Unlock()
	if job == nil || job.generation != generation {
		return Outcome{}, fmt.Errorf("job generation %d: %w", generation, apperrors.ErrNotFound)
	}
	select {
	case <-job.Done():
		return job.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close cancels a running job, refuses further work and waits for job
// goroutines to exit or ctx to end.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		if c.current != nil {
			c.cancelLocked(shutdownReason)
		}
	}
	c.mu.Unlock()

	exited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) initLocked() {
	_, span := c.tracer.Start(c.ctx, "Controller.Init")
	defer span.End()

	if c.pending != nil {
		c.settings = *c.pending
		c.pending = nil
	}

	if prev := c.current; prev != nil && prev.cancel != nil {
		// The superseded job's goroutine is stopped; anything it still reports is stale.
		prev.cancel(&CancelError{Reason: supersededReason})
		if prev.state == StateRunning {
			prev.state = StateCancelled
			prev.reason = supersededReason
			prev.resolve(Cancelled(supersededReason))
		}
	}

	c.generation++
	job := newJob(c.generation, c.settings)
	c.current = job
	span.SetAttributes(attribute.Int64("job.generation", int64(job.generation)))

	sink, label := c.sink, job.settings.StartLabel
	c.post(func() {
		sink.SetButtonLabel(label)
		sink.SetStatusText("")
		sink.SetProgress(0)
	})
	metrics.Progress.Set(0)
	c.publish(JobInitializedEvent{JobEvent: c.eventBase(job)})
	logger.Debug(c.ctx, "Job initialized", zap.Uint64("generation", job.generation), zap.String("run_id", job.runID))
}

func (c *Controller) startLocked() {
	job := c.current
	if job.state != StateIdle {
		logger.Debug(c.ctx, "Start ignored, job is not idle",
			zap.Uint64("generation", job.generation), zap.String("state", string(job.state)))
		return
	}

	_, span := c.tracer.Start(c.ctx, "Controller.Start", trace.WithAttributes(
		attribute.Int64("job.generation", int64(job.generation)),
		attribute.String("job.run_id", job.runID),
	))
	defer span.End()

	job.state = StateRunning
	job.startedAt = time.Now()
	job.ctx, job.cancel = context.WithCancelCause(context.Background())
	task := c.newTask(job.settings)

	c.wg.Add(1)
	go c.run(job, task)

	sink, label := c.sink, job.settings.CancelLabel
	c.post(func() { sink.SetButtonLabel(label) })
	metrics.JobsStarted.Inc()
	c.publish(JobStartedEvent{JobEvent: c.eventBase(job)})
	logger.Info(c.ctx, "Job started", zap.Uint64("generation", job.generation), zap.String("run_id", job.runID))
}

func (c *Controller) cancelLocked(reason string) {
	job := c.current
	switch job.state {
	case StateIdle:
		logger.Debug(c.ctx, "Cancel ignored, job has not started", zap.Uint64("generation", job.generation))
	case StateRunning:
		_, span := c.tracer.Start(c.ctx, "Controller.Cancel", trace.WithAttributes(
			attribute.Int64("job.generation", int64(job.generation)),
			attribute.String("job.cancel_reason", reason),
		))
		job.cancel(&CancelError{Reason: reason})
		c.terminateLocked(job, Cancelled(reason))
		span.End()
	default:
		// Already terminal: the hook has fired; signal again for idempotence only.
		if job.cancel != nil {
			job.cancel(&CancelError{Reason: reason})
		}
	}
}

// terminateLocked moves a running job to its terminal state and fires its
// completion hook. The hook fires at most once per job.
func (c *Controller) terminateLocked(job *Job, o Outcome) {
	if o.Kind == OutcomeCancelled {
		job.state = StateCancelled
		job.reason = o.Reason
	} else {
		job.state = StateCompleted
	}
	if !job.resolve(o) {
		return
	}

	elapsed := time.Since(job.startedAt)
	sink := c.sink
	var message string
	switch o.Kind {
	case OutcomeCompleted:
		message = job.settings.CompleteMessage
		c.post(func() { sink.SetStatusText(message) })
		logger.Info(c.ctx, "Job completed", zap.Uint64("generation", job.generation), zap.Duration("elapsed", elapsed))
	case OutcomeCancelled:
		message = CancellationMessage(o.Reason, job.settings.FallbackReason)
		c.post(func() {
			sink.SetStatusText(message)
			sink.ShowTransientMessage(message)
		})
		logger.Info(c.ctx, "Job cancelled", zap.Uint64("generation", job.generation), zap.String("reason", message))
	}

	metrics.JobsFinished.WithLabelValues(string(o.Kind)).Inc()
	metrics.RunDuration.WithLabelValues(string(o.Kind)).Observe(elapsed.Seconds())
	c.publish(JobFinishedEvent{JobEvent: c.eventBase(job), Outcome: o, Message: message, Elapsed: elapsed})
}

// run is the job goroutine. It only talks back through report and finish.
func (c *Controller) run(job *Job, task Task) {
	defer c.wg.Done()

	ctx, span := c.tracer.Start(job.ctx, "Task.Run", trace.WithAttributes(
		attribute.Int64("job.generation", int64(job.generation)),
		attribute.String("job.run_id", job.runID),
	))
	defer span.End()

	err := safelyRun(ctx, task, func(v int) { c.report(job, v) })

	var cancelErr *CancelError
	switch {
	case err == nil:
		c.finish(job, Completed())
	case errors.As(err, &cancelErr):
		c.finish(job, Cancelled(cancelErr.Reason))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error(c.ctx, "Job task failed", zap.Uint64("generation", job.generation), zap.Error(err))
		c.finish(job, Cancelled(err.Error()))
	}
}

// report delivers a progress value from job's goroutine if job is still
// current, still running, and the value moves progress forward.
func (c *Controller) report(job *Job, v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job != c.current {
		metrics.StaleNotifications.WithLabelValues("progress").Inc()
		return
	}
	if job.state != StateRunning || v <= job.progress || v > job.settings.Max {
		return
	}
	job.progress = v
	sink := c.sink
	c.post(func() { sink.SetProgress(v) })
	metrics.Progress.Set(float64(v))
	c.publish(JobProgressedEvent{JobEvent: c.eventBase(job), Progress: v, Max: job.settings.Max})
}

// finish is called once by job's goroutine when its task returns.
func (c *Controller) finish(job *Job, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job != c.current {
		metrics.StaleNotifications.WithLabelValues("terminal").Inc()
		logger.Debug(c.ctx, "Dropping notification from superseded job", zap.Uint64("generation", job.generation))
		return
	}
	if job.state != StateRunning {
		// Cancel already resolved it.
		return
	}
	c.terminateLocked(job, o)
}

func (c *Controller) post(fn func()) {
	if c.ui == nil || c.sink == nil {
		return
	}
	if !c.ui.Post(fn) {
		logger.Debug(c.ctx, "Presentation context stopped, dropping update")
	}
}

func (c *Controller) publish(ev events.TypedEvent) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(c.ctx, Topic, ev)
}

func (c *Controller) eventBase(job *Job) JobEvent {
	return JobEvent{Generation: job.generation, RunID: job.runID}
}
