// Package eventlog is a gateway that writes job lifecycle events from the
// event bus to the application log.
package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"jobctl/core/events"
	"jobctl/core/jobs"
	"jobctl/core/kernel"
	"jobctl/core/logger"
)

// Config holds configuration settings specific to the event log gateway.
type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	Topic       string `mapstructure:"topic"`
	LogProgress bool   `mapstructure:"log_progress"`
}

// DefaultConfig is used when the config file has no eventlog section.
func DefaultConfig() Config {
	return Config{Enabled: true, Topic: jobs.Topic}
}

// Gateway implements kernel.Gateway.
type Gateway struct {
	name     string
	mu       sync.Mutex
	started  bool
	config   Config
	eventBus events.Bus
	ctx      context.Context

	cancelEventSubscription func()
	done                    chan struct{}
}

// NewGateway creates a new event log gateway.
func NewGateway() kernel.Gateway {
	return &Gateway{
		name:   "eventlog",
		config: DefaultConfig(),
		ctx:    logger.WithComponentName(context.Background(), "eventlog"),
	}
}

// Name returns the unique name of the gateway.
func (g *Gateway) Name() string { return g.name }

// SetEventBus provides the gateway with the kernel's event bus.
func (g *Gateway) SetEventBus(bus events.Bus) {
	g.eventBus = bus
}

// Configure decodes the gateway's config section on top of the defaults.
// A topic change takes effect on the next Start.
func (g *Gateway) Configure(cfg interface{}) error {
	next := DefaultConfig()
	if cfg != nil {
		if err := mapstructure.Decode(cfg, &next); err != nil {
			return fmt.Errorf("failed to decode eventlog config: %w", err)
		}
	}
	if next.Topic == "" {
		next.Topic = jobs.Topic
	}

	g.mu.Lock()
	g.config = next
	g.mu.Unlock()
	logger.Debug(g.ctx, "Event log configured",
		zap.Bool("enabled", next.Enabled), zap.String("topic", next.Topic), zap.Bool("log_progress", next.LogProgress))
	return nil
}

// Start subscribes to the configured topic.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	if !g.config.Enabled {
		logger.Info(g.ctx, "Event log disabled")
		return nil
	}
	if g.eventBus == nil {
		return fmt.Errorf("eventlog: no event bus")
	}

	ch, cancel, err := g.eventBus.Subscribe(g.config.Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", g.config.Topic, err)
	}
	g.cancelEventSubscription = cancel
	g.done = make(chan struct{})
	go g.handleEvents(ch, g.done)

	g.started = true
	logger.Info(g.ctx, "Event log listening", zap.String("topic", g.config.Topic))
	return nil
}

// handleEvents logs events until the subscription is closed.
func (g *Gateway) handleEvents(ch <-chan events.TypedEvent, done chan struct{}) {
	defer close(done)
	for ev := range ch {
		g.mu.Lock()
		logProgress := g.config.LogProgress
		g.mu.Unlock()
		g.logEvent(ev, logProgress)
	}
}

func (g *Gateway) logEvent(ev events.TypedEvent, logProgress bool) {
	switch e := ev.(type) {
	case jobs.JobInitializedEvent:
		logger.Info(g.ctx, "Job initialized", zap.Uint64("generation", e.Generation), zap.String("run_id", e.RunID))
	case jobs.JobStartedEvent:
		logger.Info(g.ctx, "Job started", zap.Uint64("generation", e.Generation), zap.String("run_id", e.RunID))
	case jobs.JobProgressedEvent:
		if !logProgress {
			return
		}
		logger.Info(g.ctx, "Job progressed", zap.Uint64("generation", e.Generation),
			zap.Int("progress", e.Progress), zap.Int("max", e.Max))
	case jobs.JobFinishedEvent:
		msg := "Job completed"
		if e.Outcome.Kind == jobs.OutcomeCancelled {
			msg = "Job cancelled"
		}
		logger.Info(g.ctx, msg, zap.Uint64("generation", e.Generation), zap.String("run_id", e.RunID),
			zap.String("message", e.Message), zap.Duration("elapsed", e.Elapsed))
	default:
		logger.Debug(g.ctx, "Ignoring event", zap.String("type", ev.EventType()))
	}
}

// Stop cancels the subscription and waits for buffered events to be logged.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = false
	cancel, done := g.cancelEventSubscription, g.done
	g.cancelEventSubscription = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownTimeout returns the duration to wait for the gateway to stop gracefully.
func (g *Gateway) ShutdownTimeout() time.Duration {
	return 5 * time.Second
}

// Health reports whether the gateway is subscribed.
func (g *Gateway) Health(ctx context.Context) kernel.HealthStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case !g.config.Enabled:
		return kernel.HealthStatus{Status: "healthy", Message: "disabled"}
	case g.started:
		return kernel.HealthStatus{Status: "healthy", Message: "listening on " + g.config.Topic}
	default:
		return kernel.HealthStatus{Status: "unhealthy", Message: "not started"}
	}
}
