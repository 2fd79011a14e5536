// Package kernel wires the job controller to its surroundings: the
// presentation dispatcher, the event bus and the gateways. It owns their
// start and stop order.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"jobctl/core/config"
	"jobctl/core/dispatch"
	apperrors "jobctl/core/errors"
	"jobctl/core/events"
	"jobctl/core/jobs"
	"jobctl/core/logger"
	"jobctl/core/metrics"
)

// Gateway is an optional surface around the controller (metrics endpoint,
// event log, ...). Gateways are started after the presentation context and
// stopped, in reverse order, before the controller is closed.
// Name must be unique across all gateways.
type Gateway interface {
	// Name returns the unique name of the gateway.
	Name() string
	// SetEventBus provides the gateway with the kernel's event bus.
	SetEventBus(bus events.Bus)
	// Configure provides the gateway with its section of the config. Called before Start
	// and again on config reload.
	Configure(cfg interface{}) error
	// Start initializes and starts the gateway. It should block until the gateway is ready.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the gateway, honoring the provided context for cancellation.
	Stop(ctx context.Context) error
	// ShutdownTimeout returns the duration to wait for the gateway to stop gracefully.
	ShutdownTimeout() time.Duration
}

// Kernel is the central coordinator of the application.
type Kernel interface {
	// AddGateway registers a gateway. If the kernel is already running the gateway is started.
	AddGateway(g Gateway) error
	// GetGateway retrieves a gateway by its name.
	GetGateway(name string) (Gateway, bool)
	// ListGateways returns gateway names in registration order.
	ListGateways() []string

	// Controller returns the job controller.
	Controller() *jobs.Controller
	// EventBus returns the bus job events are published on.
	EventBus() events.Bus

	// Start starts the presentation context and then every gateway.
	Start(ctx context.Context) error
	// Stop stops gateways, cancels the current job and drains the presentation context.
	Stop(ctx context.Context) error
	// Running returns true if the kernel is currently running.
	Running() bool

	// Health returns the status of the controller and of every gateway that reports one.
	Health(ctx context.Context) map[string]HealthStatus
}

// HealthStatus represents the health of a component.
type HealthStatus struct {
	Status  string `json:"status"`  // "healthy", "degraded", "unhealthy"
	Message string `json:"message"` // Optional message
	Error   string `json:"error,omitempty"`
}

// HealthReporter is an optional interface for gateways to report their health.
type HealthReporter interface {
	Health(ctx context.Context) HealthStatus
}

// SettingsFromConfig maps the job section of the config onto controller settings.
func SettingsFromConfig(cfg config.JobConfig) jobs.Settings {
	return jobs.Settings{
		Max:             cfg.Max,
		Duration:        cfg.Duration,
		StartLabel:      cfg.StartLabel,
		CancelLabel:     cfg.CancelLabel,
		CompleteMessage: cfg.CompleteMessage,
		ResetReason:     cfg.ResetReason,
		FallbackReason:  cfg.FallbackReason,
	}
}

// New returns a Kernel whose controller reports to sink. sink may be nil for
// headless runs.
func New(cfg *config.Config, sink jobs.Sink) Kernel {
	bus := events.New()
	ui := dispatch.New()
	k := &kernel{
		config:     cfg,
		gateways:   make(map[string]Gateway),
		eventBus:   bus,
		ui:         ui,
		controller: jobs.NewController(SettingsFromConfig(cfg.Job), sink, ui, jobs.WithEventBus(bus)),
		ctx:        logger.WithComponentName(context.Background(), "kernel"),
	}
	// Watch for config changes and pass them on
	cfg.AddConfigChangeHook(func(newCfg *config.Config) {
		k.controller.Reconfigure(SettingsFromConfig(newCfg.Job))
		if err := logger.Configure(newCfg.LogLevel); err != nil {
			logger.Error(k.ctx, "Failed to apply log level", zap.Error(err))
		}

		k.mu.RLock()
		defer k.mu.RUnlock()
		for _, name := range k.order {
			g := k.gateways[name]
			if gatewayCfg, ok := newCfg.Gateways[name]; ok {
				if err := g.Configure(gatewayCfg); err != nil {
					logger.Error(k.ctx, "Gateway failed to re-configure on config change", zap.String("gateway", name), zap.Error(err))
				}
			}
		}
	})
	return k
}

// kernel is the concrete implementation of the Kernel interface.
type kernel struct {
	mu         sync.RWMutex       // Protects gateways, order and running.
	config     *config.Config     // Application configuration.
	gateways   map[string]Gateway // Registered gateways by name.
	order      []string           // Gateway names in registration order.
	running    bool
	eventBus   events.Bus
	ui         *dispatch.Dispatcher
	controller *jobs.Controller
	ctx        context.Context
}

func (k *kernel) Controller() *jobs.Controller { return k.controller }

func (k *kernel) EventBus() events.Bus { return k.eventBus }

// safelyExecute runs a function and recovers from panics, returning an error instead.
func (k *kernel) safelyExecute(ctx context.Context, gatewayName string, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Panic recovered in gateway",
				zap.String("gateway", gatewayName),
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("panic in gateway %s during %s: %v", gatewayName, operation, r)
		}
	}()
	return fn()
}

func (k *kernel) gatewayTimeout() time.Duration {
	if k.config.Timeouts.GatewayOperation <= 0 {
		return 10 * time.Second
	}
	return time.Duration(k.config.Timeouts.GatewayOperation) * time.Second
}

// AddGateway registers a new gateway with the kernel.
func (k *kernel) AddGateway(g Gateway) error {
	if g == nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "gateway is nil")
	}
	name := g.Name()
	if name == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "gateway name is empty")
	}

	k.mu.Lock()
	if _, exists := k.gateways[name]; exists {
		k.mu.Unlock()
		logger.Warn(k.ctx, "Attempted to add duplicate gateway", zap.String("gateway", name))
		return fmt.Errorf("gateway %s: %w", name, apperrors.ErrAlreadyExists)
	}
	if gatewayConfig, ok := k.config.Gateways[name]; ok {
		if err := k.safelyExecute(k.ctx, name, "Configure", func() error { return g.Configure(gatewayConfig) }); err != nil {
			k.mu.Unlock()
			logger.Error(k.ctx, "Failed to configure gateway", zap.String("gateway", name), zap.Error(err))
			return fmt.Errorf("configure gateway %s: %w", name, err)
		}
	}
	k.gateways[name] = g
	k.order = append(k.order, name)
	running := k.running
	k.mu.Unlock()

	g.SetEventBus(k.eventBus)
	logger.Info(k.ctx, "Gateway added", zap.String("gateway", name))

	if running {
		if err := k.startGateway(k.ctx, otel.Tracer("jobctl-kernel"), g); err != nil {
			k.mu.Lock()
			delete(k.gateways, name)
			for i, n := range k.order {
				if n == name {
					k.order = append(k.order[:i], k.order[i+1:]...)
					break
				}
			}
			k.mu.Unlock()
			return err
		}
	}
	return nil
}

// GetGateway retrieves a gateway by its name.
func (k *kernel) GetGateway(name string) (Gateway, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	g, ok := k.gateways[name]
	return g, ok
}

// ListGateways returns gateway names in registration order.
func (k *kernel) ListGateways() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, len(k.order))
	copy(names, k.order)
	return names
}

func (k *kernel) startGateway(ctx context.Context, tracer trace.Tracer, g Gateway) error {
	gatewayCtx, span := tracer.Start(ctx, fmt.Sprintf("Gateway.Start: %s", g.Name()), trace.WithAttributes(attribute.String("gateway.name", g.Name())))
	defer span.End()

	metrics.GatewayStartCounter.WithLabelValues(g.Name(), "attempt").Inc()
	err := k.safelyExecute(gatewayCtx, g.Name(), "Start", func() error {
		startCtx, startCancel := context.WithTimeout(gatewayCtx, k.gatewayTimeout())
		defer startCancel()
		return g.Start(startCtx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.GatewayStartCounter.WithLabelValues(g.Name(), "failed").Inc()
		logger.Error(ctx, "Failed to start gateway", zap.String("gateway", g.Name()), zap.Error(err))
		return fmt.Errorf("start gateway %s: %w", g.Name(), err)
	}
	metrics.GatewayStartCounter.WithLabelValues(g.Name(), "success").Inc()
	logger.Info(ctx, "Gateway started", zap.String("gateway", g.Name()))
	return nil
}

func (k *kernel) stopGateway(ctx context.Context, tracer trace.Tracer, g Gateway) error {
	timeout := g.ShutdownTimeout()
	if timeout <= 0 {
		timeout = k.gatewayTimeout()
	}
	stopCtx, stopCancel := context.WithTimeout(ctx, timeout)
	defer stopCancel()

	gatewayCtx, span := tracer.Start(stopCtx, fmt.Sprintf("Gateway.Stop: %s", g.Name()), trace.WithAttributes(attribute.String("gateway.name", g.Name())))
	defer span.End()

	metrics.GatewayStopCounter.WithLabelValues(g.Name(), "attempt").Inc()
	err := k.safelyExecute(gatewayCtx, g.Name(), "Stop", func() error {
		return g.Stop(gatewayCtx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.GatewayStopCounter.WithLabelValues(g.Name(), "failed").Inc()
		logger.Error(ctx, "Failed to stop gateway", zap.String("gateway", g.Name()), zap.Error(err))
		return fmt.Errorf("stop gateway %s: %w", g.Name(), err)
	}
	metrics.GatewayStopCounter.WithLabelValues(g.Name(), "success").Inc()
	logger.Info(ctx, "Gateway stopped", zap.String("gateway", g.Name()))
	return nil
}

// Start starts the presentation context and then every gateway in registration order.
// If a gateway fails the ones already started are stopped again.
func (k *kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		logger.Warn(ctx, "Kernel already running, cannot start again.")
		return fmt.Errorf("kernel: %w", apperrors.ErrAlreadyRunning)
	}
	k.running = true
	toStart := make([]Gateway, 0, len(k.order))
	for _, name := range k.order {
		toStart = append(toStart, k.gateways[name])
	}
	k.mu.Unlock()

	tracer := otel.Tracer("jobctl-kernel")
	ctx, span := tracer.Start(ctx, "Kernel.Start")
	defer span.End()

	logger.Info(ctx, "Starting kernel...")
	k.ui.Start()

	for i, g := range toStart {
		if err := k.startGateway(ctx, tracer, g); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			// best-effort stop previously started gateways
			for j := i - 1; j >= 0; j-- {
				_ = k.stopGateway(context.Background(), tracer, toStart[j])
			}
			k.mu.Lock()
			k.running = false
			k.mu.Unlock()
			return err
		}
	}
	logger.Info(ctx, "Kernel started successfully.")
	return nil
}

// Stop stops gateways in reverse order, closes the controller (cancelling a
// running job) and drains the presentation context. It returns the first error.
func (k *kernel) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		logger.Warn(ctx, "Kernel not running, cannot stop.")
		return fmt.Errorf("kernel: %w", apperrors.ErrNotRunning)
	}
	k.running = false
	toStop := make([]Gateway, 0, len(k.order))
	for i := len(k.order) - 1; i >= 0; i-- {
		toStop = append(toStop, k.gateways[k.order[i]])
	}
	k.mu.Unlock()

	tracer := otel.Tracer("jobctl-kernel")
	ctx, span := tracer.Start(ctx, "Kernel.Stop")
	defer span.End()

	logger.Info(ctx, "Stopping kernel...")

	var firstErr error
	for _, g := range toStop {
		if err := k.stopGateway(ctx, tracer, g); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := k.controller.Close(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close controller: %w", err)
	}
	if err := k.ui.Stop(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stop presentation context: %w", err)
	}
	k.eventBus.Close()

	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
	}
	logger.Info(ctx, "Kernel stopped.")
	return firstErr
}

// Running returns true if the kernel is currently running.
func (k *kernel) Running() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Health returns the status of the controller and every gateway implementing HealthReporter.
func (k *kernel) Health(ctx context.Context) map[string]HealthStatus {
	out := make(map[string]HealthStatus)

	status := HealthStatus{Status: "healthy", Message: "no job yet"}
	if !k.Running() {
		status = HealthStatus{Status: "unhealthy", Message: "kernel not running"}
	} else if snap, ok := k.controller.Current(); ok {
		status.Message = fmt.Sprintf("job #%d %s at %d/%d", snap.Generation, snap.State, snap.Progress, snap.Max)
	}
	out["controller"] = status

	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, name := range k.order {
		if reporter, ok := k.gateways[name].(HealthReporter); ok {
			out[name] = reporter.Health(ctx)
		}
	}
	return out
}
