package kernel_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobctl/core/config"
	apperrors "jobctl/core/errors"
	"jobctl/core/events"
	"jobctl/core/jobs"
	"jobctl/core/kernel"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recGateway struct {
	name      string
	rec       *recorder
	failStart bool
	panicStop bool
	cfg       interface{}
	bus       events.Bus
}

func (g *recGateway) Name() string { return g.name }
func (g *recGateway) SetEventBus(bus events.Bus) { g.bus = bus }
func (g *recGateway) ShutdownTimeout() time.Duration { return time.Second }
func (g *recGateway) Configure(cfg interface{}) error {
	g.cfg = cfg
	g.rec.add("gateway:" + g.name + ":configure")
	return nil
}
func (g *recGateway) Start(ctx context.Context) error {
	g.rec.add("gateway:" + g.name + ":start")
	if g.failStart {
		return errors.New("simulated start failure")
	}
	return nil
}
func (g *recGateway) Stop(ctx context.Context) error {
	g.rec.add("gateway:" + g.name + ":stop")
	if g.panicStop {
		panic("simulated stop panic")
	}
	return nil
}
func (g *recGateway) Health(ctx context.Context) kernel.HealthStatus {
	return kernel.HealthStatus{Status: "healthy", Message: g.name}
}

// statusSink keeps the last status text shown.
type statusSink struct {
	mu     sync.Mutex
	status string
}

func (s *statusSink) SetProgress(int) {}
func (s *statusSink) SetButtonLabel(string) {}
func (s *statusSink) ShowTransientMessage(string) {}
func (s *statusSink) SetStatusText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = text
}
func (s *statusSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func testConfig() *config.Config {
	cfg := config.GenerateDefaultConfig()
	cfg.Job.Max = 10
	cfg.Job.Duration = 50 * time.Millisecond
	cfg.Gateways = map[string]map[string]interface{}{
		"a": {"enabled": true},
	}
	return cfg
}

func TestKernelStartStopOrder(t *testing.T) {
	rec := &recorder{}
	k := kernel.New(testConfig(), nil)
	a := &recGateway{name: "a", rec: rec}
	b := &recGateway{name: "b", rec: rec}
	require.NoError(t, k.AddGateway(a))
	require.NoError(t, k.AddGateway(b))
	require.Equal(t, []string{"a", "b"}, k.ListGateways())
	require.NotNil(t, a.cfg, "gateway with a config section is configured")
	require.Nil(t, b.cfg)
	require.NotNil(t, a.bus)

	ctx := context.Background()
	require.NoError(t, k.Start(ctx))
	require.True(t, k.Running())
	require.True(t, errors.Is(k.Start(ctx), apperrors.ErrAlreadyRunning))

	require.NoError(t, k.Stop(ctx))
	require.False(t, k.Running())
	require.True(t, errors.Is(k.Stop(ctx), apperrors.ErrNotRunning))

	require.Equal(t, []string{
		"gateway:a:configure",
		"gateway:a:start",
		"gateway:b:start",
		"gateway:b:stop",
		"gateway:a:stop",
	}, rec.all())
}

func TestKernelRejectsBadGateways(t *testing.T) {
	k := kernel.New(testConfig(), nil)
	require.True(t, errors.Is(k.AddGateway(nil), apperrors.ErrInvalidInput))
	require.True(t, errors.Is(k.AddGateway(&recGateway{rec: &recorder{}}), apperrors.ErrInvalidInput))

	require.NoError(t, k.AddGateway(&recGateway{name: "a", rec: &recorder{}}))
	require.True(t, errors.Is(k.AddGateway(&recGateway{name: "a", rec: &recorder{}}), apperrors.ErrAlreadyExists))
}

func TestKernelStartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	k := kernel.New(testConfig(), nil)
	require.NoError(t, k.AddGateway(&recGateway{name: "a", rec: rec}))
	require.NoError(t, k.AddGateway(&recGateway{name: "b", rec: rec, failStart: true}))

	require.Error(t, k.Start(context.Background()))
	require.False(t, k.Running())
	require.Equal(t, []string{
		"gateway:a:configure",
		"gateway:a:start",
		"gateway:b:start",
		"gateway:a:stop",
	}, rec.all())
}

func TestKernelStopRecoversGatewayPanic(t *testing.T) {
	rec := &recorder{}
	k := kernel.New(testConfig(), nil)
	require.NoError(t, k.AddGateway(&recGateway{name: "a", rec: rec}))
	require.NoError(t, k.AddGateway(&recGateway{name: "b", rec: rec, panicStop: true}))
	require.NoError(t, k.Start(context.Background()))

	err := k.Stop(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic in gateway b")
	require.Contains(t, rec.all(), "gateway:a:stop", "remaining gateways are still stopped")
}

func TestKernelAddGatewayWhileRunning(t *testing.T) {
	rec := &recorder{}
	k := kernel.New(testConfig(), nil)
	require.NoError(t, k.Start(context.Background()))
	defer k.Stop(context.Background())

	require.NoError(t, k.AddGateway(&recGateway{name: "late", rec: rec}))
	require.Equal(t, []string{"gateway:late:start"}, rec.all())

	require.Error(t, k.AddGateway(&recGateway{name: "broken", rec: rec, failStart: true}))
	_, ok := k.GetGateway("broken")
	require.False(t, ok)
	require.Equal(t, []string{"late"}, k.ListGateways())
}

func TestKernelRunsJobThroughSink(t *testing.T) {
	sink := &statusSink{}
	k := kernel.New(testConfig(), sink)
	require.NoError(t, k.AddGateway(&recGateway{name: "a", rec: &recorder{}}))
	require.NoError(t, k.Start(context.Background()))

	c := k.Controller()
	c.Toggle()
	snap, ok := c.Current()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := c.Wait(ctx, snap.Generation)
	require.NoError(t, err)
	require.Equal(t, jobs.Completed(), outcome)

	health := k.Health(ctx)
	require.Equal(t, "healthy", health["controller"].Status)
	require.Contains(t, health["controller"].Message, "completed")
	require.Equal(t, "a", health["a"].Message)

	require.NoError(t, k.Stop(ctx))
	require.Equal(t, "Job is complete", sink.last())
	require.Equal(t, "unhealthy", k.Health(ctx)["controller"].Status)
}

func TestKernelStopCancelsRunningJob(t *testing.T) {
	cfg := testConfig()
	cfg.Job.Duration = 10 * time.Second
	sink := &statusSink{}
	k := kernel.New(cfg, sink)
	require.NoError(t, k.Start(context.Background()))

	k.Controller().Toggle()
	require.NoError(t, k.Stop(context.Background()))

	snap, _ := k.Controller().Current()
	require.Equal(t, jobs.StateCancelled, snap.State)
	require.Equal(t, "Shutting down", sink.last())
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.GenerateDefaultConfig()
	require.Equal(t, jobs.DefaultSettings(), kernel.SettingsFromConfig(cfg.Job))
}
