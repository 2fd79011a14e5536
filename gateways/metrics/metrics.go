// Package metrics is a gateway exposing Prometheus metrics and a health
// endpoint over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jobctl/core/events"
	"jobctl/core/kernel"
	"jobctl/core/logger"
)

// DefaultAddress is the listen address used when none is configured.
const DefaultAddress = ":9464"

// Config holds configuration settings specific to the metrics gateway.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// HealthFunc reports the health of the application's components.
type HealthFunc func(ctx context.Context) map[string]kernel.HealthStatus

// Option customises a Gateway.
type Option func(*Gateway)

// WithHealth makes /healthz report the statuses returned by fn.
func WithHealth(fn HealthFunc) Option {
	return func(g *Gateway) { g.health = fn }
}

// Gateway implements kernel.Gateway.
type Gateway struct {
	name   string
	mu     sync.Mutex
	config Config
	health HealthFunc
	ctx    context.Context

	server   *http.Server
	listener net.Listener
	served   chan struct{}
}

// NewGateway creates a new metrics gateway. It is disabled until configured otherwise.
func NewGateway(opts ...Option) kernel.Gateway {
	g := &Gateway{
		name:   "metrics",
		config: Config{Address: DefaultAddress},
		ctx:    logger.WithComponentName(context.Background(), "metrics"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the unique name of the gateway.
func (g *Gateway) Name() string { return g.name }

// SetEventBus is a no-op; metrics are collected through the Prometheus registry.
func (g *Gateway) SetEventBus(events.Bus) {}

// Configure decodes the gateway's config section. An address change applies on the next Start.
func (g *Gateway) Configure(cfg interface{}) error {
	next := Config{Address: DefaultAddress}
	if cfg != nil {
		if err := mapstructure.Decode(cfg, &next); err != nil {
			return fmt.Errorf("failed to decode metrics config: %w", err)
		}
	}
	if next.Address == "" {
		next.Address = DefaultAddress
	}
	g.mu.Lock()
	g.config = next
	g.mu.Unlock()
	return nil
}

// Router returns the HTTP routes served by the gateway.
func (g *Gateway) Router() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", g.handleHealth)
	return router
}

func (g *Gateway) handleHealth(c *gin.Context) {
	if g.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	components := g.health(c.Request.Context())
	status, code := "healthy", http.StatusOK
	for _, s := range components {
		if s.Status == "unhealthy" {
			status, code = "unhealthy", http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(code, gin.H{"status": status, "components": components})
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		return nil
	}
	if !g.config.Enabled {
		logger.Info(g.ctx, "Metrics endpoint disabled")
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.config.Address, err)
	}
	g.listener = ln
	g.server = &http.Server{
		Handler:           g.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.served = make(chan struct{})

	go func(srv *http.Server, served chan struct{}) {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(g.ctx, "Metrics server stopped unexpectedly", zap.Error(err))
		}
	}(g.server, g.served)

	logger.Info(g.ctx, "Metrics endpoint listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the address the gateway is listening on, or "" when it is not serving.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop shuts the HTTP server down gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv, served := g.server, g.served
	g.server, g.listener = nil, nil
	g.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	<-served
	return nil
}

// ShutdownTimeout returns the duration to wait for the gateway to stop gracefully.
func (g *Gateway) ShutdownTimeout() time.Duration {
	return 5 * time.Second
}

// Health reports whether the endpoint is serving.
func (g *Gateway) Health(ctx context.Context) kernel.HealthStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case !g.config.Enabled:
		return kernel.HealthStatus{Status: "healthy", Message: "disabled"}
	case g.listener != nil:
		return kernel.HealthStatus{Status: "healthy", Message: "listening on " + g.listener.Addr().String()}
	default:
		return kernel.HealthStatus{Status: "unhealthy", Message: "not serving"}
	}
}
