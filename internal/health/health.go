// Package health reports datastore readiness through the standard gRPC health service.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger checks a dependency.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Checker owns a gRPC health server whose overall status follows the registered pingers.
type Checker struct {
	server  *grpchealth.Server
	pingers map[string]Pinger
	logger  *zap.Logger
}

// NewChecker returns a Checker. Nil pingers are skipped; with none the status is always SERVING.
func NewChecker(pingers map[string]Pinger, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	live := make(map[string]Pinger, len(pingers))
	for name, p := range pingers {
		if p != nil {
			live[name] = p
		}
	}
	return &Checker{server: grpchealth.NewServer(), pingers: live, logger: logger}
}

// Register adds the health service to s.
func (c *Checker) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, c.server)
}

// Server returns the underlying health server.
func (c *Checker) Server() *grpchealth.Server {
	return c.server
}

// Check pings every dependency once and updates the overall status.
func (c *Checker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, p := range c.pingers {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.PingContext(pingCtx)
		cancel()
		if err != nil {
			c.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	c.server.SetServingStatus("", status)
	return status
}

// Watch runs Check every interval until ctx is done, then marks the service NOT_SERVING.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) {
	c.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}
