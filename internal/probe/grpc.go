package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the advisor.
const ServiceName = "advisor"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCServer exposes the Checker through grpc.health.v1 for orchestrators.
type GRPCServer struct {
	checker  *Checker
	interval time.Duration
	logger   *slog.Logger

	srv    *grpc.Server
	health *health.Server
}

// NewGRPCServer creates a health server that re-runs checks every interval.
func NewGRPCServer(checker *Checker, interval time.Duration, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{checker: checker, interval: interval, logger: logger, srv: srv, health: hs}
}

// Serve listens on addr and blocks until ctx is done or serving fails.
func (g *GRPCServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener.
func (g *GRPCServer) ServeListener(ctx context.Context, lis net.Listener) error {
	g.refresh(ctx)
	go g.poll(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- g.srv.Serve(lis) }()
	g.logger.Info("gRPC health server listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		g.health.Shutdown()
		g.srv.GracefulStop()
		return nil
	case err := <-errCh:
		return fmt.Errorf("grpc health server: %w", err)
	}
}

func (g *GRPCServer) poll(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refresh(ctx)
		}
	}
}

func (g *GRPCServer) refresh(ctx context.Context) {
	report := g.checker.Run(ctx)
	for _, r := range report.Checks {
		g.health.SetServingStatus(ServiceName+"."+r.Name, servingStatus(r.Healthy))
	}
	status := servingStatus(report.Healthy)
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// CheckRemote dials addr and asks for the status of service. It backs the
// healthcheck command used by container probes.
func CheckRemote(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if err := waitForReady(ctx, conn); err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health server at %s not ready: %w", addr, err)
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}
