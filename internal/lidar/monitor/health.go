package monitor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/hesai-decode/internal/monitoring"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
)

// HealthService is the gRPC service name whose status follows frame flow.
const HealthService = "pandar.Decoder"

// FrameClock reports when the last frame was completed.
type FrameClock interface {
	LastFrameAt() time.Time
}

// HealthReporter publishes SERVING while frames keep arriving and
// NOT_SERVING once none has arrived for the stall window.
type HealthReporter struct {
	health *health.Server
	frames FrameClock
	stall  time.Duration
	clock  timeutil.Clock

	mu     sync.Mutex
	status healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthReporter watches frames. A zero stall defaults to two seconds.
func NewHealthReporter(frames FrameClock, stall time.Duration, clock timeutil.Clock) *HealthReporter {
	if stall <= 0 {
		stall = 2 * time.Second
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	h := &HealthReporter{
		health: health.NewServer(),
		frames: frames,
		stall:  stall,
		clock:  clock,
		status: healthpb.HealthCheckResponse_NOT_SERVING,
	}
	h.health.SetServingStatus(HealthService, h.status)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return h
}

// Check evaluates frame flow once and publishes any change.
func (h *HealthReporter) Check() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if last := h.frames.LastFrameAt(); !last.IsZero() && h.clock.Since(last) <= h.stall {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if status != h.status {
		monitoring.Logf("[health] %s: %s -> %s", HealthService, h.status, status)
		h.status = status
		h.health.SetServingStatus(HealthService, status)
	}
	return status
}

// Watch re-evaluates every interval until ctx is done.
func (h *HealthReporter) Watch(ctx context.Context, interval time.Duration) {
	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			h.Check()
		}
	}
}

// Register adds the health service to srv.
func (h *HealthReporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.health)
}

// Serve runs a gRPC server on addr carrying the health service until ctx
// is done.
func (h *HealthReporter) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return h.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener.
func (h *HealthReporter) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	h.Register(srv)
	go h.Watch(ctx, h.stall/2)

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("gRPC health service listening on %s", lis.Addr())
		errc <- srv.Serve(lis)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		h.health.Shutdown()
		srv.GracefulStop()
		return nil
	}
}
