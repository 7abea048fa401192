package server

import (
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/0gfoundation/0g-rav-redeemer/internal/redeemer"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// ServiceName is the gRPC health service reporting one variant.
func ServiceName(v voucher.Variant) string { return "redeemer." + string(v) }

// Status keeps the last cycle report of every variant and mirrors its
// outcome into the gRPC health server.
type Status struct {
	mu     sync.RWMutex
	last   map[voucher.Variant]redeemer.CycleReport
	health *health.Server
}

// NewStatus registers the variants as NOT_SERVING until their first cycle.
func NewStatus(variants ...voucher.Variant) *Status {
	s := &Status{
		last:   make(map[voucher.Variant]redeemer.CycleReport),
		health: health.NewServer(),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, v := range variants {
		s.health.SetServingStatus(ServiceName(v), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

func (s *Status) CycleFinished(r redeemer.CycleReport) {
	s.mu.Lock()
	s.last[r.Variant] = r
	s.mu.Unlock()

	st := healthpb.HealthCheckResponse_SERVING
	if r.Error != "" {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName(r.Variant), st)
}

// Reports returns a copy of the latest reports.
func (s *Status) Reports() map[voucher.Variant]redeemer.CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[voucher.Variant]redeemer.CycleReport, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}

func (s *Status) Health() *health.Server { return s.health }

// Shutdown flips every service to NOT_SERVING.
func (s *Status) Shutdown() { s.health.Shutdown() }
