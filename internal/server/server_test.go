package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/0gfoundation/0g-rav-redeemer/internal/metrics"
	"github.com/0gfoundation/0g-rav-redeemer/internal/redeemer"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

func init() { gin.SetMode(gin.TestMode) }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func healthOf(t *testing.T, s *Status, v voucher.Variant) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName(v)})
	if err != nil {
		t.Fatalf("health check %s: %v", v, err)
	}
	return resp.GetStatus()
}

func TestHealthz(t *testing.T) {
	w := get(t, NewRouter(NewStatus(), prometheus.NewRegistry()), "/healthz")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Errorf("healthz = %d %s", w.Code, w.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, "testnet")
	if err != nil {
		t.Fatal(err)
	}
	m.RedeemSuccess("legacy", "0xabc")

	w := get(t, NewRouter(NewStatus(), reg), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "indexer_tap_redeem_success_total") {
		t.Errorf("metrics body missing counter:\n%s", w.Body)
	}
}

func TestStatus_ReportsLastCycle(t *testing.T) {
	s := NewStatus(voucher.Legacy, voucher.Horizon)
	s.CycleFinished(redeemer.CycleReport{ID: "a", Variant: voucher.Legacy, Redeemed: 1})
	s.CycleFinished(redeemer.CycleReport{ID: "b", Variant: voucher.Legacy, Redeemed: 3})

	w := get(t, NewRouter(s, prometheus.NewRegistry()), "/api/status")
	var body struct {
		Cycles map[string]redeemer.CycleReport `json:"cycles"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body)
	}
	if got := body.Cycles["legacy"]; got.ID != "b" || got.Redeemed != 3 {
		t.Errorf("legacy report = %+v", got)
	}
	if _, ok := body.Cycles["horizon"]; ok {
		t.Error("horizon has no cycle yet")
	}
}

func TestStatus_HealthFollowsCycleOutcome(t *testing.T) {
	s := NewStatus(voucher.Legacy, voucher.Horizon)
	if got := healthOf(t, s, voucher.Horizon); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before first cycle = %v", got)
	}

	s.CycleFinished(redeemer.CycleReport{Variant: voucher.Horizon})
	if got := healthOf(t, s, voucher.Horizon); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after success = %v", got)
	}
	s.CycleFinished(redeemer.CycleReport{Variant: voucher.Horizon, Error: "subgraph down"})
	if got := healthOf(t, s, voucher.Horizon); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after failure = %v", got)
	}
	if got := healthOf(t, s, voucher.Legacy); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("legacy affected by horizon: %v", got)
	}
}

func TestStatus_ShutdownStopsServing(t *testing.T) {
	s := NewStatus(voucher.Legacy)
	s.CycleFinished(redeemer.CycleReport{Variant: voucher.Legacy})
	s.Shutdown()
	if got := healthOf(t, s, voucher.Legacy); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after shutdown = %v", got)
	}
}
