package metrics

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "arbitrum-one")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.RedeemSuccess("horizon", "0xa1")
	m.RedeemSuccess("horizon", "0xa1")
	m.RedeemInvalid("legacy", "0xa2")
	m.SetTokensCollected("horizon", "0xa1", big.NewInt(400))
	m.ObserveRedeemDuration("horizon", "0xa1", 2*time.Second)
	m.SetBelowThreshold("legacy", 3)

	if got := testutil.ToFloat64(m.success.WithLabelValues("arbitrum-one", "horizon", "0xa1")); got != 2 {
		t.Errorf("success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.invalid.WithLabelValues("arbitrum-one", "legacy", "0xa2")); got != 1 {
		t.Errorf("invalid = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.collected.WithLabelValues("arbitrum-one", "horizon", "0xa1")); got != 400 {
		t.Errorf("collected = %v, want 400", got)
	}
	if got := testutil.ToFloat64(m.belowThreshold.WithLabelValues("arbitrum-one", "legacy")); got != 3 {
		t.Errorf("below threshold = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg, "n"); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg, "n"); err == nil {
		t.Error("expected AlreadyRegistered error")
	}
}
