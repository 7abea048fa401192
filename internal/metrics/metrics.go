// Package metrics exposes the redemption counters and gauges through
// prometheus.
package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var redeemLabels = []string{"network", "variant", "allocation"}

// Metrics is shared by every pipeline of one process. The network label is
// fixed at construction.
type Metrics struct {
	network string

	success   *prometheus.CounterVec
	invalid   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	collected *prometheus.GaugeVec

	cycleErrors    *prometheus.CounterVec
	belowThreshold *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, network string) (*Metrics, error) {
	m := &Metrics{
		network: network,
		success: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_tap_redeem_success_total",
			Help: "RAVs redeemed successfully.",
		}, redeemLabels),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_tap_redeem_invalid_total",
			Help: "Redemptions rejected because the protocol was paused or the operator unauthorized.",
		}, redeemLabels),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_tap_redeem_failed_total",
			Help: "Redemptions that errored.",
		}, redeemLabels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexer_tap_redeem_duration_seconds",
			Help:    "Time from submission to mined receipt.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, redeemLabels),
		collected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexer_tap_tokens_collected",
			Help: "Tokens collected by the last redemption of an allocation.",
		}, redeemLabels),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_tap_cycle_errors_total",
			Help: "Redemption cycles that ended with an error.",
		}, []string{"network", "variant"}),
		belowThreshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexer_tap_below_threshold_ravs",
			Help: "Pending RAVs below the redemption threshold in the last cycle.",
		}, []string{"network", "variant"}),
	}
	for _, c := range []prometheus.Collector{
		m.success, m.invalid, m.failed, m.duration, m.collected, m.cycleErrors, m.belowThreshold,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RedeemSuccess(variant, allocation string) {
	m.success.WithLabelValues(m.network, variant, allocation).Inc()
}

func (m *Metrics) RedeemInvalid(variant, allocation string) {
	m.invalid.WithLabelValues(m.network, variant, allocation).Inc()
}

func (m *Metrics) RedeemFailed(variant, allocation string) {
	m.failed.WithLabelValues(m.network, variant, allocation).Inc()
}

func (m *Metrics) ObserveRedeemDuration(variant, allocation string, d time.Duration) {
	m.duration.WithLabelValues(m.network, variant, allocation).Observe(d.Seconds())
}

// SetTokensCollected records tokens as a float; precision loss above 2^53
// is acceptable for a gauge.
func (m *Metrics) SetTokensCollected(variant, allocation string, tokens *big.Int) {
	f, _ := new(big.Float).SetInt(tokens).Float64()
	m.collected.WithLabelValues(m.network, variant, allocation).Set(f)
}

func (m *Metrics) CycleError(variant string) {
	m.cycleErrors.WithLabelValues(m.network, variant).Inc()
}

func (m *Metrics) SetBelowThreshold(variant string, n int) {
	m.belowThreshold.WithLabelValues(m.network, variant).Set(float64(n))
}
