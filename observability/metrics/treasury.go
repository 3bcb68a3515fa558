package metrics

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"protocolreserve/core/events"
)

// TreasuryMetrics records treasury activity for Prometheus.
type TreasuryMetrics struct {
	calls              *prometheus.CounterVec
	callLatency        *prometheus.HistogramVec
	conversions        *prometheus.CounterVec
	privateConversions *prometheus.CounterVec
	privateHops        prometheus.Histogram
	released           *prometheus.CounterVec
	reservesUpdated    *prometheus.CounterVec
	lastReleased       *prometheus.GaugeVec
}

var (
	treasuryOnce     sync.Once
	treasuryRegistry *TreasuryMetrics
)

// Treasury returns the process-wide treasury metrics, registering them with
// the default registerer on first use.
func Treasury() *TreasuryMetrics {
	treasuryOnce.Do(func() {
		treasuryRegistry = newTreasuryMetrics()
		prometheus.MustRegister(treasuryRegistry.collectors()...)
	})
	return treasuryRegistry
}

// NewTreasury builds unregistered metrics and registers them with reg.
func NewTreasury(reg prometheus.Registerer) (*TreasuryMetrics, error) {
	m := newTreasuryMetrics()
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newTreasuryMetrics() *TreasuryMetrics {
	return &TreasuryMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasury",
			Name:      "calls_total",
			Help:      "Executed treasury calls by method and outcome.",
		}, []string{"method", "outcome"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treasury",
			Name:      "call_duration_seconds",
			Help:      "Latency of executed treasury calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "converter",
			Name:      "conversions_total",
			Help:      "Conversions executed by converter, kind and whether the caller was a sibling converter.",
		}, []string{"converter", "kind", "private"}),
		privateConversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "converter",
			Name:      "private_conversions_total",
			Help:      "Private conversions settled per converter.",
		}, []string{"converter"}),
		privateHops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "treasury",
			Subsystem: "converter",
			Name:      "private_conversion_hops",
			Help:      "Sibling converters used per private conversion.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20},
		}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "release",
			Name:      "releases_total",
			Help:      "Releases of pool income by asset.",
		}, []string{"asset"}),
		reservesUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "reserve",
			Name:      "updates_total",
			Help:      "Pool reserve attributions by contract and asset.",
		}, []string{"contract", "asset"}),
		lastReleased: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "treasury",
			Subsystem: "release",
			Name:      "last_amount",
			Help:      "Amount of the most recent release per asset, in whole tokens assuming 18 decimals.",
		}, []string{"asset"}),
	}
}

func (m *TreasuryMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.calls,
		m.callLatency,
		m.conversions,
		m.privateConversions,
		m.privateHops,
		m.released,
		m.reservesUpdated,
		m.lastReleased,
	}
}

// ObserveCall records the outcome of an executed call.
func (m *TreasuryMetrics) ObserveCall(method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.callLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Emit updates the metrics derived from a published event.
func (m *TreasuryMetrics) Emit(ev events.Event) {
	if m == nil {
		return
	}
	switch e := ev.(type) {
	case events.ConversionExecuted:
		m.conversions.WithLabelValues(e.Converter.Hex(), e.Kind, strconv.FormatBool(e.Private)).Inc()
	case events.PrivateConversionSettled:
		m.privateConversions.WithLabelValues(e.Converter.Hex()).Inc()
		m.privateHops.Observe(float64(e.Hops))
	case events.FundsReleased:
		m.released.WithLabelValues(e.Asset.Hex()).Inc()
		m.lastReleased.WithLabelValues(e.Asset.Hex()).Set(wholeTokens(e.Amount))
	case events.AssetsReservesUpdated:
		m.reservesUpdated.WithLabelValues(e.Contract.Hex(), e.Asset.Hex()).Inc()
	}
}

func wholeTokens(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), big.NewFloat(1e18)).Float64()
	return f
}
